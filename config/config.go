package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	apperrors "sjsage522/modaggregator/pkg/errors"
)

// Config represents the application configuration
type Config struct {
	// Storage configuration
	DatabasePath      string
	SnapshotDir       string
	LegacySnapshotDir string
	SitesFile         string

	// Memcache configuration
	MemcacheAddr string

	// Redis configuration
	RedisAddr            string
	RedisDB              int
	RedisStreamPrefix    string
	RedisStreamCount     int
	RedisStreamMaxLength int

	// Check configuration
	CheckInterval  time.Duration
	FetchTimeout   time.Duration
	FetchMaxBytes  int64
	RateLimitBlock time.Duration

	// Metrics server address; empty disables it
	MetricsAddr string

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	return &Config{
		DatabasePath:         getEnv("DATABASE_PATH", "modaggregator.db"),
		SnapshotDir:          getEnv("SNAPSHOT_DIR", "snapshots"),
		LegacySnapshotDir:    getEnv("LEGACY_SNAPSHOT_DIR", "saved_pages"),
		SitesFile:            getEnv("SITES_FILE", ""),
		MemcacheAddr:         getEnv("MEMCACHE_ADDR", ""),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RedisStreamPrefix:    getEnv("REDIS_STREAM", "mod_updates"),
		RedisStreamCount:     getEnvInt("REDIS_STREAM_COUNT", 1),
		RedisStreamMaxLength: getEnvInt("REDIS_STREAM_MAX_LENGTH", 1000),
		CheckInterval:        time.Duration(getEnvInt("CHECK_INTERVAL_SECONDS", 3600)) * time.Second,
		FetchTimeout:         time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 30)) * time.Second,
		FetchMaxBytes:        int64(getEnvInt("FETCH_MAX_BYTES", 10<<20)),
		RateLimitBlock:       time.Duration(getEnvInt("RATE_LIMIT_BLOCK_SECONDS", 300)) * time.Second,
		MetricsAddr:          getEnv("METRICS_ADDR", ":9090"),
		Environment:          getEnv("MODAGG_ENVIRONMENT", "development"),
	}
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	switch {
	case c.DatabasePath == "":
		return apperrors.NewConfig("DATABASE_PATH must not be empty", nil)
	case c.SnapshotDir == "":
		return apperrors.NewConfig("SNAPSHOT_DIR must not be empty", nil)
	case c.CheckInterval <= 0:
		return apperrors.NewConfig(fmt.Sprintf("CHECK_INTERVAL_SECONDS must be positive, got %v", c.CheckInterval), nil)
	case c.FetchTimeout <= 0:
		return apperrors.NewConfig(fmt.Sprintf("FETCH_TIMEOUT_SECONDS must be positive, got %v", c.FetchTimeout), nil)
	case c.FetchMaxBytes <= 0:
		return apperrors.NewConfig(fmt.Sprintf("FETCH_MAX_BYTES must be positive, got %d", c.FetchMaxBytes), nil)
	case c.RateLimitBlock <= 0:
		return apperrors.NewConfig(fmt.Sprintf("RATE_LIMIT_BLOCK_SECONDS must be positive, got %v", c.RateLimitBlock), nil)
	case c.RedisStreamCount < 1:
		return apperrors.NewConfig(fmt.Sprintf("REDIS_STREAM_COUNT must be at least 1, got %d", c.RedisStreamCount), nil)
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt parses an integer environment variable. Unparseable values fall
// back to the default.
func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return value
}
