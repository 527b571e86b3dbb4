package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "sjsage522/modaggregator/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// Test with default values
	config := LoadConfig()
	assert.Equal(t, "modaggregator.db", config.DatabasePath)
	assert.Equal(t, 0, config.RedisDB)
	assert.Equal(t, 1, config.RedisStreamCount)
	assert.Equal(t, "", config.MemcacheAddr)
	assert.Equal(t, time.Hour, config.CheckInterval)
	assert.Equal(t, 30*time.Second, config.FetchTimeout)
	assert.Equal(t, int64(10<<20), config.FetchMaxBytes)
	assert.NoError(t, config.Validate())
	assert.False(t, config.IsProduction())

	// Test with environment variables
	t.Setenv("REDIS_ADDR", "redis.example.com:6379")
	t.Setenv("REDIS_DB", "1")
	t.Setenv("REDIS_STREAM_COUNT", "4")
	t.Setenv("MEMCACHE_ADDR", "memcache.example.com:11211")
	t.Setenv("CHECK_INTERVAL_SECONDS", "30")
	t.Setenv("FETCH_MAX_BYTES", "2048")
	t.Setenv("MODAGG_ENVIRONMENT", "production")

	config = LoadConfig()
	assert.Equal(t, "redis.example.com:6379", config.RedisAddr)
	assert.Equal(t, 1, config.RedisDB)
	assert.Equal(t, 4, config.RedisStreamCount)
	assert.Equal(t, "memcache.example.com:11211", config.MemcacheAddr)
	assert.Equal(t, 30*time.Second, config.CheckInterval)
	assert.Equal(t, int64(2048), config.FetchMaxBytes)
	assert.True(t, config.IsProduction())
}

func TestLoadConfigBadNumbersUseDefaults(t *testing.T) {
	t.Setenv("CHECK_INTERVAL_SECONDS", "soon")
	assert.Equal(t, time.Hour, LoadConfig().CheckInterval)
}

func TestValidate(t *testing.T) {
	config := LoadConfig()
	config.FetchTimeout = 0
	err := config.Validate()
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))

	config = LoadConfig()
	config.RedisStreamCount = 0
	assert.Error(t, config.Validate())
}

const sitesYAML = `
sites:
  - name: Nexus
    url: https://nexus.example
    parser_config:
      list_url: https://nexus.example/mods/latest
      list_selector: .mod-tile
      title_selector: h3
      url_selector: a.title
      version_selector: .version
      updated_selector: time
  - name: Workshop
    url: https://workshop.example/
    parser_config:
      list_selector: .item
`

func TestLoadSites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sitesYAML), 0o644))

	sites, err := LoadSites(path)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "Nexus", sites[0].Name)
	assert.Equal(t, ".mod-tile", sites[0].Config.ItemSelector)
	assert.Equal(t, "https://nexus.example/mods/latest", sites[0].ListingURL())
	assert.Equal(t, "https://nexus.example", sites[0].BaseURL())
	assert.Equal(t, "time", sites[0].Config.UpdatedSelector)
	assert.Equal(t, "https://workshop.example/", sites[1].ListingURL())
	assert.Empty(t, sites[1].Config.TitleSelector)
}

func TestParseSitesValidation(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
		want string
	}{
		{name: "no name", doc: "sites:\n  - url: https://a.example\n    parser_config: {list_selector: .x}\n", want: "missing name"},
		{name: "no url", doc: "sites:\n  - name: A\n    parser_config: {list_selector: .x}\n", want: "missing url"},
		{name: "no list selector", doc: "sites:\n  - name: A\n    url: https://a.example\n", want: "missing list_selector"},
		{name: "duplicate", doc: "sites:\n  - {name: A, url: https://a.example, parser_config: {list_selector: .x}}\n  - {name: B, url: https://a.example, parser_config: {list_selector: .y}}\n", want: "duplicate"},
		{name: "bad yaml", doc: "sites: [", want: "parse sites file"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSites([]byte(tc.doc))
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := LoadSites(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
