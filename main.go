package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sjsage522/modaggregator/config"
	"sjsage522/modaggregator/internal"
	"sjsage522/modaggregator/internal/detector"
	"sjsage522/modaggregator/internal/pagecache"
	"sjsage522/modaggregator/logger"
	"sjsage522/modaggregator/services/cache"
	"sjsage522/modaggregator/services/fetcher"
	"sjsage522/modaggregator/services/monitoring"
	"sjsage522/modaggregator/services/publisher"
	"sjsage522/modaggregator/services/snapshot"
	"sjsage522/modaggregator/services/store"
	"sjsage522/modaggregator/services/worker"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.Default.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration
func loadConfig() (*config.Config, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config) (*internal.Dependencies, error) {
	log := logger.Default
	deps := &internal.Dependencies{}

	db, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	deps.DB = db
	deps.Sites = store.NewSites(db)
	deps.Records = store.NewRecords(db)
	deps.Notifications = store.NewNotifications(db)

	snapshots, err := snapshot.NewStore(db, cfg.SnapshotDir)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Snapshots = snapshots

	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.Metrics = monitoring.NewMetrics(deps.Registry)

	// Initialize cache service
	deps.Cache = cache.NewMemoryService()
	if cfg.MemcacheAddr != "" {
		mc := cache.NewMemcacheService(cfg.MemcacheAddr)
		if err := mc.Ping(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.MemcacheAddr).Msg("Memcache unavailable, using in-memory rate limit cache")
		} else {
			deps.Cache = mc
			logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
		}
	}

	f := fetcher.NewHTTPFetcher(fetcher.Options{
		Timeout:   cfg.FetchTimeout,
		MaxBytes:  cfg.FetchMaxBytes,
		BlockTime: cfg.RateLimitBlock,
	}, deps.Cache, deps.Metrics)

	deps.Resolver = pagecache.NewResolver(snapshots, f,
		pagecache.WithLegacy(snapshot.NewLegacyScanner(cfg.LegacySnapshotDir)),
		pagecache.WithMetrics(deps.Metrics),
	)
	deps.Detector = detector.New(deps.Records, deps.Metrics)

	// Initialize notifiers
	notifiers := publisher.MultiNotifier{publisher.NewStoreNotifier(deps.Notifications)}
	if cfg.RedisAddr != "" {
		redisPublisher := publisher.NewRedisPublisher(
			cfg.RedisAddr,
			cfg.RedisDB,
			cfg.RedisStreamPrefix,
			cfg.RedisStreamCount,
			cfg.RedisStreamMaxLength,
		)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := redisPublisher.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unavailable, change events are only stored")
			redisPublisher.Close()
		} else {
			notifiers = append(notifiers, redisPublisher)
			logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)",
				cfg.RedisAddr, cfg.RedisDB, cfg.RedisStreamPrefix)
		}
	}
	deps.Notifier = notifiers

	return deps, nil
}

// newWorker builds the update-check worker over deps
func newWorker(deps *internal.Dependencies, cfg *config.Config) *worker.Worker {
	return worker.NewWorker(deps.Sites, deps.Resolver, deps.Detector, deps.Notifier, deps.Metrics, cfg.CheckInterval)
}

// importSites upserts every site of the YAML file at path
func importSites(ctx context.Context, deps *internal.Dependencies, path string) (int, error) {
	sites, err := config.LoadSites(path)
	if err != nil {
		return 0, err
	}
	for i := range sites {
		if _, err := deps.Sites.Upsert(ctx, &sites[i]); err != nil {
			return i, err
		}
	}
	return len(sites), nil
}
