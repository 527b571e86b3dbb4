package internal

import (
	"errors"

	"sjsage522/modaggregator/internal/detector"
	"sjsage522/modaggregator/internal/pagecache"
	"sjsage522/modaggregator/services/cache"
	"sjsage522/modaggregator/services/monitoring"
	"sjsage522/modaggregator/services/publisher"
	"sjsage522/modaggregator/services/snapshot"
	"sjsage522/modaggregator/services/store"

	"github.com/prometheus/client_golang/prometheus"
)

// Dependencies holds all service dependencies, constructed once and shared
// by every command.
type Dependencies struct {
	DB            *store.DB
	Sites         *store.Sites
	Records       *store.Records
	Notifications *store.Notifications
	Snapshots     *snapshot.Store
	Cache         cache.CacheService
	Resolver      *pagecache.Resolver
	Detector      *detector.Detector
	Notifier      publisher.Notifier
	Metrics       *monitoring.Metrics
	Registry      *prometheus.Registry
}

// Close releases the notifier and the database.
func (d *Dependencies) Close() error {
	var errs []error
	if d.Notifier != nil {
		errs = append(errs, d.Notifier.Close())
	}
	if d.DB != nil {
		errs = append(errs, d.DB.Close())
	}
	return errors.Join(errs...)
}
