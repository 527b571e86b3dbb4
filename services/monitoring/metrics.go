package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the aggregator. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	TierHits      *prometheus.CounterVec
	Fetches       *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	Records       *prometheus.CounterVec
	SiteChecks    *prometheus.CounterVec
}

// NewMetrics registers the aggregator metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TierHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modagg_cache_tier_hits_total",
			Help: "Page resolutions served, by cache tier",
		}, []string{"tier"}), // exact, prefix, marker, root, fetch
		Fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modagg_fetches_total",
			Help: "Network fetches, by outcome",
		}, []string{"status"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "modagg_fetch_duration_seconds",
			Help:    "Duration of network fetches",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modagg_records_total",
			Help: "Candidate records seen by the update detector, by outcome",
		}, []string{"outcome"}), // created, updated, unchanged, failed
		SiteChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modagg_site_checks_total",
			Help: "Per-site update checks, by result",
		}, []string{"status"}),
	}
}

func (m *Metrics) IncTierHit(tier string) {
	if m == nil {
		return
	}
	m.TierHits.WithLabelValues(tier).Inc()
}

func (m *Metrics) ObserveFetch(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(status).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) AddRecords(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Records.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) IncSiteCheck(status string) {
	if m == nil {
		return
	}
	m.SiteChecks.WithLabelValues(status).Inc()
}
