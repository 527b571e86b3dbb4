package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sjsage522/modaggregator/internal/crawler"
	"sjsage522/modaggregator/internal/detector"
	"sjsage522/modaggregator/internal/model"
	"sjsage522/modaggregator/internal/pagecache"
	"sjsage522/modaggregator/logger"
	apperrors "sjsage522/modaggregator/pkg/errors"
	"sjsage522/modaggregator/services/monitoring"
	"sjsage522/modaggregator/services/publisher"
)

// SiteSource lists the configured sites.
type SiteSource interface {
	List(ctx context.Context) ([]model.Site, error)
}

// PageResolver returns a site's listing page, from cache or network.
type PageResolver interface {
	ResolveDetailed(ctx context.Context, url string, siteID int64, forceRefresh bool) (*pagecache.Resolution, error)
}

// ChangeDetector classifies extracted records against the store.
type ChangeDetector interface {
	Detect(ctx context.Context, candidates []model.Record) detector.Result
}

// SiteReport is the outcome of checking one site. Err is set when the site
// could not be checked at all; Errors holds per-record store failures.
type SiteReport struct {
	Site      model.Site
	Tier      pagecache.Tier
	Events    []model.ChangeEvent
	Created   int
	Updated   int
	Unchanged int
	Notified  int
	Errors    []error
	Err       error
}

// Report is the result of one check run, with sites in configuration order.
type Report struct {
	Sites      []SiteReport
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded returns the sites that were checked.
func (r Report) Succeeded() []SiteReport {
	var out []SiteReport
	for _, s := range r.Sites {
		if s.Err == nil {
			out = append(out, s)
		}
	}
	return out
}

// Failed returns the sites that could not be checked.
func (r Report) Failed() []SiteReport {
	var out []SiteReport
	for _, s := range r.Sites {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Events returns every change event of the run.
func (r Report) Events() []model.ChangeEvent {
	var out []model.ChangeEvent
	for _, s := range r.Sites {
		out = append(out, s.Events...)
	}
	return out
}

// Worker runs update checks.
type Worker struct {
	sites    SiteSource
	resolver PageResolver
	detector ChangeDetector
	notifier publisher.Notifier
	metrics  *monitoring.Metrics
	interval time.Duration
	now      func() time.Time
	log      *logger.Logger

	// retryDelay is the pause before a transient resolve failure is retried.
	retryDelay time.Duration
}

// NewWorker creates a new worker. notifier and metrics may be nil.
func NewWorker(
	sites SiteSource,
	resolver PageResolver,
	det ChangeDetector,
	notifier publisher.Notifier,
	metrics *monitoring.Metrics,
	interval time.Duration,
) *Worker {
	return &Worker{
		sites:    sites,
		resolver: resolver,
		detector: det,
		notifier: notifier,
		metrics:  metrics,
		interval: interval,
		now:      time.Now,
		log:      logger.ForWorker(),

		retryDelay: time.Second,
	}
}

// Start runs a check immediately and then every interval until ctx is
// cancelled. Scheduled runs always fetch the listing pages live; every
// capture is still stored as a snapshot version.
func (w *Worker) Start(ctx context.Context) {
	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	report := w.CheckSites(ctx, model.AnySite, true)
	if report.Err != nil {
		w.log.Error().Err(report.Err).Msg("Update check failed")
	}
	w.log.Info().
		Int("sites", len(report.Sites)).
		Int("failed", len(report.Failed())).
		Int("events", len(report.Events())).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Update check finished")

	// Trim all streams after checking
	if t, ok := w.notifier.(publisher.Trimmer); ok {
		if err := t.TrimStreams(ctx); err != nil {
			w.log.Warn().Err(err).Msg("Stream trimming failed")
		}
	}
}

// CheckSites checks every site, or only siteID unless it is model.AnySite.
// Sites run concurrently; a failing site is reported and never blocks the
// others.
func (w *Worker) CheckSites(ctx context.Context, siteID int64, forceRefresh bool) (report Report) {
	report.StartedAt = w.now()
	defer func() { report.FinishedAt = w.now() }()

	sites, err := w.sites.List(ctx)
	if err != nil {
		report.Err = err
		return report
	}
	if siteID != model.AnySite {
		sites = filterSite(sites, siteID)
		if len(sites) == 0 {
			report.Err = apperrors.NewValidation(fmt.Sprintf("no site with id %d", siteID))
			return report
		}
	}

	report.Sites = make([]SiteReport, len(sites))
	var wg sync.WaitGroup
	for i, site := range sites {
		wg.Add(1)
		go func(i int, site model.Site) {
			defer wg.Done()
			report.Sites[i] = w.checkSite(ctx, site, forceRefresh)
		}(i, site)
	}
	wg.Wait()

	return report
}

func filterSite(sites []model.Site, id int64) []model.Site {
	for _, s := range sites {
		if s.ID == id {
			return []model.Site{s}
		}
	}
	return nil
}

// checkSite resolves, extracts, detects and notifies for one site.
func (w *Worker) checkSite(ctx context.Context, site model.Site, forceRefresh bool) SiteReport {
	log := logger.ForSite(site.ID, site.Name)
	rep := SiteReport{Site: site}

	res, err := w.resolve(ctx, site, forceRefresh, log)
	if err != nil {
		return w.fail(rep, log, err)
	}
	rep.Tier = res.Tier

	cfg := site.Config
	if cfg.BaseURL == "" {
		cfg.BaseURL = site.BaseURL()
	}
	candidates, err := crawler.Extract(res.HTML, cfg)
	if err != nil {
		return w.fail(rep, log, err)
	}

	stamp := w.captureTime(res)
	for i := range candidates {
		candidates[i].SiteID = site.ID
		if candidates[i].UpdatedAt.IsZero() {
			candidates[i].UpdatedAt = stamp
		}
		if candidates[i].CreatedAt.IsZero() {
			candidates[i].CreatedAt = candidates[i].UpdatedAt
		}
	}

	result := w.detector.Detect(ctx, candidates)
	rep.Events = result.Events
	rep.Created = result.Created
	rep.Updated = result.Updated
	rep.Unchanged = result.Unchanged
	rep.Errors = result.Errors

	for _, ev := range result.Events {
		if w.notifier == nil {
			break
		}
		if err := w.notifier.Notify(ctx, ev); err != nil {
			log.Warn().Err(err).Str("url", ev.URL).Msg("Failed to deliver change notification")
			continue
		}
		rep.Notified++
	}

	w.metrics.IncSiteCheck("ok")
	log.Info().
		Str("tier", string(rep.Tier)).
		Int("records", len(candidates)).
		Int("created", rep.Created).
		Int("updated", rep.Updated).
		Int("errors", len(rep.Errors)).
		Msg("Site checked")
	return rep
}

// resolve fetches the listing page of site, retrying once when the failure
// is transient.
func (w *Worker) resolve(ctx context.Context, site model.Site, forceRefresh bool, log *logger.Logger) (*pagecache.Resolution, error) {
	res, err := w.resolver.ResolveDetailed(ctx, site.ListingURL(), site.ID, forceRefresh)
	var appErr *apperrors.Error
	if err == nil || !errors.As(err, &appErr) || !appErr.IsRetryable() {
		return res, err
	}

	log.Warn().Err(err).Dur("delay", w.retryDelay).Msg("Listing page unavailable, retrying once")
	timer := time.NewTimer(w.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, err
	case <-timer.C:
	}
	return w.resolver.ResolveDetailed(ctx, site.ListingURL(), site.ID, forceRefresh)
}

// captureTime is the time the served page was captured, so re-extracting an
// unchanged snapshot yields the same timestamps.
func (w *Worker) captureTime(res *pagecache.Resolution) time.Time {
	if res.Snapshot != nil {
		if t, err := time.Parse(model.VersionLayout, res.Snapshot.Version); err == nil {
			return t
		}
	}
	return w.now().UTC()
}

func (w *Worker) fail(rep SiteReport, log *logger.Logger, err error) SiteReport {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Site == "" {
		appErr.WithSite(rep.Site.Name)
	}
	rep.Err = err
	w.metrics.IncSiteCheck("failed")
	log.Error().Err(err).Msg("Site check failed")
	return rep
}
