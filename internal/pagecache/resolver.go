package pagecache

import (
	"context"
	"time"

	"sjsage522/modaggregator/internal/model"
	"sjsage522/modaggregator/logger"
	apperrors "sjsage522/modaggregator/pkg/errors"
	"sjsage522/modaggregator/services/fetcher"
	"sjsage522/modaggregator/services/monitoring"
)

// Tier names the stage of the resolution chain that served a page.
type Tier string

const (
	TierExact  Tier = "exact"
	TierPrefix Tier = "prefix"
	TierMarker Tier = "marker"
	TierRoot   Tier = "root"
	TierFetch  Tier = "fetch"
)

// SnapshotStore is the indexed snapshot storage the resolver reads and
// writes.
type SnapshotStore interface {
	FindExact(ctx context.Context, siteID int64, url string) (*model.PageSnapshot, error)
	ScanAll(ctx context.Context, siteID int64) ([]model.PageSnapshot, error)
	Write(ctx context.Context, siteID int64, url, version string, html []byte) (*model.PageSnapshot, error)
	Read(ctx context.Context, location string) ([]byte, error)
	Get(ctx context.Context, id int64) (*model.PageSnapshot, error)
}

// LegacySource finds pages saved outside the index. Both methods return a
// nil snapshot when nothing matches.
type LegacySource interface {
	MatchMarker(ctx context.Context, url string) (*model.PageSnapshot, []byte, error)
	MatchRoot(ctx context.Context, url string) (*model.PageSnapshot, []byte, error)
}

// Resolution is a served page and where it came from. Snapshot is nil when a
// fetched page could not be persisted.
type Resolution struct {
	HTML     string
	Tier     Tier
	Snapshot *model.PageSnapshot
}

// Resolver returns the HTML for a page, preferring stored snapshots over the
// network.
type Resolver struct {
	snapshots SnapshotStore
	legacy    LegacySource
	fetcher   fetcher.Fetcher
	metrics   *monitoring.Metrics
	now       func() time.Time
	log       *logger.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLegacy enables the filesystem tiers.
func WithLegacy(l LegacySource) Option {
	return func(r *Resolver) { r.legacy = l }
}

func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock replaces the clock used to stamp new snapshot versions.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(snapshots SnapshotStore, f fetcher.Fetcher, opts ...Option) *Resolver {
	r := &Resolver{
		snapshots: snapshots,
		fetcher:   f,
		now:       time.Now,
		log:       logger.ForResolver(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the HTML of url as seen by siteID (model.AnySite for no
// scope). forceRefresh skips every cache tier.
func (r *Resolver) Resolve(ctx context.Context, url string, siteID int64, forceRefresh bool) (string, error) {
	res, err := r.ResolveDetailed(ctx, url, siteID, forceRefresh)
	if err != nil {
		return "", err
	}
	return res.HTML, nil
}

// ResolveDetailed tries, in order: exact indexed match, prefix indexed match,
// legacy marker match, legacy root fallback, then a network fetch whose
// result is stored as a new version.
func (r *Resolver) ResolveDetailed(ctx context.Context, url string, siteID int64, forceRefresh bool) (*Resolution, error) {
	key := Normalize(url)
	if key == "" {
		return nil, apperrors.NewValidation("empty url")
	}

	if !forceRefresh {
		for _, lookup := range []func(context.Context, string, int64) *Resolution{
			r.exact, r.prefix, r.marker, r.root,
		} {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if res := lookup(ctx, key, siteID); res != nil {
				r.metrics.IncTierHit(string(res.Tier))
				r.log.Debug().
					Str("url", key).
					Int64("site_id", siteID).
					Str("tier", string(res.Tier)).
					Msg("Served from cache")
				return res, nil
			}
		}
	}

	return r.fetch(ctx, key, siteID)
}

// ResolveVersion serves one explicitly requested snapshot version, or nil
// when it does not exist.
func (r *Resolver) ResolveVersion(ctx context.Context, id int64) (*Resolution, error) {
	snap, err := r.snapshots.Get(ctx, id)
	if err != nil || snap == nil {
		return nil, err
	}
	html, err := r.snapshots.Read(ctx, snap.Location)
	if err != nil {
		return nil, err
	}
	return &Resolution{HTML: string(html), Tier: TierExact, Snapshot: snap}, nil
}

func (r *Resolver) exact(ctx context.Context, key string, siteID int64) *Resolution {
	snap, err := r.snapshots.FindExact(ctx, siteID, key)
	if err != nil {
		r.miss(TierExact, key, err)
		return nil
	}
	if snap == nil {
		return nil
	}
	return r.read(ctx, TierExact, key, snap)
}

// prefix accepts the newest stored page whose URL is a prefix of key, or has
// key as its prefix.
func (r *Resolver) prefix(ctx context.Context, key string, siteID int64) *Resolution {
	snaps, err := r.snapshots.ScanAll(ctx, siteID)
	if err != nil {
		r.miss(TierPrefix, key, err)
		return nil
	}
	for i := range snaps {
		if !PrefixRelated(snaps[i].URL, key) {
			continue
		}
		if res := r.read(ctx, TierPrefix, key, &snaps[i]); res != nil {
			return res
		}
	}
	return nil
}

func (r *Resolver) marker(ctx context.Context, key string, _ int64) *Resolution {
	if r.legacy == nil {
		return nil
	}
	snap, html, err := r.legacy.MatchMarker(ctx, key)
	return r.legacyResult(TierMarker, key, snap, html, err)
}

func (r *Resolver) root(ctx context.Context, key string, _ int64) *Resolution {
	if r.legacy == nil {
		return nil
	}
	snap, html, err := r.legacy.MatchRoot(ctx, key)
	return r.legacyResult(TierRoot, key, snap, html, err)
}

func (r *Resolver) legacyResult(tier Tier, key string, snap *model.PageSnapshot, html []byte, err error) *Resolution {
	if err != nil {
		r.miss(tier, key, err)
		return nil
	}
	if snap == nil {
		return nil
	}
	return &Resolution{HTML: string(html), Tier: tier, Snapshot: snap}
}

func (r *Resolver) read(ctx context.Context, tier Tier, key string, snap *model.PageSnapshot) *Resolution {
	html, err := r.snapshots.Read(ctx, snap.Location)
	if err != nil {
		r.miss(tier, key, err)
		return nil
	}
	return &Resolution{HTML: string(html), Tier: tier, Snapshot: snap}
}

// miss logs a storage failure; the tier is then treated as a miss.
func (r *Resolver) miss(tier Tier, key string, err error) {
	r.log.Warn().
		Err(err).
		Str("url", key).
		Str("tier", string(tier)).
		Msg("Snapshot lookup failed, treating tier as miss")
}

func (r *Resolver) fetch(ctx context.Context, key string, siteID int64) (*Resolution, error) {
	body, err := r.fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, apperrors.NewFetch(key, "resolve page", err).WithTier(string(TierFetch))
	}
	r.metrics.IncTierHit(string(TierFetch))

	res := &Resolution{HTML: string(body), Tier: TierFetch}
	snap, err := r.snapshots.Write(ctx, siteID, key, model.FormatVersion(r.now()), body)
	if err != nil {
		r.log.Error().
			Err(err).
			Str("url", key).
			Int64("site_id", siteID).
			Msg("Failed to persist fetched page")
		return res, nil
	}
	res.Snapshot = snap
	return res, nil
}
