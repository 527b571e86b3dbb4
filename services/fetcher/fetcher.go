package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"sjsage522/modaggregator/helpers"
	"sjsage522/modaggregator/logger"
	apperrors "sjsage522/modaggregator/pkg/errors"
	"sjsage522/modaggregator/services/cache"
	"sjsage522/modaggregator/services/monitoring"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxBytes  = 10 << 20
	DefaultBlockTime = 5 * time.Minute
)

// Fetcher retrieves the raw HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Options configures an HTTPFetcher. Zero values fall back to the defaults.
type Options struct {
	Timeout   time.Duration
	MaxBytes  int64
	BlockTime time.Duration
}

// HTTPFetcher is a bounded HTTP GET. Hosts that answer 429/430 are blocked in
// the cache for BlockTime and fail fast until the block expires.
type HTTPFetcher struct {
	client  *http.Client
	cache   cache.CacheService
	opts    Options
	metrics *monitoring.Metrics
	log     *logger.Logger
}

// NewHTTPFetcher creates a fetcher. cacheSvc and metrics may be nil.
func NewHTTPFetcher(opts Options, cacheSvc cache.CacheService, metrics *monitoring.Metrics) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.BlockTime <= 0 {
		opts.BlockTime = DefaultBlockTime
	}
	return &HTTPFetcher{
		client:  &http.Client{},
		cache:   cacheSvc,
		opts:    opts,
		metrics: metrics,
		log:     logger.ForFetcher(),
	}
}

// WithClient replaces the underlying HTTP client.
func (f *HTTPFetcher) WithClient(client *http.Client) *HTTPFetcher {
	f.client = client
	return f
}

// Fetch implements Fetcher. Every failure is an *apperrors.Error of type
// fetch or rate_limit carrying the URL.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	key := blockKey(url)
	if f.blocked(key) {
		f.metrics.ObserveFetch("blocked", 0)
		return nil, apperrors.NewRateLimit(url, f.opts.BlockTime)
	}

	start := time.Now()
	body, err := helpers.FetchLimited(ctx, f.client, url, f.opts.Timeout, f.opts.MaxBytes)
	elapsed := time.Since(start)
	if err != nil {
		var rateErr *helpers.RateLimitError
		if errors.As(err, &rateErr) {
			f.block(key, rateErr.RetryAfter)
			f.metrics.ObserveFetch("rate_limited", elapsed)
			return nil, apperrors.New(apperrors.ErrorTypeRateLimit, "host asked to back off", err).WithURL(url)
		}
		f.metrics.ObserveFetch(fetchStatus(err), elapsed)
		return nil, apperrors.NewFetch(url, "fetch failed", err)
	}

	f.metrics.ObserveFetch("ok", elapsed)
	f.log.Debug().Str("url", url).Int("bytes", len(body)).Dur("elapsed", elapsed).Msg("Fetched page")
	return body, nil
}

func (f *HTTPFetcher) blocked(key string) bool {
	if f.cache == nil || key == "" {
		return false
	}
	_, err := f.cache.Get(key)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrMiss) {
		f.log.Warn().Err(err).Str("key", key).Msg("Rate limit cache unavailable")
	}
	return false
}

// block honours a numeric Retry-After when it is longer than BlockTime.
func (f *HTTPFetcher) block(key, retryAfter string) {
	if f.cache == nil || key == "" {
		return
	}
	d := f.opts.BlockTime
	if secs, err := strconv.Atoi(retryAfter); err == nil && time.Duration(secs)*time.Second > d {
		d = time.Duration(secs) * time.Second
	}
	if err := f.cache.Set(key, []byte(fmt.Sprintf("%d", int(d/time.Second))), d); err != nil {
		f.log.Warn().Err(err).Str("key", key).Msg("Failed to store rate limit block")
		return
	}
	f.log.Warn().Str("key", key).Dur("block", d).Msg("Host rate limited, blocking")
}

func blockKey(url string) string {
	host := helpers.HostOf(url)
	if host == "" {
		return ""
	}
	return "modagg_block_" + helpers.SanitizeHost(host)
}

func fetchStatus(err error) string {
	var statusErr *helpers.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, helpers.ErrTooLarge):
		return "too_large"
	case errors.Is(err, helpers.ErrNotUTF8):
		return "bad_encoding"
	case errors.As(err, &statusErr):
		return "bad_status"
	default:
		return "error"
	}
}
