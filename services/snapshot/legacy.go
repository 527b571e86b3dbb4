package snapshot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"sjsage522/modaggregator/helpers"
	"sjsage522/modaggregator/internal/model"
	"sjsage522/modaggregator/internal/pagecache"
	"sjsage522/modaggregator/logger"
	apperrors "sjsage522/modaggregator/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

// legacyDirPattern matches page_<unix millis>_<sanitized host>.
var legacyDirPattern = regexp.MustCompile(`^page_(\d+)_(.+)$`)

const legacyIndexFile = "index.html"

// LegacyScanner serves snapshots saved as plain folders before the index
// existed. Folders are grouped into buckets by sanitized host and searched
// newest first.
type LegacyScanner struct {
	root string
	log  *logger.Logger
}

// NewLegacyScanner scans root. A missing root simply never matches.
func NewLegacyScanner(root string) *LegacyScanner {
	return &LegacyScanner{root: root, log: logger.ForStore()}
}

type legacyEntry struct {
	dir    string
	millis int64
}

// bucket lists the folders saved for host, newest first.
func (l *LegacyScanner) bucket(host string) ([]legacyEntry, error) {
	if l.root == "" || host == "" {
		return nil, nil
	}
	dirents, err := os.ReadDir(l.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStore("scan legacy snapshots", err)
	}

	want := helpers.SanitizeHost(host)
	var entries []legacyEntry
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		m := legacyDirPattern.FindStringSubmatch(d.Name())
		if m == nil || m[2] != want {
			continue
		}
		millis, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, legacyEntry{dir: filepath.Join(l.root, d.Name()), millis: millis})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].millis > entries[j].millis })
	return entries, nil
}

// MatchMarker returns the newest legacy page of rawURL's host whose embedded
// origin marker normalizes to the same URL, or nil.
func (l *LegacyScanner) MatchMarker(ctx context.Context, rawURL string) (*model.PageSnapshot, []byte, error) {
	key := pagecache.Normalize(rawURL)
	return l.match(ctx, key, func(marker string) bool {
		return marker != "" && pagecache.Normalize(marker) == key
	})
}

// MatchRoot serves a root-path request from the newest legacy page of the
// host that carries no origin marker, or returns nil.
func (l *LegacyScanner) MatchRoot(ctx context.Context, rawURL string) (*model.PageSnapshot, []byte, error) {
	key := pagecache.Normalize(rawURL)
	if !pagecache.IsRoot(key) {
		return nil, nil, nil
	}
	return l.match(ctx, key, func(marker string) bool { return marker == "" })
}

func (l *LegacyScanner) match(ctx context.Context, key string, accept func(marker string) bool) (*model.PageSnapshot, []byte, error) {
	entries, err := l.bucket(helpers.HostOf(key))
	if err != nil {
		return nil, nil, err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		path := filepath.Join(e.dir, legacyIndexFile)
		html, err := os.ReadFile(path)
		if err != nil {
			l.log.Debug().Err(err).Str("path", path).Msg("Skipping unreadable legacy snapshot")
			continue
		}
		marker := originMarker(html)
		if !accept(marker) {
			continue
		}

		ts := time.UnixMilli(e.millis)
		snapURL := key
		if marker != "" {
			snapURL = pagecache.Normalize(marker)
		}
		return &model.PageSnapshot{
			SiteID:    model.AnySite,
			URL:       snapURL,
			Location:  path,
			Version:   model.FormatVersion(ts),
			CreatedAt: ts.UTC(),
		}, html, nil
	}
	return nil, nil, nil
}

// originMarker returns the page URL recorded in a saved page: a
// data-base-url attribute on <html> or <body>, or a
// <meta name="origin-url"> tag.
func originMarker(html []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ""
	}
	if v, ok := doc.Find("html[data-base-url], body[data-base-url]").First().Attr("data-base-url"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`meta[name="origin-url"]`).First().Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
