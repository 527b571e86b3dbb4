package crawler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"sjsage522/modaggregator/internal/model"
	"sjsage522/modaggregator/logger"
	apperrors "sjsage522/modaggregator/pkg/errors"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// compiledSelectors holds the matchers for one ExtractionConfig. A nil
// matcher means the field has no selector configured.
type compiledSelectors struct {
	item        goquery.Matcher
	title       goquery.Matcher
	link        goquery.Matcher
	version     goquery.Matcher
	author      goquery.Matcher
	image       goquery.Matcher
	description goquery.Matcher
	changes     goquery.Matcher
	updated     goquery.Matcher
}

// compile validates every selector of cfg. goquery silently matches nothing
// for a malformed selector, so syntax is checked with cascadia first.
func compile(cfg model.ExtractionConfig) (*compiledSelectors, error) {
	if strings.TrimSpace(cfg.ItemSelector) == "" {
		return nil, apperrors.NewConfig("missing list_selector in parser config", nil)
	}

	var firstErr error
	field := func(name, sel string) goquery.Matcher {
		sel = strings.TrimSpace(sel)
		if sel == "" || firstErr != nil {
			return nil
		}
		m, err := cascadia.Compile(sel)
		if err != nil {
			firstErr = apperrors.NewConfig(fmt.Sprintf("invalid CSS selector for %s: %q", name, sel), err)
			return nil
		}
		return m
	}

	c := &compiledSelectors{
		item:        field("list_selector", cfg.ItemSelector),
		title:       field("title_selector", cfg.TitleSelector),
		link:        field("url_selector", cfg.URLSelector),
		version:     field("version_selector", cfg.VersionSelector),
		author:      field("author_selector", cfg.AuthorSelector),
		image:       field("image_selector", cfg.ImageSelector),
		description: field("description_selector", cfg.DescriptionSelector),
		changes:     field("changes_selector", cfg.ChangesSelector),
		updated:     field("updated_selector", cfg.UpdatedSelector),
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return c, nil
}

// Extract parses html once and returns one record per item element, in
// document order. Items without a resolvable detail URL are dropped. The
// result depends only on its inputs.
func Extract(html string, cfg model.ExtractionConfig) ([]model.Record, error) {
	sels, err := compile(cfg)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, apperrors.NewParsing("HTML parsing failed", err)
	}

	items := doc.FindMatcher(sels.item)
	records := processItems(items, func(s *goquery.Selection) *model.Record {
		return processItem(s, sels, cfg)
	})

	logger.ForExtractor().Debug().
		Str("list_selector", cfg.ItemSelector).
		Int("items", items.Length()).
		Int("records", len(records)).
		Int("dropped", items.Length()-len(records)).
		Msg("Extraction finished")
	return records, nil
}

// processItems runs processor over every item in parallel. Each result is
// written to its item's slot so the output keeps document order.
func processItems(items *goquery.Selection, processor func(*goquery.Selection) *model.Record) []model.Record {
	slots := make([]*model.Record, items.Length())
	var wg sync.WaitGroup

	items.Each(func(i int, s *goquery.Selection) {
		wg.Add(1)
		go func(i int, s *goquery.Selection) {
			defer wg.Done()
			slots[i] = processor(s)
		}(i, s)
	})
	wg.Wait()

	records := make([]model.Record, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			records = append(records, *r)
		}
	}
	return records
}

// processItem builds a record from one item element. Every field selector is
// evaluated against the item's subtree only.
func processItem(s *goquery.Selection, sels *compiledSelectors, cfg model.ExtractionConfig) *model.Record {
	link := ResolveURL(cfg.BaseURL, attrOf(find(s, sels.link), "href"))
	if link == "" {
		return nil
	}

	title := textOf(find(s, sels.title))
	if title == "" {
		title = attrOf(find(s, sels.title), "title")
	}
	if title == "" {
		title = model.PlaceholderTitle
	}

	var image string
	if imgSel := find(s, sels.image); imgSel.Length() > 0 {
		src := attrOf(imgSel, "src")
		if src == "" {
			src = attrOf(imgSel, "data-src")
		}
		image = ResolveURL(cfg.BaseURL, src)
	}

	record := &model.Record{
		Title:       title,
		URL:         link,
		Version:     textOf(find(s, sels.version)),
		Author:      textOf(find(s, sels.author)),
		Description: textOf(find(s, sels.description)),
		ImageURL:    image,
		Changes:     textOf(find(s, sels.changes)),
	}

	if ts, ok := parseUpdated(find(s, sels.updated), cfg.UpdatedLayout); ok {
		record.CreatedAt = ts
		record.UpdatedAt = ts
	}

	return record
}

// find returns the first descendant of s matching m, or an empty selection.
func find(s *goquery.Selection, m goquery.Matcher) *goquery.Selection {
	if m == nil {
		return &goquery.Selection{}
	}
	return s.FindMatcher(m).First()
}

func textOf(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(sel.Text())
}

func attrOf(sel *goquery.Selection, name string) string {
	if sel.Length() == 0 {
		return ""
	}
	v, _ := sel.Attr(name)
	return strings.TrimSpace(v)
}

// parseUpdated reads a timestamp from the datetime attribute or the text of
// sel. layout defaults to RFC3339.
func parseUpdated(sel *goquery.Selection, layout string) (time.Time, bool) {
	if sel.Length() == 0 {
		return time.Time{}, false
	}
	if layout == "" {
		layout = time.RFC3339
	}

	for _, raw := range []string{attrOf(sel, "datetime"), textOf(sel)} {
		if raw == "" {
			continue
		}
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
