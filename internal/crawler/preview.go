package crawler

import (
	"fmt"
	"strings"

	apperrors "sjsage522/modaggregator/pkg/errors"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// PreviewMatch is one element matched by a selector under preview.
type PreviewMatch struct {
	Text       string            `json:"text"`
	HTML       string            `json:"html"`
	Attributes map[string]string `json:"attributes"`
}

// PreviewResult lists everything a selector matches in a page, used while
// authoring an ExtractionConfig.
type PreviewResult struct {
	Selector string         `json:"selector"`
	Matches  int            `json:"matches"`
	Results  []PreviewMatch `json:"results"`
}

// Preview evaluates selector against the whole document of html.
func Preview(html, selector string) (*PreviewResult, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, apperrors.NewConfig(fmt.Sprintf("invalid CSS selector: %q", selector), err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, apperrors.NewParsing("HTML parsing failed", err)
	}

	result := &PreviewResult{Selector: selector, Results: []PreviewMatch{}}
	doc.FindMatcher(m).Each(func(_ int, s *goquery.Selection) {
		outer, _ := goquery.OuterHtml(s)
		attrs := make(map[string]string)
		for _, a := range s.Nodes[0].Attr {
			attrs[a.Key] = a.Val
		}
		result.Results = append(result.Results, PreviewMatch{
			Text:       strings.TrimSpace(s.Text()),
			HTML:       outer,
			Attributes: attrs,
		})
	})
	result.Matches = len(result.Results)

	return result, nil
}
