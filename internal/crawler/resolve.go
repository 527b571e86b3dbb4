package crawler

import (
	"regexp"
	"strings"
)

var schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)

// ResolveURL makes href absolute. Values that already start with a scheme are
// returned unchanged, protocol-relative values take the scheme of baseURL,
// and anything else is appended to baseURL as is.
func ResolveURL(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	if schemePattern.MatchString(href) {
		return href
	}

	if strings.HasPrefix(href, "//") {
		scheme := "https:"
		if m := schemePattern.FindString(baseURL); m != "" {
			scheme = m
		}
		return scheme + href
	}

	return baseURL + href
}
