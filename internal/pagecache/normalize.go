package pagecache

import (
	"net/url"
	"strings"
)

// Normalize returns the canonical form of raw used as a cache key: scheme and
// host lowercased, empty path replaced by "/", trailing slashes stripped from
// any non-root path and the fragment dropped. The query is kept verbatim.
// Input that is not an absolute URL is returned trimmed. Normalize is
// idempotent.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" || u.Opaque != "" {
		return raw
	}

	path := strings.TrimRight(u.EscapedPath(), "/")
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteByte('@')
	}
	b.WriteString(strings.ToLower(u.Host))
	b.WriteString(path)
	if u.ForceQuery || u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	// The raw query is kept verbatim, so trailing whitespace can surface
	// once the fragment is gone.
	return strings.TrimSpace(b.String())
}

// IsRoot reports whether the normalized form of raw points at the root path
// of its host.
func IsRoot(raw string) bool {
	u, err := url.Parse(Normalize(raw))
	if err != nil || u.Host == "" {
		return false
	}
	return u.Path == "/" || u.Path == ""
}

// PrefixRelated reports whether either normalized URL is a prefix of the
// other.
func PrefixRelated(a, b string) bool {
	a, b = Normalize(a), Normalize(b)
	if a == "" || b == "" {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}
