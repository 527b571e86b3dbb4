package helpers

import (
	"net/url"
	"strings"
)

// HostOf returns the lowercased host (without port) of rawURL, or "" when the
// URL has no host.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SanitizeHost turns a hostname into a directory-safe bucket key,
// e.g. "www.nexus.example" -> "www_nexus_example".
func SanitizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	var b strings.Builder
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
