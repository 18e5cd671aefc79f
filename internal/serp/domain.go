// Package serp normalizes result domains and fetches ranked search results.
package serp

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeDomain reduces a domain or URL to a bare lower-case host without a port
// or a leading "www.".
func NormalizeDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = u.Host
		}
	} else if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}

	s = strings.TrimSuffix(s, ".")
	return strings.TrimPrefix(s, "www.")
}

// MatchesDomain reports whether candidate is the reference domain or one of its subdomains.
// Both sides are normalized first.
func MatchesDomain(candidate, reference string) bool {
	c := NormalizeDomain(candidate)
	r := NormalizeDomain(reference)
	if c == "" || r == "" {
		return false
	}
	return c == r || strings.HasSuffix(c, "."+r)
}

// EntryDomain returns the normalized domain of a result, falling back to its URL.
func EntryDomain(domain, rawURL string) string {
	if d := NormalizeDomain(domain); d != "" {
		return d
	}
	return NormalizeDomain(rawURL)
}
