package web

import (
	"net/url"
	"strings"
)

// Trust levels assigned by the domain scorer.
const (
	trustHigh    = 0.9
	trustNeutral = 0.5
	trustBlocked = 0.0
)

// TrustScorer assigns a trust score to a URL by its domain. Domains with
// a trusted suffix score 0.9, blocked domains 0.0, everything else 0.5.
// A disabled scorer assigns every URL the neutral score, and callers
// treat blocking as off.
type TrustScorer struct {
	enabled         bool
	trustedSuffixes []string
	blockedDomains  map[string]bool
}

// NewTrustScorer creates a trust scorer. Suffixes match the end of the
// hostname (".edu" matches "mit.edu"); blocked domains match the host
// exactly or as a parent domain.
func NewTrustScorer(enabled bool, trustedSuffixes, blockedDomains []string) *TrustScorer {
	blocked := make(map[string]bool, len(blockedDomains))
	for _, d := range blockedDomains {
		blocked[strings.ToLower(strings.TrimPrefix(d, "."))] = true
	}
	suffixes := make([]string, 0, len(trustedSuffixes))
	for _, s := range trustedSuffixes {
		s = strings.ToLower(s)
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		suffixes = append(suffixes, s)
	}
	return &TrustScorer{
		enabled:         enabled,
		trustedSuffixes: suffixes,
		blockedDomains:  blocked,
	}
}

// Enabled reports whether trust scoring is active.
func (t *TrustScorer) Enabled() bool {
	return t.enabled
}

// Score returns the trust score for a URL. Unparseable URLs score 0.
func (t *TrustScorer) Score(rawURL string) float64 {
	if !t.enabled {
		return trustNeutral
	}

	host := hostOf(rawURL)
	if host == "" {
		return trustBlocked
	}

	if t.isBlocked(host) {
		return trustBlocked
	}
	for _, suffix := range t.trustedSuffixes {
		if strings.HasSuffix(host, suffix) || host == strings.TrimPrefix(suffix, ".") {
			return trustHigh
		}
	}
	return trustNeutral
}

// Blocked reports whether a URL's domain is on the block list. Always
// false when scoring is disabled.
func (t *TrustScorer) Blocked(rawURL string) bool {
	if !t.enabled {
		return false
	}
	host := hostOf(rawURL)
	return host == "" || t.isBlocked(host)
}

func (t *TrustScorer) isBlocked(host string) bool {
	// Walk parent domains: "a.b.example.com" checks itself, then
	// "b.example.com", then "example.com".
	for h := host; h != ""; {
		if t.blockedDomains[h] {
			return true
		}
		dot := strings.IndexByte(h, '.')
		if dot < 0 {
			break
		}
		h = h[dot+1:]
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
