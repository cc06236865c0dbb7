package web

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrustScorerLevels(t *testing.T) {
	scorer := NewTrustScorer(true,
		[]string{".edu", "martinfowler.com"},
		[]string{"spam.example.com"})

	tests := []struct {
		name string
		url  string
		want float64
	}{
		{"trusted suffix", "https://cs.mit.edu/patterns", 0.9},
		{"trusted exact domain", "https://martinfowler.com/bliki/CQRS.html", 0.9},
		{"neutral", "https://some-blog.dev/post", 0.5},
		{"blocked", "https://spam.example.com/page", 0.0},
		{"blocked subdomain", "https://deep.spam.example.com/page", 0.0},
		{"unparseable", "://not a url", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scorer.Score(tt.url))
		})
	}
}

func TestTrustScorerDisabled(t *testing.T) {
	scorer := NewTrustScorer(false, []string{".edu"}, []string{"spam.example.com"})

	assert.Equal(t, 0.5, scorer.Score("https://cs.mit.edu/x"))
	assert.Equal(t, 0.5, scorer.Score("https://spam.example.com/x"))
	assert.False(t, scorer.Blocked("https://spam.example.com/x"))
	assert.False(t, scorer.Enabled())
}

func TestTrustScorerBlocked(t *testing.T) {
	scorer := NewTrustScorer(true, nil, []string{"bad.example"})

	assert.True(t, scorer.Blocked("https://bad.example/page"))
	assert.True(t, scorer.Blocked("https://www.bad.example/page"))
	assert.False(t, scorer.Blocked("https://good.example/page"))
}

func TestTrustScorerSuffixNormalization(t *testing.T) {
	// Suffixes configured without a leading dot still match.
	scorer := NewTrustScorer(true, []string{"gov"}, nil)
	assert.Equal(t, 0.9, scorer.Score("https://nist.gov/page"))
}
