package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokensLowercasesAndFiltersStopwords(t *testing.T) {
	tokens := Tokens("The Circuit Breaker is a resilience pattern")
	assert.Equal(t, []string{"circuit", "breaker", "resilience", "pattern"}, tokens)
}

func TestTokensKeepsAlphanumerics(t *testing.T) {
	tokens := Tokens("HTTP/2 uses TLS1.3")
	assert.Equal(t, []string{"http", "2", "uses", "tls1", "3"}, tokens)
}

func TestTokensEmpty(t *testing.T) {
	assert.Empty(t, Tokens(""))
	assert.Empty(t, Tokens("the and of"))
}

func TestJaccard(t *testing.T) {
	a := TokenSet("circuit breaker pattern")
	b := TokenSet("circuit breaker design")
	// intersection {circuit, breaker}, union {circuit, breaker, pattern, design}
	assert.InDelta(t, 0.5, Jaccard(a, b), 1e-9)

	assert.Equal(t, 1.0, Jaccard(a, a))
	assert.Equal(t, 0.0, Jaccard(a, TokenSet("unrelated words")))
	assert.Equal(t, 0.0, Jaccard(nil, nil))
}

func TestCoverage(t *testing.T) {
	q := TokenSet("saga compensation pattern")
	c := TokenSet("the saga pattern coordinates transactions")
	// saga and pattern covered, compensation not
	assert.InDelta(t, 2.0/3.0, Coverage(q, c), 1e-9)
	assert.Equal(t, 0.0, Coverage(nil, c))
}

func TestSentences(t *testing.T) {
	got := Sentences("First sentence. Second one! Third?\nFourth on a new line.")
	assert.Equal(t, []string{
		"First sentence", "Second one", "Third", "Fourth on a new line.",
	}, got)
}

func TestSentencesSplitsNewlines(t *testing.T) {
	got := Sentences("line one\n\nline two")
	assert.Equal(t, []string{"line one", "line two"}, got)
}

func TestSentencesEmpty(t *testing.T) {
	assert.Empty(t, Sentences(""))
	assert.Empty(t, Sentences("   \n  "))
}
