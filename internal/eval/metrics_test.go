package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateAnswerFullySupported(t *testing.T) {
	chunks := []string{
		"Circuit breakers stop cascading failures in distributed systems.",
		"Retries should always use exponential backoff with jitter.",
	}
	answer := "Circuit breakers stop cascading failures [1]. Retries use exponential backoff [2]."

	r := EvaluateAnswer("how do circuit breakers handle failures", answer, chunks, []int{1, 2}, 2)
	assert.Equal(t, 1.0, r.Faithfulness)
	assert.False(t, r.HasHallucination)
	assert.Equal(t, SeverityNone, r.HallucinationSeverity)
	assert.Equal(t, 1.0, r.CitationGrounding)
	assert.Empty(t, r.UnsupportedClaims)
}

func TestEvaluateAnswerDetectsUnsupportedClaim(t *testing.T) {
	chunks := []string{"Sagas coordinate distributed transactions with compensations."}
	answer := "Sagas coordinate distributed transactions [1]. Kubernetes was released in 2014."

	r := EvaluateAnswer("what is a saga", answer, chunks, []int{1}, 1)
	assert.InDelta(t, 0.5, r.Faithfulness, 1e-9)
	assert.True(t, r.HasHallucination)
	assert.Equal(t, SeverityModerate, r.HallucinationSeverity)
	require.Len(t, r.UnsupportedClaims, 1)
	assert.Contains(t, r.UnsupportedClaims[0], "Kubernetes")
}

func TestSeverityBuckets(t *testing.T) {
	assert.Equal(t, SeverityNone, severityOf(1.0))
	assert.Equal(t, SeverityMinor, severityOf(0.8))
	assert.Equal(t, SeverityMinor, severityOf(0.7))
	assert.Equal(t, SeverityModerate, severityOf(0.5))
	assert.Equal(t, SeverityModerate, severityOf(0.4))
	assert.Equal(t, SeveritySevere, severityOf(0.2))
	assert.Equal(t, SeveritySevere, severityOf(0.0))
}

func TestEvaluateAnswerCompleteness(t *testing.T) {
	// Query content words: saga, compensation, pattern. Answer covers
	// saga and pattern.
	r := EvaluateAnswer("saga compensation pattern",
		"The saga pattern coordinates transactions.", []string{"The saga pattern coordinates transactions."}, nil, 1)
	assert.InDelta(t, 2.0/3.0, r.AnswerCompleteness, 1e-9)
}

func TestEvaluateAnswerCitationGrounding(t *testing.T) {
	r := EvaluateAnswer("q", "Claim one.", []string{"Claim one."}, []int{1, 2, 7}, 2)
	// 1 and 2 are in range for two sources, 7 is not.
	assert.InDelta(t, 2.0/3.0, r.CitationGrounding, 1e-9)

	r = EvaluateAnswer("q", "Claim one.", []string{"Claim one."}, nil, 2)
	assert.Zero(t, r.CitationGrounding)
}

func TestEvaluateAnswerEmptyAnswer(t *testing.T) {
	r := EvaluateAnswer("query", "", []string{"some context"}, nil, 1)
	assert.Zero(t, r.Faithfulness)
	assert.True(t, r.HasHallucination)
	assert.Equal(t, SeveritySevere, r.HallucinationSeverity)
}

func TestEvaluateContext(t *testing.T) {
	answer := "Circuit breakers protect callers by tripping open on repeated failures."
	chunks := []string{
		"The circuit breaker pattern trips open after repeated failures to protect callers.",
		"Bananas are yellow fruit grown in tropical climates.",
	}
	scores := []float64{0.8, 0.2}

	r := EvaluateContext(answer, chunks, scores, 0.5)
	assert.InDelta(t, 0.5, r.Precision, 1e-9)
	assert.InDelta(t, 0.5, r.Relevancy, 1e-9)
	assert.InDelta(t, 0.5, r.Utilization, 1e-9)
	assert.Nil(t, r.Recall)
}

func TestEvaluateContextDefaultThreshold(t *testing.T) {
	r := EvaluateContext("a", []string{"c"}, []float64{0.6}, 0)
	assert.Equal(t, 1.0, r.Precision)
}

func TestEvaluateContextEmpty(t *testing.T) {
	r := EvaluateContext("a", nil, nil, 0.5)
	assert.Zero(t, r.Precision)
	assert.Zero(t, r.Utilization)
}

func TestContextRecall(t *testing.T) {
	relevant := map[string]bool{"d1": true, "d2": true}
	r := ContextRecall([]string{"d1", "d1", "d3"}, relevant)
	require.NotNil(t, r)
	assert.InDelta(t, 0.5, *r, 1e-9)

	assert.Nil(t, ContextRecall([]string{"d1"}, nil))
}
