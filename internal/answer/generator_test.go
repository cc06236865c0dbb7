package answer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archrag/archrag/internal/ragerr"
	"github.com/archrag/archrag/internal/search"
	"github.com/archrag/archrag/internal/store"
)

func chunk(id, tier, title, text string) *search.RetrievedChunk {
	return &search.RetrievedChunk{
		ChunkID:    id,
		Text:       text,
		SourceTier: tier,
		TrustScore: 0.9,
		Payload:    store.Payload{Title: title, URL: "https://example.com/" + id},
	}
}

func TestGenerateProducesCitations(t *testing.T) {
	llm := &MockLLM{Response: "Circuit breakers stop cascades [1]. Retries need backoff [2]."}
	g := NewGenerator(llm, 0, 0, nil)

	chunks := []*search.RetrievedChunk{
		chunk("c1", "curated", "Circuit Breaker", "Circuit breakers stop cascading failures."),
		chunk("c2", "curated", "Retry", "Retries should use exponential backoff."),
	}

	ans, err := g.Generate(context.Background(), "how do I handle failures", chunks, "")
	require.NoError(t, err)
	assert.Equal(t, "mock", ans.Model)
	require.Len(t, ans.Citations, 2)
	assert.Equal(t, 1, ans.Citations[0].Ordinal)
	assert.Equal(t, "c1", ans.Citations[0].ChunkID)
	assert.Equal(t, "curated", ans.Citations[0].SourceTier)
	assert.Equal(t, 2, ans.Citations[1].Ordinal)
	assert.Equal(t, "c2", ans.Citations[1].ChunkID)
}

func TestGenerateIgnoresInvalidOrdinals(t *testing.T) {
	llm := &MockLLM{Response: "Claim [1]. Bad claim [7]. Repeated [1]."}
	g := NewGenerator(llm, 0, 0, nil)

	ans, err := g.Generate(context.Background(), "q",
		[]*search.RetrievedChunk{chunk("c1", "curated", "T", "text")}, "")
	require.NoError(t, err)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, 1, ans.Citations[0].Ordinal)
}

func TestGeneratePromptLayout(t *testing.T) {
	var captured string
	llm := &capturingLLM{fn: func(req GenerateRequest) (string, error) {
		captured = req.Prompt
		return "answer [1]", nil
	}}
	g := NewGenerator(llm, 0, 0, nil)

	chunks := []*search.RetrievedChunk{
		chunk("c1", "curated", "Saga", "Sagas coordinate distributed transactions."),
		chunk("c2", "live_web", "Web Result", "Fresh web content."),
	}
	_, err := g.Generate(context.Background(), "what is a saga", chunks, "we run microservices")
	require.NoError(t, err)

	assert.Contains(t, captured, "[1] (curated) Saga")
	assert.Contains(t, captured, "[2] (live_web, trust 0.9) Web Result")
	assert.Contains(t, captured, "Additional context from the user: we run microservices")
	assert.Contains(t, captured, "Question: what is a saga")
}

func TestGenerateBudgetDropsTail(t *testing.T) {
	var captured string
	llm := &capturingLLM{fn: func(req GenerateRequest) (string, error) {
		captured = req.Prompt
		return "answer [1]", nil
	}}
	// Budget fits roughly one chunk.
	g := NewGenerator(llm, 60, 0, nil)

	chunks := []*search.RetrievedChunk{
		chunk("c1", "curated", "First", strings.Repeat("alpha ", 30)),
		chunk("c2", "curated", "Second", strings.Repeat("beta ", 30)),
	}
	ans, err := g.Generate(context.Background(), "q", chunks, "")
	require.NoError(t, err)
	assert.Contains(t, captured, "First")
	assert.NotContains(t, captured, "Second")
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, "c1", ans.Citations[0].ChunkID)
}

func TestGenerateNoChunks(t *testing.T) {
	g := NewGenerator(&MockLLM{}, 0, 0, nil)
	_, err := g.Generate(context.Background(), "q", nil, "")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeGenerationFailed, ragerr.CodeOf(err))
}

func TestGenerateLLMFailure(t *testing.T) {
	g := NewGenerator(&MockLLM{Err: fmt.Errorf("model down")}, 0, 0, nil)
	_, err := g.Generate(context.Background(), "q",
		[]*search.RetrievedChunk{chunk("c1", "curated", "T", "text")}, "")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeGenerationFailed, ragerr.CodeOf(err))
}

func TestGenerateNoCitationsDefaultsToAllSources(t *testing.T) {
	llm := &capturingLLM{fn: func(GenerateRequest) (string, error) {
		return "an answer without any citation markers", nil
	}}
	g := NewGenerator(llm, 0, 0, nil)

	ans, err := g.Generate(context.Background(), "q", []*search.RetrievedChunk{
		chunk("c1", "curated", "T1", "text one"),
		chunk("c2", "curated", "T2", "text two"),
	}, "")
	require.NoError(t, err)
	assert.Empty(t, ans.RawOrdinals)
	require.Len(t, ans.Citations, 2)
	assert.Equal(t, "c1", ans.Citations[0].ChunkID)
	assert.Equal(t, "c2", ans.Citations[1].ChunkID)
	assert.Equal(t, 2, ans.SourceCount)
}

func TestGenerateKeepsRawOrdinals(t *testing.T) {
	g := NewGenerator(&MockLLM{Response: "Claim [1]. Bad [9]. Again [1]."}, 0, 0, nil)
	ans, err := g.Generate(context.Background(), "q",
		[]*search.RetrievedChunk{chunk("c1", "curated", "T", "text")}, "")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 9, 1}, ans.RawOrdinals)
}

func TestMockLLMCitesSources(t *testing.T) {
	g := NewGenerator(&MockLLM{}, 0, 0, nil)
	ans, err := g.Generate(context.Background(), "q", []*search.RetrievedChunk{
		chunk("c1", "curated", "T1", "First source text."),
		chunk("c2", "curated", "T2", "Second source text."),
	}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, ans.Citations)
}

type capturingLLM struct {
	fn func(GenerateRequest) (string, error)
}

func (c *capturingLLM) Generate(_ context.Context, req GenerateRequest) (string, error) {
	return c.fn(req)
}
func (c *capturingLLM) Name() string                     { return "capturing" }
func (c *capturingLLM) Available(_ context.Context) bool { return true }
func (c *capturingLLM) Close() error                     { return nil }
