package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archrag/archrag/internal/store"
)

func newTestIndexes(t *testing.T) (store.VectorIndex, store.TextIndex) {
	t.Helper()
	vec, err := store.NewHNSWIndex(store.HNSWConfig{Dimensions: 4})
	require.NoError(t, err)
	text, err := store.NewBleveTextIndex("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = vec.Close()
		_ = text.Close()
	})
	return vec, text
}

func axis(hot int) []float32 {
	v := make([]float32, 4)
	v[hot] = 1
	return v
}

func seedIndexes(t *testing.T, vec store.VectorIndex, text store.TextIndex) {
	t.Helper()
	ctx := context.Background()

	chunks := []struct {
		id   string
		vdim int
		text string
	}{
		{"breaker", 0, "circuit breaker prevents cascading failures"},
		{"saga", 1, "saga pattern coordinates distributed transactions"},
		{"cache", 2, "cache aside pattern for read heavy workloads"},
	}
	for _, c := range chunks {
		payload := store.Payload{TierOrigin: store.TierCurated, DocumentType: "pattern"}
		require.NoError(t, vec.Upsert(ctx, []store.VectorRecord{
			{ChunkID: c.id, Vector: axis(c.vdim), Payload: payload},
		}))
		require.NoError(t, text.Index(ctx, []*store.TextRecord{
			{ChunkID: c.id, Text: c.text, Payload: payload},
		}))
	}
}

func branchIDs(vecHits []*store.VectorHit, textHits []*store.TextHit) ([]string, []string) {
	vecIDs := make([]string, 0, len(vecHits))
	for _, h := range vecHits {
		vecIDs = append(vecIDs, h.ChunkID)
	}
	textIDs := make([]string, 0, len(textHits))
	for _, h := range textHits {
		textIDs = append(textIDs, h.ChunkID)
	}
	return vecIDs, textIDs
}

func TestHybridBranchesThenFuse(t *testing.T) {
	vec, text := newTestIndexes(t)
	seedIndexes(t, vec, text)
	h := NewHybrid(vec, text, 60, nil)

	vecHits, textHits, err := h.Branches(context.Background(), "circuit breaker", axis(0), 9, 9, nil)
	require.NoError(t, err)
	require.NotEmpty(t, vecHits)
	require.NotEmpty(t, textHits)

	// "breaker" leads both branches so it must rank first after fusion.
	assert.Equal(t, "breaker", vecHits[0].ChunkID)
	assert.InDelta(t, 1.0, float64(vecHits[0].Score), 1e-5)
	assert.Equal(t, "breaker", textHits[0].ChunkID)
	assert.NotEmpty(t, textHits[0].MatchedTerms)

	vecIDs, textIDs := branchIDs(vecHits, textHits)
	fused := h.Fuse(vecIDs, textIDs)
	require.NotEmpty(t, fused)
	assert.Equal(t, "breaker", fused[0].ChunkID)
	assert.Greater(t, fused[0].Score, 0.0)
	assert.Equal(t, 2, fused[0].InSources())
}

func TestHybridBranchesVectorOnlyMatch(t *testing.T) {
	vec, text := newTestIndexes(t)
	seedIndexes(t, vec, text)
	h := NewHybrid(vec, text, 60, nil)

	// Query terms match nothing in BM25; the vector branch still returns.
	vecHits, textHits, err := h.Branches(context.Background(), "zzzz qqqq", axis(1), 6, 6, nil)
	require.NoError(t, err)
	require.NotEmpty(t, vecHits)
	assert.Empty(t, textHits)
	assert.Equal(t, "saga", vecHits[0].ChunkID)

	vecIDs, textIDs := branchIDs(vecHits, textHits)
	fused := h.Fuse(vecIDs, textIDs)
	require.NotEmpty(t, fused)
	assert.Equal(t, "saga", fused[0].ChunkID)
	assert.Equal(t, 1, fused[0].InSources())
}

func TestHybridBranchesRespectFilter(t *testing.T) {
	vec, text := newTestIndexes(t)
	ctx := context.Background()

	webPayload := store.Payload{TierOrigin: store.TierWebKB, DocumentType: "web"}
	require.NoError(t, vec.Upsert(ctx, []store.VectorRecord{
		{ChunkID: "web", Vector: axis(3), Payload: webPayload},
	}))
	require.NoError(t, text.Index(ctx, []*store.TextRecord{
		{ChunkID: "web", Text: "circuit breaker on the web", Payload: webPayload},
	}))
	seedIndexes(t, vec, text)

	h := NewHybrid(vec, text, 60, nil)
	vecHits, textHits, err := h.Branches(ctx, "circuit breaker", axis(3), 5, 5,
		&store.Filter{TierOrigins: []store.TierOrigin{store.TierWebKB}})
	require.NoError(t, err)
	require.Len(t, vecHits, 1)
	assert.Equal(t, "web", vecHits[0].ChunkID)
	require.Len(t, textHits, 1)
	assert.Equal(t, "web", textHits[0].ChunkID)
}

func TestHybridFuseAsymmetricRankings(t *testing.T) {
	vec, text := newTestIndexes(t)
	h := NewHybrid(vec, text, 60, nil)

	// A chunk ranked mid-list in both branches beats one that leads a
	// single branch: 1/62+1/62 > 1/61.
	fused := h.Fuse([]string{"a", "b"}, []string{"c", "b"})
	require.Len(t, fused, 3)
	assert.Equal(t, "b", fused[0].ChunkID)
}
