package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, dims int) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(HNSWConfig{Dimensions: dims})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func vec(dims int, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1.0
	return v
}

func TestHNSWUpsertAndSearch(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	recs := []VectorRecord{
		{ChunkID: "a", Vector: vec(4, 0), Payload: Payload{TierOrigin: TierCurated}},
		{ChunkID: "b", Vector: vec(4, 1), Payload: Payload{TierOrigin: TierCurated}},
		{ChunkID: "c", Vector: vec(4, 2), Payload: Payload{TierOrigin: TierWebKB}},
	}
	require.NoError(t, idx.Upsert(ctx, recs))
	assert.Equal(t, 3, idx.Count())

	hits, err := idx.Search(ctx, vec(4, 0), 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-5)
}

func TestHNSWSearchScoreIsCosineSimilarity(t *testing.T) {
	idx := newTestIndex(t, 2)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []VectorRecord{
		{ChunkID: "same", Vector: []float32{1, 0}},
		{ChunkID: "orthogonal", Vector: []float32{0, 1}},
	}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	byID := map[string]float32{}
	for _, h := range hits {
		byID[h.ChunkID] = h.Score
	}
	assert.InDelta(t, 1.0, float64(byID["same"]), 1e-5)
	assert.InDelta(t, 0.0, float64(byID["orthogonal"]), 1e-5)
}

func TestHNSWFilteredSearch(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []VectorRecord{
		{ChunkID: "cur", Vector: vec(4, 0), Payload: Payload{TierOrigin: TierCurated}},
		{ChunkID: "web", Vector: vec(4, 0), Payload: Payload{TierOrigin: TierWebKB}},
	}))

	hits, err := idx.Search(ctx, vec(4, 0), 5, &Filter{TierOrigins: []TierOrigin{TierWebKB}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "web", hits[0].ChunkID)
}

func TestHNSWUpsertReplaces(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []VectorRecord{{ChunkID: "a", Vector: vec(4, 0)}}))
	require.NoError(t, idx.Upsert(ctx, []VectorRecord{{ChunkID: "a", Vector: vec(4, 3)}}))
	assert.Equal(t, 1, idx.Count())

	hits, err := idx.Search(ctx, vec(4, 3), 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-5)
}

func TestHNSWDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	err := idx.Upsert(ctx, []VectorRecord{{ChunkID: "a", Vector: vec(8, 0)}})
	require.Error(t, err)
	assert.IsType(t, ErrDimensionMismatch{}, err)

	_, err = idx.Search(ctx, vec(8, 0), 1, nil)
	require.Error(t, err)
}

func TestHNSWDelete(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []VectorRecord{
		{ChunkID: "a", Vector: vec(4, 0)},
		{ChunkID: "b", Vector: vec(4, 1)},
	}))
	require.NoError(t, idx.Delete(ctx, []string{"a"}))

	assert.Equal(t, 1, idx.Count())
	assert.False(t, idx.Contains("a"))
	assert.True(t, idx.Contains("b"))

	// Orphaned graph node must not surface in results.
	hits, err := idx.Search(ctx, vec(4, 0), 2, nil)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "a", h.ChunkID)
	}
}

func TestHNSWDeleteByFilter(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []VectorRecord{
		{ChunkID: "cur", Vector: vec(4, 0), Payload: Payload{TierOrigin: TierCurated}},
		{ChunkID: "web1", Vector: vec(4, 1), Payload: Payload{TierOrigin: TierWebKB}},
		{ChunkID: "web2", Vector: vec(4, 2), Payload: Payload{TierOrigin: TierWebKB}},
	}))

	removed, err := idx.DeleteByFilter(ctx, &Filter{TierOrigins: []TierOrigin{TierWebKB}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"web1", "web2"}, removed)
	assert.Equal(t, 1, idx.Count())
}

func TestHNSWSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")
	ctx := context.Background()

	idx := newTestIndex(t, 4)
	require.NoError(t, idx.Upsert(ctx, []VectorRecord{
		{ChunkID: "a", Vector: vec(4, 0), Payload: Payload{TierOrigin: TierCurated, Title: "A"}},
		{ChunkID: "b", Vector: vec(4, 1), Payload: Payload{TierOrigin: TierWebKB}},
	}))
	require.NoError(t, idx.Save(path))

	loaded := newTestIndex(t, 4)
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, 2, loaded.Count())

	hits, err := loaded.Search(ctx, vec(4, 0), 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.Equal(t, "A", hits[0].Payload.Title)
}

func TestHNSWEmptySearch(t *testing.T) {
	idx := newTestIndex(t, 4)
	hits, err := idx.Search(context.Background(), vec(4, 0), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
