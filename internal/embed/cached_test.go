package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedEmbedderHitsCache(t *testing.T) {
	stub := &stubEmbedder{name: "stub", dims: 8}
	c := NewCachedEmbedder(stub, 10)
	ctx := context.Background()

	v1, err := c.Embed(ctx, "repeated query")
	require.NoError(t, err)
	v2, err := c.Embed(ctx, "repeated query")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), stub.calls.Load())
}

func TestCachedEmbedderBatchMixedHits(t *testing.T) {
	stub := &stubEmbedder{name: "stub", dims: 8}
	c := NewCachedEmbedder(stub, 10)
	ctx := context.Background()

	_, err := c.Embed(ctx, "warm")
	require.NoError(t, err)
	require.Equal(t, int64(1), stub.calls.Load())

	vecs, err := c.EmbedBatch(ctx, []string{"warm", "cold"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	// Only "cold" goes to the inner embedder.
	assert.Equal(t, int64(2), stub.calls.Load())
}

func TestCachedEmbedderDistinctModelsDistinctKeys(t *testing.T) {
	a := NewCachedEmbedder(&stubEmbedder{name: "model-a", dims: 4}, 10)
	b := NewCachedEmbedder(&stubEmbedder{name: "model-b", dims: 4}, 10)

	assert.NotEqual(t, a.cacheKey("same text"), b.cacheKey("same text"))
}

func TestCachedEmbedderPassthrough(t *testing.T) {
	stub := &stubEmbedder{name: "stub", dims: 16}
	c := NewCachedEmbedder(stub, 0)

	assert.Equal(t, 16, c.Dimensions())
	assert.Equal(t, "stub", c.ModelName())
	assert.True(t, c.Available(context.Background()))
	assert.Same(t, Embedder(stub), c.Inner())
}
