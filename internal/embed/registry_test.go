package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archrag/archrag/internal/ragerr"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(NewLocalEmbedder(), "", nil)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistryEmbedDocumentsUsesLocal(t *testing.T) {
	r := newTestRegistry(t)

	vecs, err := r.EmbedDocuments(context.Background(), []string{"sidecar pattern", "ambassador pattern"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], LocalDimensions)
}

func TestRegistryEmbedQueryLocalDefault(t *testing.T) {
	r := newTestRegistry(t)

	qe, err := r.EmbedQuery(context.Background(), "what is a service mesh", "")
	require.NoError(t, err)
	assert.Len(t, qe.Local, LocalDimensions)
	assert.Nil(t, qe.Native)
	assert.False(t, qe.Projected)
	assert.False(t, qe.FellBack)
	assert.Equal(t, "local-hash-256", qe.Embedder)
}

func TestRegistryEmbedQueryPremiumProjects(t *testing.T) {
	r := newTestRegistry(t)
	stub := &stubEmbedder{name: "premium", dims: 8}
	require.NoError(t, r.RegisterPremium("premium", stub, identityMatrix("premium", 8, LocalDimensions)))

	qe, err := r.EmbedQuery(context.Background(), "query text", "premium")
	require.NoError(t, err)
	assert.True(t, qe.Projected)
	assert.Equal(t, "premium", qe.Embedder)
	assert.Len(t, qe.Native, 8)
	assert.Len(t, qe.Local, LocalDimensions)

	// Projected query vectors are unit length.
	var norm float64
	for _, v := range qe.Local {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestRegistryEmbedQueryFallsBackWhenUnavailable(t *testing.T) {
	r := newTestRegistry(t)
	stub := &stubEmbedder{name: "premium", dims: 8, unavailable: true}
	require.NoError(t, r.RegisterPremium("premium", stub, identityMatrix("premium", 8, LocalDimensions)))

	qe, err := r.EmbedQuery(context.Background(), "query text", "premium")
	require.NoError(t, err)
	assert.True(t, qe.FellBack)
	assert.False(t, qe.Projected)
	assert.Nil(t, qe.Native)
}

func TestRegistryEmbedQueryFallsBackOnFailure(t *testing.T) {
	r := newTestRegistry(t)
	stub := &stubEmbedder{name: "premium", dims: 8, failEmbed: true}
	require.NoError(t, r.RegisterPremium("premium", stub, identityMatrix("premium", 8, LocalDimensions)))

	qe, err := r.EmbedQuery(context.Background(), "query text", "premium")
	require.NoError(t, err)
	assert.True(t, qe.FellBack)
}

func TestRegistryEmbedQueryUnknownEmbedderFallsBack(t *testing.T) {
	r := newTestRegistry(t)

	// A name that never registered (or was dropped at startup for a
	// missing matrix) degrades to local instead of failing the query.
	qe, err := r.EmbedQuery(context.Background(), "query", "ghost")
	require.NoError(t, err)
	assert.True(t, qe.FellBack)
	assert.False(t, qe.Projected)
	assert.Nil(t, qe.Native)
	assert.Equal(t, "local-hash-256", qe.Embedder)
}

func TestRegistryRegisterPremiumRequiresMatrix(t *testing.T) {
	r := newTestRegistry(t)
	stub := &stubEmbedder{name: "premium", dims: 8}

	err := r.RegisterPremium("premium", stub, nil)
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeMatrixMissing, ragerr.CodeOf(err))

	// Wrong shape is rejected too.
	err = r.RegisterPremium("premium", stub, identityMatrix("premium", 4, LocalDimensions))
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeMatrixMissing, ragerr.CodeOf(err))
}

func TestRegistryRescoreCandidates(t *testing.T) {
	r := newTestRegistry(t)
	stub := &stubEmbedder{name: "premium", dims: 4, embedFn: func(text string) []float32 {
		if len(text) > 10 {
			return []float32{1, 0, 0, 0}
		}
		return []float32{0, 1, 0, 0}
	}}
	require.NoError(t, r.RegisterPremium("premium", stub, identityMatrix("premium", 4, LocalDimensions)))

	sims, err := r.RescoreCandidates(context.Background(), "premium",
		"a long query text", []string{"also a long text", "short"})
	require.NoError(t, err)
	require.Len(t, sims, 2)
	assert.InDelta(t, 1.0, sims[0], 1e-6)
	assert.InDelta(t, 0.0, sims[1], 1e-6)
}

func TestRegistryPremiumNames(t *testing.T) {
	r := newTestRegistry(t)
	for _, name := range []string{"zeta", "alpha"} {
		stub := &stubEmbedder{name: name, dims: 4}
		require.NoError(t, r.RegisterPremium(name, stub, identityMatrix(name, 4, LocalDimensions)))
	}
	assert.Equal(t, []string{"alpha", "zeta"}, r.PremiumNames())
}
