package embed

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitMatrixRecoversLinearMap(t *testing.T) {
	// Ground truth: a known 4x2 projection. Training pairs are random
	// premium vectors with exact projected images, so the least-squares
	// fit should recover the map almost exactly.
	truth, err := NewMatrix("truth", 4, 2)
	require.NoError(t, err)
	vals := []float32{0.5, -1, 2, 0.25, -0.75, 1.5, 0, 3}
	copy(truth.Data, vals)

	rng := rand.New(rand.NewSource(42))
	n := 50
	premium := make([][]float32, n)
	local := make([][]float32, n)
	for s := 0; s < n; s++ {
		p := make([]float32, 4)
		for i := range p {
			p[i] = float32(rng.NormFloat64())
		}
		premium[s] = p
		img, err := truth.Apply(p)
		require.NoError(t, err)
		local[s] = img
	}

	fitted, err := FitMatrix("fit", premium, local)
	require.NoError(t, err)
	require.Equal(t, 4, fitted.Rows)
	require.Equal(t, 2, fitted.Cols)

	for i := range truth.Data {
		assert.InDelta(t, float64(truth.Data[i]), float64(fitted.Data[i]), 1e-3)
	}
}

func TestFitMatrixProjectionQuality(t *testing.T) {
	// A fitted projection should map held-out premium vectors close to
	// their true local images.
	truth := identityMatrix("truth", 6, 3)
	rng := rand.New(rand.NewSource(7))

	sample := func() []float32 {
		p := make([]float32, 6)
		for i := range p {
			p[i] = float32(rng.NormFloat64())
		}
		return p
	}

	n := 80
	premium := make([][]float32, n)
	local := make([][]float32, n)
	for s := 0; s < n; s++ {
		premium[s] = sample()
		img, err := truth.Apply(premium[s])
		require.NoError(t, err)
		local[s] = img
	}

	fitted, err := FitMatrix("fit", premium, local)
	require.NoError(t, err)

	heldOut := sample()
	want, err := truth.Apply(heldOut)
	require.NoError(t, err)
	got, err := fitted.Apply(heldOut)
	require.NoError(t, err)

	sim := CosineSimilarity(want, got)
	assert.Greater(t, sim, 0.999)
}

func TestFitMatrixRejectsMismatchedSamples(t *testing.T) {
	_, err := FitMatrix("x", [][]float32{{1, 2}}, [][]float32{})
	assert.Error(t, err)

	_, err = FitMatrix("x", [][]float32{{1, 2}, {1}}, [][]float32{{1}, {1}})
	assert.Error(t, err)
}

func TestSolveMultiRHS(t *testing.T) {
	// 2x2 system with two right-hand sides:
	// [2 1; 1 3] X = [5 1; 10 2]  =>  X = [1 0.2; 3 0.6]
	a := []float64{2, 1, 1, 3}
	b := []float64{5, 1, 10, 2}
	x, err := solveMultiRHS(a, b, 2, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, x[0], 1e-9)
	assert.InDelta(t, 0.2, x[1], 1e-9)
	assert.InDelta(t, 3.0, x[2], 1e-9)
	assert.InDelta(t, 0.6, x[3], 1e-9)
}

func TestSolveMultiRHSSingular(t *testing.T) {
	a := []float64{1, 2, 2, 4}
	b := []float64{1, 2}
	_, err := solveMultiRHS(a, b, 2, 1)
	assert.Error(t, err)
}
