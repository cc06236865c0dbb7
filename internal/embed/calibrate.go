package embed

import (
	"fmt"
)

// ridgeLambda keeps the normal equations well conditioned when training
// pairs are few relative to the premium dimension.
const ridgeLambda = 1e-6

// FitMatrix trains a calibration matrix by regularized least squares:
// given paired embeddings of the same texts, premium (n x dP) and local
// (n x dL), it finds M (dP x dL) minimizing ||premium*M - local||² + λ||M||².
//
// The solve goes through the normal equations (BᵀB + λI)M = BᵀA with
// Gaussian elimination. For the dimensions in play (a few thousand at
// most) this runs in seconds and needs no external solver.
func FitMatrix(name string, premium, local [][]float32) (*Matrix, error) {
	if len(premium) == 0 || len(premium) != len(local) {
		return nil, fmt.Errorf("calibration needs equal non-empty sample sets, got %d premium and %d local",
			len(premium), len(local))
	}
	dP := len(premium[0])
	dL := len(local[0])
	if dP == 0 || dL == 0 {
		return nil, fmt.Errorf("calibration samples must be non-empty vectors")
	}
	for i := range premium {
		if len(premium[i]) != dP {
			return nil, fmt.Errorf("premium sample %d has dimension %d, want %d", i, len(premium[i]), dP)
		}
		if len(local[i]) != dL {
			return nil, fmt.Errorf("local sample %d has dimension %d, want %d", i, len(local[i]), dL)
		}
	}

	// BᵀB (dP x dP) with ridge term on the diagonal.
	btb := make([]float64, dP*dP)
	for _, row := range premium {
		for i := 0; i < dP; i++ {
			ri := float64(row[i])
			if ri == 0 {
				continue
			}
			for j := 0; j < dP; j++ {
				btb[i*dP+j] += ri * float64(row[j])
			}
		}
	}
	for i := 0; i < dP; i++ {
		btb[i*dP+i] += ridgeLambda
	}

	// BᵀA (dP x dL).
	bta := make([]float64, dP*dL)
	for s, row := range premium {
		for i := 0; i < dP; i++ {
			ri := float64(row[i])
			if ri == 0 {
				continue
			}
			for j := 0; j < dL; j++ {
				bta[i*dL+j] += ri * float64(local[s][j])
			}
		}
	}

	sol, err := solveMultiRHS(btb, bta, dP, dL)
	if err != nil {
		return nil, fmt.Errorf("calibration solve failed: %w", err)
	}

	m, err := NewMatrix(name, dP, dL)
	if err != nil {
		return nil, err
	}
	for i := range sol {
		m.Data[i] = float32(sol[i])
	}
	return m, nil
}

// solveMultiRHS solves A*X = B for X where A is n x n and B is n x k,
// using Gaussian elimination with partial pivoting. A and B are mutated.
func solveMultiRHS(a, b []float64, n, k int) ([]float64, error) {
	for col := 0; col < n; col++ {
		// Pivot selection.
		pivot := col
		max := abs64(a[col*n+col])
		for r := col + 1; r < n; r++ {
			if v := abs64(a[r*n+col]); v > max {
				max = v
				pivot = r
			}
		}
		if max == 0 {
			return nil, fmt.Errorf("singular system at column %d", col)
		}
		if pivot != col {
			swapRows(a, n, pivot, col)
			swapRows(b, k, pivot, col)
		}

		// Eliminate below.
		inv := 1.0 / a[col*n+col]
		for r := col + 1; r < n; r++ {
			factor := a[r*n+col] * inv
			if factor == 0 {
				continue
			}
			for c := col; c < n; c++ {
				a[r*n+c] -= factor * a[col*n+c]
			}
			for c := 0; c < k; c++ {
				b[r*k+c] -= factor * b[col*k+c]
			}
		}
	}

	// Back substitution.
	x := make([]float64, n*k)
	for r := n - 1; r >= 0; r-- {
		inv := 1.0 / a[r*n+r]
		for c := 0; c < k; c++ {
			sum := b[r*k+c]
			for j := r + 1; j < n; j++ {
				sum -= a[r*n+j] * x[j*k+c]
			}
			x[r*k+c] = sum * inv
		}
	}
	return x, nil
}

func swapRows(m []float64, width, r1, r2 int) {
	for c := 0; c < width; c++ {
		m[r1*width+c], m[r2*width+c] = m[r2*width+c], m[r1*width+c]
	}
}

func abs64(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
