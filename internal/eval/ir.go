package eval

import (
	"math"
)

// IR metrics for offline retrieval benchmarks: given a ranked result
// list and a relevance judgment set, score the ranking. Used by the
// calibration workflow to compare projected search against native.

// PrecisionAtK is the fraction of the top k that is relevant.
func PrecisionAtK(ranked []string, relevant map[string]bool, k int) float64 {
	if k <= 0 {
		return 0
	}
	if k > len(ranked) {
		k = len(ranked)
	}
	if k == 0 {
		return 0
	}
	hits := 0
	for _, id := range ranked[:k] {
		if relevant[id] {
			hits++
		}
	}
	return float64(hits) / float64(k)
}

// RecallAtK is the fraction of relevant documents found in the top k.
func RecallAtK(ranked []string, relevant map[string]bool, k int) float64 {
	if len(relevant) == 0 || k <= 0 {
		return 0
	}
	if k > len(ranked) {
		k = len(ranked)
	}
	hits := 0
	for _, id := range ranked[:k] {
		if relevant[id] {
			hits++
		}
	}
	return float64(hits) / float64(len(relevant))
}

// MRR is the reciprocal rank of the first relevant result.
func MRR(ranked []string, relevant map[string]bool) float64 {
	for i, id := range ranked {
		if relevant[id] {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// AveragePrecision is the mean of precision at each relevant hit.
func AveragePrecision(ranked []string, relevant map[string]bool) float64 {
	if len(relevant) == 0 {
		return 0
	}
	hits := 0
	sum := 0.0
	for i, id := range ranked {
		if relevant[id] {
			hits++
			sum += float64(hits) / float64(i+1)
		}
	}
	return sum / float64(len(relevant))
}

// NDCGAtK computes normalized discounted cumulative gain with graded
// relevance. gains maps document ID to its relevance grade.
func NDCGAtK(ranked []string, gains map[string]float64, k int) float64 {
	if k <= 0 || len(gains) == 0 {
		return 0
	}
	if k > len(ranked) {
		k = len(ranked)
	}

	dcg := 0.0
	for i := 0; i < k; i++ {
		if g, ok := gains[ranked[i]]; ok && g > 0 {
			dcg += (math.Pow(2, g) - 1) / math.Log2(float64(i+2))
		}
	}

	// Ideal ordering: gains sorted descending.
	ideal := make([]float64, 0, len(gains))
	for _, g := range gains {
		if g > 0 {
			ideal = append(ideal, g)
		}
	}
	sortDesc(ideal)
	idcg := 0.0
	for i := 0; i < k && i < len(ideal); i++ {
		idcg += (math.Pow(2, ideal[i]) - 1) / math.Log2(float64(i+2))
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

func sortDesc(v []float64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] > v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
}
