package search

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains (used by Azure AI Search,
// OpenSearch, etc.).
const DefaultRRFConstant = 60

// Fuser combines ranked lists using weighted Reciprocal Rank Fusion.
//
// Algorithm: score(d) = Σ weight_i / (k + rank_i)
//
// summed over the lists that actually contain d. A document absent from
// a list receives no contribution from it, so appearing in more lists is
// strictly better than appearing in one.
type Fuser struct {
	K int
}

// NewFuser creates a fuser with the given smoothing constant.
// If k <= 0, defaults to 60.
func NewFuser(k int) *Fuser {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fuser{K: k}
}

// Fuse merges the ranked lists into a single ordering.
//
// Sorted by: fused score (desc) → source count (desc) → best rank (asc)
// → ChunkID (asc). The trailing ChunkID comparison makes the ordering
// fully deterministic.
func (f *Fuser) Fuse(lists []RankedList) []*FusedResult {
	scores := make(map[string]*FusedResult)

	for _, list := range lists {
		for i, id := range list.IDs {
			rank := i + 1
			r, ok := scores[id]
			if !ok {
				r = &FusedResult{
					ChunkID:  id,
					Ranks:    make(map[string]int, len(lists)),
					BestRank: rank,
				}
				scores[id] = r
			}
			r.Ranks[list.Name] = rank
			r.Score += list.Weight / float64(f.K+rank)
			if rank < r.BestRank {
				r.BestRank = rank
			}
		}
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.InSources() != b.InSources() {
			return a.InSources() > b.InSources()
		}
		if a.BestRank != b.BestRank {
			return a.BestRank < b.BestRank
		}
		return a.ChunkID < b.ChunkID
	})

	return results
}
