package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseWeightedContributions(t *testing.T) {
	f := NewFuser(60)

	results := f.Fuse([]RankedList{
		{Name: "curated", Weight: 1.0, IDs: []string{"a", "b"}},
		{Name: "web_kb", Weight: 0.9, IDs: []string{"b", "c"}},
	})
	require.Len(t, results, 3)

	byID := map[string]*FusedResult{}
	for _, r := range results {
		byID[r.ChunkID] = r
	}

	// b appears in both lists: 1.0/62 + 0.9/61.
	assert.InDelta(t, 1.0/62+0.9/61, byID["b"].Score, 1e-12)
	// a appears only in curated at rank 1: 1.0/61, no web_kb contribution.
	assert.InDelta(t, 1.0/61, byID["a"].Score, 1e-12)
	// c appears only in web_kb at rank 2: 0.9/62.
	assert.InDelta(t, 0.9/62, byID["c"].Score, 1e-12)

	// b's overlap outweighs a's single top rank.
	assert.Equal(t, "b", results[0].ChunkID)
}

func TestFuseAbsentListContributesNothing(t *testing.T) {
	f := NewFuser(60)
	results := f.Fuse([]RankedList{
		{Name: "vector", Weight: 1.0, IDs: []string{"x"}},
		{Name: "bm25", Weight: 1.0, IDs: nil},
	})
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0/61, results[0].Score, 1e-12)
	assert.Equal(t, 1, results[0].InSources())
}

func TestFuseDeterministicTieBreak(t *testing.T) {
	f := NewFuser(60)

	// Two chunks with identical score and source count tie-break by ID.
	results := f.Fuse([]RankedList{
		{Name: "vector", Weight: 1.0, IDs: []string{"zzz"}},
		{Name: "bm25", Weight: 1.0, IDs: []string{"aaa"}},
	})
	require.Len(t, results, 2)
	assert.Equal(t, "aaa", results[0].ChunkID)
	assert.Equal(t, "zzz", results[1].ChunkID)
}

func TestFuseSourceCountBreaksScoreTies(t *testing.T) {
	// Crafted tie: "solo" scores 1.0/(1+1)=0.5 from one list; "both"
	// scores 0.25+0.25=0.5 from two. Same score, "both" wins on
	// source count.
	f := NewFuser(1)
	results := f.Fuse([]RankedList{
		{Name: "l1", Weight: 1.0, IDs: []string{"solo"}},
		{Name: "l2", Weight: 0.5, IDs: []string{"both"}},
		{Name: "l3", Weight: 0.5, IDs: []string{"both"}},
	})
	require.Len(t, results, 2)
	assert.Equal(t, "both", results[0].ChunkID)
	assert.Equal(t, 2, results[0].InSources())
	assert.Equal(t, "solo", results[1].ChunkID)
}

func TestFuseEmpty(t *testing.T) {
	f := NewFuser(60)
	assert.Empty(t, f.Fuse(nil))
	assert.Empty(t, f.Fuse([]RankedList{{Name: "x", Weight: 1}}))
}

func TestNewFuserDefaultsK(t *testing.T) {
	assert.Equal(t, DefaultRRFConstant, NewFuser(0).K)
	assert.Equal(t, DefaultRRFConstant, NewFuser(-5).K)
	assert.Equal(t, 30, NewFuser(30).K)
}

func TestFuseRankOrderPreserved(t *testing.T) {
	f := NewFuser(60)
	results := f.Fuse([]RankedList{
		{Name: "vector", Weight: 1.0, IDs: []string{"first", "second", "third"}},
	})
	require.Len(t, results, 3)
	assert.Equal(t, "first", results[0].ChunkID)
	assert.Equal(t, "second", results[1].ChunkID)
	assert.Equal(t, "third", results[2].ChunkID)
	assert.Equal(t, 1, results[0].BestRank)
	assert.Equal(t, 3, results[2].BestRank)
}
