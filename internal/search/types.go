// Package search provides hybrid retrieval: BM25 and vector branches run
// in parallel and merge through weighted Reciprocal Rank Fusion, with an
// optional premium rescoring step over the approximate candidate set.
package search

import (
	"github.com/archrag/archrag/internal/store"
)

// RankedList is one source's ordered contribution to fusion. Items are
// ordered best-first; rank is the 1-indexed position.
type RankedList struct {
	Name   string
	Weight float64
	IDs    []string
}

// FusedResult is a single result after weighted RRF fusion.
type FusedResult struct {
	ChunkID  string
	Score    float64        // combined RRF score
	Ranks    map[string]int // source name -> 1-indexed rank
	BestRank int            // lowest rank across sources
}

// InSources returns how many source lists contained the chunk.
func (r *FusedResult) InSources() int {
	return len(r.Ranks)
}

// RetrievedChunk is a fully resolved retrieval result flowing toward
// answer generation.
type RetrievedChunk struct {
	ChunkID          string
	Text             string
	ScoreRaw         float64 // fused or native score, source dependent
	RankInSource     int
	SourceTier       string // "curated", "web_kb", or "live_web"
	SourceName       string // e.g. "hybrid", "web:duckduckgo"
	VectorScore      float64 // local-space cosine from the vector branch, 0 when text-only
	SimilarityNative float64 // premium-space cosine, 0 when not rescored
	TrustScore       float64
	MatchedTerms     []string
	Payload          store.Payload
}
