// Package tier orchestrates the three retrieval sources (curated
// corpus, persistent web knowledge base, live web) and fuses their
// ranked outputs with weighted RRF.
package tier

import (
	"context"
	"log/slog"
	"time"

	"github.com/archrag/archrag/internal/embed"
	"github.com/archrag/archrag/internal/search"
	"github.com/archrag/archrag/internal/store"
)

// ChunkHydrator resolves chunk IDs to their full catalog rows, applying
// visibility and expiry rules. *store.Catalog satisfies this.
type ChunkHydrator interface {
	VisibleChunks(ctx context.Context, ids []string, now time.Time) (map[string]*store.Chunk, error)
}

// LocalResult is the outcome of one local-tier retrieval.
type LocalResult struct {
	Chunks         []*search.RetrievedChunk
	TopVectorScore float64 // best cosine similarity seen in the vector branch
	Reranked       bool    // premium rescoring ran
}

// Retriever runs hybrid retrieval for one tier filter.
type Retriever interface {
	Retrieve(ctx context.Context, queryText string, qe *embed.QueryEmbedding, topK int, filter *store.Filter) (*LocalResult, error)
}

// Pipeline is the production Retriever: hybrid BM25+vector search,
// catalog hydration (which drops invisible and expired chunks), and an
// optional premium rescoring pass when the query was embedded by a
// premium embedder.
type Pipeline struct {
	hybrid     *search.Hybrid
	catalog    ChunkHydrator
	twoStep    *search.TwoStep
	topKApprox int
	now        func() time.Time
	logger     *slog.Logger
}

// NewPipeline assembles a retrieval pipeline. twoStep may be nil to
// disable rescoring; topKApprox is the step-1 candidate count.
func NewPipeline(hybrid *search.Hybrid, catalog ChunkHydrator, twoStep *search.TwoStep, topKApprox int, logger *slog.Logger) *Pipeline {
	if topKApprox <= 0 {
		topKApprox = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		hybrid:     hybrid,
		catalog:    catalog,
		twoStep:    twoStep,
		topKApprox: topKApprox,
		now:        time.Now,
		logger:     logger,
	}
}

// Retrieve runs the pipeline for one tier: both branches fetch, the
// catalog drops invisible and expired candidates, premium rescoring
// reorders the vector branch, and RRF fusion of the two branch rankings
// produces the final order.
func (p *Pipeline) Retrieve(ctx context.Context, queryText string, qe *embed.QueryEmbedding, topK int, filter *store.Filter) (*LocalResult, error) {
	if topK <= 0 {
		return &LocalResult{Chunks: []*search.RetrievedChunk{}}, nil
	}

	rescore := qe.Projected && p.twoStep != nil
	branchK := topK * 3
	vecK := branchK
	if rescore && p.topKApprox > vecK {
		vecK = p.topKApprox
	}

	vecHits, textHits, err := p.hybrid.Branches(ctx, queryText, qe.Local, vecK, branchK, filter)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(vecHits)+len(textHits))
	for _, h := range vecHits {
		ids = append(ids, h.ChunkID)
	}
	for _, h := range textHits {
		ids = append(ids, h.ChunkID)
	}
	rows, err := p.catalog.VisibleChunks(ctx, ids, p.now())
	if err != nil {
		return nil, err
	}

	// Visible candidates in branch order. Dropping invisible chunks
	// before fusion keeps them from displacing live ones in the ranks.
	vecOrder := make([]string, 0, len(vecHits))
	vectorScore := make(map[string]float64, len(vecHits))
	topVec := 0.0
	for _, h := range vecHits {
		if _, ok := rows[h.ChunkID]; !ok {
			continue
		}
		vecOrder = append(vecOrder, h.ChunkID)
		vectorScore[h.ChunkID] = float64(h.Score)
		if float64(h.Score) > topVec {
			topVec = float64(h.Score)
		}
	}
	textOrder := make([]string, 0, len(textHits))
	matched := make(map[string][]string, len(textHits))
	for _, h := range textHits {
		if _, ok := rows[h.ChunkID]; !ok {
			continue
		}
		textOrder = append(textOrder, h.ChunkID)
		matched[h.ChunkID] = h.MatchedTerms
	}

	// Premium rescoring reorders the vector branch by native similarity
	// before fusion, so the fused order still weighs text-branch rank.
	native := make(map[string]float64)
	reranked := false
	if rescore && len(vecOrder) > 0 {
		candidates := make([]*search.RetrievedChunk, len(vecOrder))
		for i, id := range vecOrder {
			candidates[i] = &search.RetrievedChunk{ChunkID: id, Text: rows[id].Text}
		}
		rescored := p.twoStep.Rescore(ctx, qe.Embedder, queryText, candidates, branchK)
		vecOrder = vecOrder[:0]
		for _, c := range rescored {
			vecOrder = append(vecOrder, c.ChunkID)
			native[c.ChunkID] = c.SimilarityNative
		}
		reranked = true
	} else if len(vecOrder) > branchK {
		vecOrder = vecOrder[:branchK]
	}

	fused := p.hybrid.Fuse(vecOrder, textOrder)
	if len(fused) > topK {
		fused = fused[:topK]
	}

	chunks := make([]*search.RetrievedChunk, 0, len(fused))
	for i, f := range fused {
		row := rows[f.ChunkID]
		chunks = append(chunks, &search.RetrievedChunk{
			ChunkID:          f.ChunkID,
			Text:             row.Text,
			ScoreRaw:         f.Score,
			RankInSource:     i + 1,
			SourceTier:       string(row.TierOrigin),
			SourceName:       "hybrid",
			TrustScore:       row.TrustScore,
			VectorScore:      vectorScore[f.ChunkID],
			SimilarityNative: native[f.ChunkID],
			MatchedTerms:     matched[f.ChunkID],
			Payload:          row.Payload(),
		})
	}

	return &LocalResult{Chunks: chunks, TopVectorScore: topVec, Reranked: reranked}, nil
}
