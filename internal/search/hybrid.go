package search

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/archrag/archrag/internal/store"
)

// Hybrid runs the BM25 and vector branches in parallel and fuses their
// rankings. Both branches search the same local-space index population;
// tier weighting happens later, at the orchestrator level.
type Hybrid struct {
	vector store.VectorIndex
	text   store.TextIndex
	fuser  *Fuser
	logger *slog.Logger
}

// NewHybrid creates a hybrid searcher over the given indexes.
func NewHybrid(vector store.VectorIndex, text store.TextIndex, rrfK int, logger *slog.Logger) *Hybrid {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hybrid{
		vector: vector,
		text:   text,
		fuser:  NewFuser(rrfK),
		logger: logger,
	}
}

// Branches runs the vector and text branches concurrently without
// fusing, fetching vecK and textK hits respectively. The caller filters
// and reorders the branch rankings (catalog visibility, premium
// rescoring) before handing them to Fuse. One branch failing degrades
// to the other; only both failing is an error.
func (h *Hybrid) Branches(ctx context.Context, queryText string, queryVec []float32, vecK, textK int, filter *store.Filter) ([]*store.VectorHit, []*store.TextHit, error) {
	var (
		vecHits  []*store.VectorHit
		textHits []*store.TextHit
		vecErr   error
		textErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecHits, vecErr = h.vector.Search(gctx, queryVec, vecK, filter)
		return nil
	})
	g.Go(func() error {
		textHits, textErr = h.text.Search(gctx, queryText, textK, filter)
		return nil
	})
	_ = g.Wait()

	if vecErr != nil && textErr != nil {
		return nil, nil, vecErr
	}
	if vecErr != nil {
		h.logger.Warn("vector branch failed, using BM25 only", slog.String("error", vecErr.Error()))
	}
	if textErr != nil {
		h.logger.Warn("bm25 branch failed, using vector only", slog.String("error", textErr.Error()))
	}
	return vecHits, textHits, nil
}

// Fuse merges pre-ranked vector and text ID lists by RRF with equal
// branch weights.
func (h *Hybrid) Fuse(vecIDs, textIDs []string) []*FusedResult {
	return h.fuser.Fuse([]RankedList{
		{Name: "vector", Weight: 1.0, IDs: vecIDs},
		{Name: "bm25", Weight: 1.0, IDs: textIDs},
	})
}
