package search

import (
	"context"
	"log/slog"
	"sort"
)

// Rescorer computes native premium-space similarities between a query and
// candidate texts.
type Rescorer interface {
	RescoreCandidates(ctx context.Context, embedderName, query string, texts []string) ([]float64, error)
}

// TwoStep implements the second step of hybrid embedding search: a broad
// approximate candidate set retrieved in local space is re-ranked by
// native premium similarity, recovering the precision the calibration
// projection gives up.
type TwoStep struct {
	rescorer Rescorer
	logger   *slog.Logger
}

// NewTwoStep creates a two-step rescorer.
func NewTwoStep(rescorer Rescorer, logger *slog.Logger) *TwoStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &TwoStep{rescorer: rescorer, logger: logger}
}

// Rescore re-ranks candidates by native premium similarity and truncates
// to finalK. Candidates must carry their text. On rescoring failure the
// approximate ordering is returned unchanged; degraded ordering beats a
// failed query.
//
// Ties break by native similarity (desc) → approximate rank (asc) →
// ChunkID (asc).
func (t *TwoStep) Rescore(ctx context.Context, embedderName, query string, candidates []*RetrievedChunk, finalK int) []*RetrievedChunk {
	if len(candidates) == 0 || finalK <= 0 {
		return []*RetrievedChunk{}
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}

	sims, err := t.rescorer.RescoreCandidates(ctx, embedderName, query, texts)
	if err != nil || len(sims) != len(candidates) {
		if err != nil {
			t.logger.Warn("premium rescoring failed, keeping approximate order",
				slog.String("embedder", embedderName),
				slog.String("error", err.Error()))
		}
		return truncate(candidates, finalK)
	}

	rescored := make([]*RetrievedChunk, len(candidates))
	approxRank := make(map[string]int, len(candidates))
	for i, c := range candidates {
		cc := *c
		cc.SimilarityNative = sims[i]
		rescored[i] = &cc
		approxRank[c.ChunkID] = i
	}

	sort.Slice(rescored, func(i, j int) bool {
		a, b := rescored[i], rescored[j]
		if a.SimilarityNative != b.SimilarityNative {
			return a.SimilarityNative > b.SimilarityNative
		}
		if approxRank[a.ChunkID] != approxRank[b.ChunkID] {
			return approxRank[a.ChunkID] < approxRank[b.ChunkID]
		}
		return a.ChunkID < b.ChunkID
	})

	for i, c := range rescored {
		c.RankInSource = i + 1
	}
	return truncate(rescored, finalK)
}

func truncate(chunks []*RetrievedChunk, k int) []*RetrievedChunk {
	if len(chunks) > k {
		return chunks[:k]
	}
	return chunks
}
