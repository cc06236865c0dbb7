package web

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/archrag/archrag/internal/ragerr"
)

// defaultSearchDeadline bounds the discovery-plus-extraction pass when
// the caller's context carries no deadline of its own.
const defaultSearchDeadline = 10 * time.Second

// maxConcurrentExtractions bounds parallel page fetches.
const maxConcurrentExtractions = 4

// Live is the live web tier: discovery through a Searcher, trust scoring
// and block filtering, then concurrent page extraction. Extraction
// failures degrade to the discovery snippet, so a slow or hostile page
// never sinks the tier.
type Live struct {
	searcher   Searcher
	extractor  Extractor
	trust      *TrustScorer
	limiter    *RateLimiter
	maxResults int
	logger     *slog.Logger
}

// NewLive assembles the live web tier.
func NewLive(searcher Searcher, extractor Extractor, trust *TrustScorer, limiter *RateLimiter, maxResults int, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	return &Live{
		searcher:   searcher,
		extractor:  extractor,
		trust:      trust,
		limiter:    limiter,
		maxResults: maxResults,
		logger:     logger,
	}
}

// Name returns the underlying provider's name.
func (l *Live) Name() string {
	return "web:" + l.searcher.Name()
}

// Search runs discovery and extraction under one wall-clock deadline:
// the caller's context deadline when present (the orchestrator applies
// its configured per-tier timeout), the 10 s default otherwise. Returns
// results in discovery rank order, each with a trust score and either
// extracted content or the snippet. An exhausted rate budget is an
// ERR_301 error; so is discovery failing outright.
func (l *Live) Search(ctx context.Context, query string) ([]*SearchResult, error) {
	if !l.limiter.Allow() {
		return nil, ragerr.New(ragerr.ErrCodeRateLimited, "web search budget exhausted", nil)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultSearchDeadline)
		defer cancel()
	}

	discovered, err := l.searcher.Search(ctx, query, l.maxResults)
	if err != nil {
		return nil, err
	}

	results := make([]*SearchResult, 0, len(discovered))
	for _, r := range discovered {
		if l.trust.Blocked(r.URL) {
			l.logger.Debug("dropping blocked domain", slog.String("url", r.URL))
			continue
		}
		r.TrustScore = l.trust.Score(r.URL)
		results = append(results, r)
	}

	l.extractAll(ctx, results)

	// Keep only results that ended up with usable text.
	usable := results[:0]
	for _, r := range results {
		if r.Content == "" {
			r.Content = r.Snippet
		}
		if r.Content != "" {
			usable = append(usable, r)
		}
	}
	return usable, nil
}

// extractAll fetches page content for each result concurrently. Failures
// are logged and left for the snippet fallback.
func (l *Live) extractAll(ctx context.Context, results []*SearchResult) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentExtractions)

	for _, r := range results {
		g.Go(func() error {
			content, err := l.extractor.Extract(gctx, r.URL)
			if err != nil {
				l.logger.Debug("page extraction failed, using snippet",
					slog.String("url", r.URL),
					slog.String("error", err.Error()))
				return nil
			}
			if content != "" {
				r.Content = content
				r.Extracted = true
			}
			return nil
		})
	}
	_ = g.Wait()
}
