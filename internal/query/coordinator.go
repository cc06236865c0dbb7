package query

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/archrag/archrag/internal/answer"
	"github.com/archrag/archrag/internal/cache"
	"github.com/archrag/archrag/internal/config"
	"github.com/archrag/archrag/internal/embed"
	"github.com/archrag/archrag/internal/eval"
	"github.com/archrag/archrag/internal/ragerr"
	"github.com/archrag/archrag/internal/search"
	"github.com/archrag/archrag/internal/telemetry"
	"github.com/archrag/archrag/internal/tier"
)

// Orchestrator is the retrieval fan-out the coordinator drives.
// *tier.Orchestrator satisfies this.
type Orchestrator interface {
	Retrieve(ctx context.Context, req tier.Request) (*tier.Result, error)
}

// Generator produces a grounded answer. *answer.Generator satisfies this.
type Generator interface {
	Generate(ctx context.Context, query string, chunks []*search.RetrievedChunk, userContext string) (*answer.Answer, error)
}

// Coordinator runs the full query pipeline: validate, embed once, cache
// lookup, tiered retrieval, generation, evaluation, cache store. Every
// step past retrieval degrades instead of failing the query.
type Coordinator struct {
	cfg          *config.Config
	registry     *embed.Registry
	orchestrator Orchestrator
	generator    Generator
	cache        *cache.Semantic[*AnswerResult]
	metrics      *telemetry.Metrics
	stats        *telemetry.QueryStats
	logger       *slog.Logger
	sample       func() float64
}

// NewCoordinator wires the pipeline. cache, metrics, and stats may be nil.
func NewCoordinator(cfg *config.Config, registry *embed.Registry, orchestrator Orchestrator,
	generator Generator, answerCache *cache.Semantic[*AnswerResult],
	metrics *telemetry.Metrics, stats *telemetry.QueryStats, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:          cfg,
		registry:     registry,
		orchestrator: orchestrator,
		generator:    generator,
		cache:        answerCache,
		metrics:      metrics,
		stats:        stats,
		logger:       logger,
		sample:       rand.Float64,
	}
}

// Query answers one request. Validation and embedding failures surface;
// retrieval degradation, generation failure, evaluation failure, and
// cache failures all produce a partial result instead of an error.
func (c *Coordinator) Query(ctx context.Context, req *Request) (*AnswerResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ragerr.New(ragerr.ErrCodeEmptyQuery, "query must not be empty", nil)
	}
	topK := req.TopK
	if topK == 0 {
		topK = c.cfg.Retrieval.TopKDefault
	}
	if topK < 1 || topK > 25 {
		return nil, ragerr.Newf(ragerr.ErrCodeTopKRange, "top_k must be in [1,25], got %d", topK)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout())
	defer cancel()

	start := time.Now()

	embedStart := time.Now()
	qe, err := c.registry.EmbedQuery(ctx, req.Query, req.EmbedderType)
	if err != nil {
		c.countQuery("error")
		return nil, err
	}
	c.observeStage("embed", time.Since(embedStart))
	if qe.FellBack && c.metrics != nil {
		c.metrics.EmbedFallbacks.Inc()
	}

	fingerprint := Fingerprint(req.UserContext)

	if req.CacheEnabled() && c.cache != nil {
		if cached, sim, ok := c.cache.Lookup(qe.Local, fingerprint); ok {
			c.countCacheLookup("hit")
			c.countQuery("cached")
			c.recordEvent(req, qe, nil, true, len(cached.Sources), time.Since(start))

			hit := *cached
			hit.CacheHit = true
			if hit.RetrievalStats != nil {
				stats := *hit.RetrievalStats
				stats.CacheHit = true
				hit.RetrievalStats = &stats
			}
			c.logger.Debug("semantic cache hit",
				slog.Float64("similarity", sim),
				slog.String("query", req.Query))
			return &hit, nil
		}
		c.countCacheLookup("miss")
	}

	mode := config.WebModeOff
	if req.EnableWebSearch {
		mode = req.WebMode
		if mode == "" {
			mode = c.cfg.Web.Mode
		}
	}

	retrieveStart := time.Now()
	retrieval, err := c.orchestrator.Retrieve(ctx, tier.Request{
		QueryText:     req.Query,
		Embedding:     qe,
		TopK:          topK,
		Mode:          mode,
		DocumentTypes: documentTypeFilter(req.UserContext),
	})
	if err != nil {
		c.countQuery("error")
		return nil, err
	}
	c.observeStage("retrieve", time.Since(retrieveStart))
	if qe.FellBack {
		retrieval.Decision.Add("embedder", "fallback", "premium embedder unavailable, used local")
	}

	result := c.assembleRetrieval(qe, retrieval, topK, mode)

	var ans *answer.Answer
	if len(retrieval.Chunks) > 0 {
		generateStart := time.Now()
		ans, err = c.generator.Generate(ctx, req.Query, retrieval.Chunks, userContextNarrative(req.UserContext))
		c.observeStage("generate", time.Since(generateStart))
		if err != nil {
			// Sources still go back to the caller; only the answer is lost.
			c.logger.Error("answer generation failed",
				slog.String("query", req.Query),
				slog.String("error", err.Error()))
			retrieval.Decision.Add("generator", "failed", err.Error())
			c.countQuery("error")
			c.recordEvent(req, qe, retrieval, false, len(retrieval.Chunks), time.Since(start))
			return result, nil
		}
		result.Answer = ans.Text
		result.ContextDocsUsed = ans.SourceCount
		result.GenerationReasoning = reasoningFor(ans, retrieval.Chunks)
	}

	if ans != nil && c.shouldEvaluate() {
		result.QualityMetrics = c.evaluate(req.Query, ans, retrieval.Chunks)
	}

	if req.CacheEnabled() && c.cache != nil && ans != nil {
		stored := *result
		c.cache.Store(req.Query, qe.Local, fingerprint, &stored)
	}

	c.observeStage("total", time.Since(start))
	c.countQuery("ok")
	c.recordEvent(req, qe, retrieval, false, len(retrieval.Chunks), time.Since(start))
	return result, nil
}

// assembleRetrieval builds the result skeleton from the fused chunks.
func (c *Coordinator) assembleRetrieval(qe *embed.QueryEmbedding, retrieval *tier.Result, topK int, mode config.WebMode) *AnswerResult {
	sources := make([]Source, 0, len(retrieval.Chunks))
	for _, ch := range retrieval.Chunks {
		sources = append(sources, Source{
			DocumentID:   ch.Payload.DocumentID,
			SourcePath:   ch.Payload.SourcePath,
			DocumentType: ch.Payload.DocumentType,
			Score:        ch.ScoreRaw,
			SourceType:   ch.SourceTier,
			URL:          ch.Payload.URL,
			TrustScore:   ch.TrustScore,
			Title:        ch.Payload.Title,
			ChunkText:    truncate(ch.Text, chunkTextPreview),
		})
	}

	stats := retrieval.Stats
	return &AnswerResult{
		Sources:        sources,
		RetrievedDocs:  len(retrieval.Chunks),
		RetrievalStats: &stats,
		RetrievalMetrics: &RetrievalMetrics{
			Documents:     len(retrieval.Chunks),
			TierBreakdown: retrieval.Decision.TierCounts,
			DecisionPath:  retrieval.Decision,
			SearchParameters: SearchParameters{
				TopK:     topK,
				WebMode:  string(mode),
				Embedder: qe.Embedder,
				RRFK:     c.cfg.Retrieval.RRFK,
			},
		},
	}
}

// evaluate runs the word-overlap quality metrics, logging and counting
// hallucinations. Never fails the query.
func (c *Coordinator) evaluate(queryText string, ans *answer.Answer, chunks []*search.RetrievedChunk) *QualityMetrics {
	texts := make([]string, len(chunks))
	scores := make([]float64, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
		scores[i] = relevanceFor(ch)
	}

	answerReport := eval.EvaluateAnswer(queryText, ans.Text, texts, ans.RawOrdinals, ans.SourceCount)
	contextReport := eval.EvaluateContext(ans.Text, texts, scores, c.cfg.Evaluation.RelevanceThreshold)

	switch answerReport.HallucinationSeverity {
	case eval.SeverityModerate, eval.SeveritySevere:
		c.logger.Warn("hallucination detected",
			slog.String("query", queryText),
			slog.String("severity", answerReport.HallucinationSeverity),
			slog.Float64("faithfulness", answerReport.Faithfulness),
			slog.Any("unsupported_claims", answerReport.UnsupportedClaims))
	}
	if answerReport.HasHallucination && c.metrics != nil {
		c.metrics.Hallucinations.WithLabelValues(answerReport.HallucinationSeverity).Inc()
	}

	return &QualityMetrics{Answer: &answerReport, Context: &contextReport}
}

func (c *Coordinator) shouldEvaluate() bool {
	if !c.cfg.EvaluationEnabled() {
		return false
	}
	rate := c.cfg.Evaluation.SampleRate
	return rate >= 1.0 || c.sample() < rate
}

// relevanceFor picks the best available relevance signal for a chunk:
// native premium similarity when rescored, then the vector-branch
// cosine. RRF-fused scores are bounded near zero and would never clear
// a relevance threshold, so they are the last resort (text-only hits).
func relevanceFor(ch *search.RetrievedChunk) float64 {
	if ch.SimilarityNative > 0 {
		return ch.SimilarityNative
	}
	if ch.VectorScore > 0 {
		return ch.VectorScore
	}
	return ch.ScoreRaw
}

func reasoningFor(ans *answer.Answer, chunks []*search.RetrievedChunk) *GenerationReasoning {
	ranking := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		ranking = append(ranking, ch.Payload.DocumentID)
	}
	return &GenerationReasoning{
		ContextSelection: "fused top results within the context token budget",
		DocumentRanking:  ranking,
		PromptStructure:  "system grounding, numbered sources, user question",
		CitationsFound:   len(ans.Citations),
		ModelUsed:        ans.Model,
	}
}

func (c *Coordinator) observeStage(stage string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.QueryDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func (c *Coordinator) countQuery(status string) {
	if c.metrics != nil {
		c.metrics.QueriesTotal.WithLabelValues(status).Inc()
	}
}

func (c *Coordinator) countCacheLookup(outcome string) {
	if c.metrics != nil {
		c.metrics.CacheLookups.WithLabelValues(outcome).Inc()
	}
}

func (c *Coordinator) recordEvent(req *Request, qe *embed.QueryEmbedding, retrieval *tier.Result, cacheHit bool, resultCount int, latency time.Duration) {
	if c.stats == nil {
		return
	}
	event := telemetry.QueryEvent{
		Query:       req.Query,
		Embedder:    qe.Embedder,
		CacheHit:    cacheHit,
		FellBack:    qe.FellBack,
		ResultCount: resultCount,
		Latency:     latency,
		Timestamp:   time.Now(),
	}
	if retrieval != nil {
		event.WebSearched = retrieval.Decision.WebLiveUsed
		event.TierCounts = retrieval.Decision.TierCounts
	}
	c.stats.Record(event)
	c.stats.RecordQueryEmbedding(qe.Local)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
