// Package engine assembles the full query engine from configuration:
// embedders, indexes, catalog, retrieval tiers, generation, cache, and
// telemetry. The CLI commands share one assembly path so serve, index,
// and query always agree on wiring.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/archrag/archrag/internal/answer"
	"github.com/archrag/archrag/internal/cache"
	"github.com/archrag/archrag/internal/config"
	"github.com/archrag/archrag/internal/embed"
	"github.com/archrag/archrag/internal/ingest"
	"github.com/archrag/archrag/internal/query"
	"github.com/archrag/archrag/internal/ragerr"
	"github.com/archrag/archrag/internal/search"
	"github.com/archrag/archrag/internal/store"
	"github.com/archrag/archrag/internal/telemetry"
	"github.com/archrag/archrag/internal/tier"
	"github.com/archrag/archrag/internal/web"
)

// Engine owns every long-lived component. Acquired once at startup,
// released once at shutdown; per-query acquisition is forbidden.
type Engine struct {
	Config       *config.Config
	Registry     *embed.Registry
	Vector       *store.HNSWIndex
	Text         *store.BleveTextIndex
	Catalog      *store.Catalog
	Ingestor     *ingest.Ingestor
	Orchestrator *tier.Orchestrator
	Coordinator  *query.Coordinator
	Metrics      *telemetry.Metrics
	PromRegistry *prometheus.Registry
	Stats        *telemetry.QueryStats
	Logger       *slog.Logger

	llm        answer.LLM
	vectorPath string
}

// Open builds the engine from configuration. Everything heavyweight is
// constructed here: on failure nothing half-initialized serves traffic.
func Open(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dataDir := cfg.Paths.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, ragerr.Wrap(err, ragerr.ErrCodeConfigInvalid, "create data dir")
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	vector, err := store.NewHNSWIndex(store.HNSWConfig{Dimensions: registry.Local().Dimensions()})
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := vector.Load(vectorPath); err != nil {
			return nil, ragerr.Wrap(err, ragerr.ErrCodeIndexUnavailable, "load vector index")
		}
		logger.Info("vector index loaded",
			slog.String("path", vectorPath),
			slog.Int("vectors", vector.Count()))
	}

	text, err := store.NewBleveTextIndex(filepath.Join(dataDir, "text.bleve"))
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.ErrCodeIndexUnavailable, "open text index")
	}
	catalog, err := store.NewCatalog(filepath.Join(dataDir, "catalog.db"))
	if err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promRegistry)
	stats := telemetry.NewQueryStats()

	ingestor := ingest.NewIngestor(registry, vector, text, catalog,
		ingest.NewChunker(0), cfg.KBTTL(), metrics, logger)

	hybrid := search.NewHybrid(vector, text, cfg.Retrieval.RRFK, logger)
	twoStep := search.NewTwoStep(registry, logger)
	pipeline := tier.NewPipeline(hybrid, catalog, twoStep, cfg.Retrieval.TopKApproximate, logger)

	var live tier.LiveSearcher
	if cfg.Web.SearchEndpoint != "" {
		searcher, err := web.NewSearxSearcher(cfg.Web.SearchEndpoint)
		if err != nil {
			return nil, err
		}
		live = web.NewLive(
			searcher,
			web.NewHTMLExtractor(),
			web.NewTrustScorer(cfg.TrustScoringEnabled(), cfg.Web.TrustedDomainSuffixes, cfg.Web.BlockedDomains),
			web.NewRateLimiter(cfg.Web.MaxQueriesPerMinute),
			cfg.Web.MaxResults,
			logger,
		)
	}

	opts := tier.DefaultOptions()
	opts.Weights = [3]float64{cfg.Retrieval.TierWeights[0], cfg.Retrieval.TierWeights[1], cfg.Retrieval.TierWeights[2]}
	opts.RRFK = cfg.Retrieval.RRFK
	opts.PerTierTimeout = cfg.PerTierTimeout()
	opts.PromotionEnabled = cfg.Web.KBPromotionEnabled
	opts.PromoteMinTrust = cfg.Web.KBMinTrustScore
	orchestrator := tier.NewOrchestrator(pipeline, live, ingestor, opts, metrics, logger)

	llm, err := buildLLM(cfg.Generation)
	if err != nil {
		return nil, err
	}
	generator := answer.NewGenerator(llm, cfg.Generation.ContextTokenBudget, cfg.Generation.MaxTokens, logger)

	answerCache := cache.NewSemantic[*query.AnswerResult](cfg.Cache.MaxEntries, cfg.Cache.Threshold, cfg.CacheTTL())

	coordinator := query.NewCoordinator(cfg, registry, orchestrator, generator,
		answerCache, metrics, stats, logger)

	return &Engine{
		Config:       cfg,
		Registry:     registry,
		Vector:       vector,
		Text:         text,
		Catalog:      catalog,
		Ingestor:     ingestor,
		Orchestrator: orchestrator,
		Coordinator:  coordinator,
		Metrics:      metrics,
		PromRegistry: promRegistry,
		Stats:        stats,
		Logger:       logger,
		llm:          llm,
		vectorPath:   vectorPath,
	}, nil
}

// buildRegistry wires the local embedder and every configured premium
// embedder with its calibration matrix. A premium embedder whose matrix
// cannot load is skipped with a warning; queries naming it fall back.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*embed.Registry, error) {
	local := embed.NewCachedEmbedder(embed.NewLocalEmbedder(), cfg.Embedders.EmbedCacheSize)
	registry := embed.NewRegistry(local, cfg.Embedders.DefaultPremium, logger)

	for name, pc := range cfg.Embedders.Premium {
		embedder, err := NewPremiumEmbedder(pc)
		if err != nil {
			return nil, fmt.Errorf("premium embedder %s: %w", name, err)
		}
		matrix, err := embed.LoadMatrix(pc.MatrixPath)
		if err != nil {
			logger.Warn("calibration matrix unavailable, premium embedder disabled",
				slog.String("embedder", name),
				slog.String("path", pc.MatrixPath),
				slog.String("error", err.Error()))
			continue
		}
		if err := registry.RegisterPremium(name, embed.NewCachedEmbedder(embedder, cfg.Embedders.EmbedCacheSize), matrix); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// NewPremiumEmbedder constructs a premium embedder from its config. The
// calibrate command uses it directly since calibration runs before a
// matrix exists for the registry to load.
func NewPremiumEmbedder(pc config.PremiumEmbedderConfig) (embed.Embedder, error) {
	switch pc.Provider {
	case "ollama":
		return embed.NewOllamaEmbedder(embed.OllamaConfig{
			Host:  pc.Endpoint,
			Model: pc.Model,
			Dims:  pc.Dimensions,
		})
	case "openai":
		return embed.NewOpenAIEmbedder(embed.OpenAIConfig{
			Model:     pc.Model,
			Endpoint:  pc.Endpoint,
			APIKeyEnv: pc.APIKeyEnv,
			Dims:      pc.Dimensions,
		})
	default:
		return nil, ragerr.Newf(ragerr.ErrCodeConfigInvalid, "unknown embedder provider %q", pc.Provider)
	}
}

func buildLLM(gc config.GenerationConfig) (answer.LLM, error) {
	switch gc.Provider {
	case "mock":
		return &answer.MockLLM{}, nil
	case "ollama":
		return answer.NewOllamaLLM(answer.OllamaLLMConfig{
			Host:  gc.Endpoint,
			Model: gc.Model,
		})
	case "openai":
		return answer.NewOpenAILLM(answer.OpenAIConfig{
			Model:     gc.Model,
			Endpoint:  gc.Endpoint,
			APIKeyEnv: gc.APIKeyEnv,
		})
	default:
		return nil, ragerr.Newf(ragerr.ErrCodeConfigInvalid, "unknown generation provider %q", gc.Provider)
	}
}

// Health reports index counts and embedder availability for the health
// endpoint.
func (e *Engine) Health(ctx context.Context) map[string]any {
	body := map[string]any{
		"vectors":           e.Vector.Count(),
		"premium_embedders": e.Registry.PremiumNames(),
	}
	counts, err := e.Catalog.CountByTier(ctx)
	if err != nil {
		body["catalog_error"] = err.Error()
		return body
	}
	chunks := make(map[string]int, len(counts))
	for tier, n := range counts {
		chunks[string(tier)] = n
	}
	body["visible_chunks"] = chunks
	return body
}

// SaveIndexes persists the vector index. The text index and catalog
// write through to disk on their own.
func (e *Engine) SaveIndexes() error {
	return e.Vector.Save(e.vectorPath)
}

// Close flushes the vector index and releases every component. Pending
// web-KB promotions get a bounded grace period first.
func (e *Engine) Close() error {
	done := make(chan struct{})
	go func() {
		e.Orchestrator.WaitForPromotions()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		e.Logger.Warn("shutdown with promotions still pending")
	}

	var firstErr error
	if err := e.Vector.Save(e.vectorPath); err != nil {
		firstErr = err
		e.Logger.Error("vector index save failed", slog.String("error", err.Error()))
	}
	for _, closer := range []func() error{
		e.Vector.Close,
		e.Text.Close,
		e.Catalog.Close,
		e.Registry.Close,
		e.llm.Close,
	} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
