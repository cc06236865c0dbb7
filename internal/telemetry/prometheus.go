package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exported on /metrics.
type Metrics struct {
	QueriesTotal    *prometheus.CounterVec   // status: ok, error, cached
	QueryDuration   *prometheus.HistogramVec // stage: embed, retrieve, generate, total
	TierResults     *prometheus.CounterVec   // tier: curated, web_kb, live_web
	TierErrors      *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec // outcome: hit, miss
	EmbedFallbacks  prometheus.Counter
	WebSearches     *prometheus.CounterVec // outcome: ok, rate_limited, error
	IngestDocuments *prometheus.CounterVec // tier label
	IngestChunks    *prometheus.CounterVec
	Hallucinations  *prometheus.CounterVec // severity: minor, moderate, severe
}

// NewMetrics registers the instruments with reg. Pass
// prometheus.NewRegistry() in tests to avoid global-registry collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archrag_queries_total",
			Help: "Total queries answered, by status.",
		}, []string{"status"}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archrag_query_duration_seconds",
			Help:    "Query latency by pipeline stage.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		TierResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archrag_tier_results_total",
			Help: "Chunks contributed to fused results, by tier.",
		}, []string{"tier"}),
		TierErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archrag_tier_errors_total",
			Help: "Tier retrieval failures, by tier.",
		}, []string{"tier"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archrag_cache_lookups_total",
			Help: "Semantic cache lookups, by outcome.",
		}, []string{"outcome"}),
		EmbedFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "archrag_embed_fallbacks_total",
			Help: "Premium embedder requests degraded to the local embedder.",
		}),
		WebSearches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archrag_web_searches_total",
			Help: "Live web searches, by outcome.",
		}, []string{"outcome"}),
		IngestDocuments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archrag_ingest_documents_total",
			Help: "Documents ingested, by tier.",
		}, []string{"tier"}),
		IngestChunks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archrag_ingest_chunks_total",
			Help: "Chunks written to the indexes, by tier.",
		}, []string{"tier"}),
		Hallucinations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archrag_hallucinations_total",
			Help: "Answers with unsupported claims, by severity.",
		}, []string{"severity"}),
	}
}
