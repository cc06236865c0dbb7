package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/archrag/archrag/internal/embed"
)

// LatencyBucket is a coarse end-to-end latency histogram bucket.
type LatencyBucket string

const (
	BucketUnder100ms LatencyBucket = "lt_100ms"
	BucketUnder500ms LatencyBucket = "lt_500ms"
	BucketUnder2s    LatencyBucket = "lt_2s"
	BucketUnder10s   LatencyBucket = "lt_10s"
	BucketSlow       LatencyBucket = "ge_10s"
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 100:
		return BucketUnder100ms
	case ms < 500:
		return BucketUnder500ms
	case ms < 2000:
		return BucketUnder2s
	case ms < 10000:
		return BucketUnder10s
	default:
		return BucketSlow
	}
}

// QueryEvent captures one answered (or failed) query for aggregation.
type QueryEvent struct {
	Query        string
	Embedder     string
	CacheHit     bool
	FellBack     bool
	WebSearched  bool
	TierCounts   map[string]int
	ResultCount  int
	Latency      time.Duration
	Timestamp    time.Time
}

// IsZeroResult reports whether retrieval came back empty.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// QueryStatsConfig tunes the in-memory aggregation windows.
type QueryStatsConfig struct {
	ZeroResultsCapacity      int     // zero-result queries to retain (default 100)
	RecentQueriesCapacity    int     // query hashes tracked for repeats (default 500)
	RecentEmbeddingsCapacity int     // embeddings sampled for similarity (default 10)
	SimilarityThreshold      float64 // cosine threshold for "similar" (default 0.95)
}

// DefaultQueryStatsConfig returns the standard windows.
func DefaultQueryStatsConfig() QueryStatsConfig {
	return QueryStatsConfig{
		ZeroResultsCapacity:      100,
		RecentQueriesCapacity:    500,
		RecentEmbeddingsCapacity: 10,
		SimilarityThreshold:      0.95,
	}
}

// QueryStats aggregates query telemetry in memory. Safe for concurrent
// use. Exact repeats are detected by normalized hash, semantic repeats
// by cosine similarity over a small sample of recent query embeddings.
type QueryStats struct {
	mu sync.RWMutex

	totalQueries    int64
	cacheHits       int64
	fallbacks       int64
	webSearches     int64
	zeroResultCount int64
	tierResults     map[string]int64
	embedderUse     map[string]int64
	latencies       map[LatencyBucket]int64
	zeroResults     *CircularBuffer[string]
	startTime       time.Time

	recentQueries     *lru.Cache[string, struct{}]
	exactRepeatCount  int64
	recentEmbeddings  *CircularBuffer[[]float32]
	similarQueryCount int64
	similarityMin     float64
}

// NewQueryStats creates a collector with default configuration.
func NewQueryStats() *QueryStats {
	return NewQueryStatsWithConfig(DefaultQueryStatsConfig())
}

// NewQueryStatsWithConfig creates a collector with custom windows.
func NewQueryStatsWithConfig(cfg QueryStatsConfig) *QueryStats {
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}
	if cfg.RecentEmbeddingsCapacity <= 0 {
		cfg.RecentEmbeddingsCapacity = 10
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.95
	}

	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)
	return &QueryStats{
		tierResults:      make(map[string]int64),
		embedderUse:      make(map[string]int64),
		latencies:        make(map[LatencyBucket]int64),
		zeroResults:      NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		startTime:        time.Now(),
		recentQueries:    recentQueries,
		recentEmbeddings: NewCircularBuffer[[]float32](cfg.RecentEmbeddingsCapacity),
		similarityMin:    cfg.SimilarityThreshold,
	}
}

// Record aggregates one query event.
func (s *QueryStats) Record(event QueryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalQueries++
	if event.CacheHit {
		s.cacheHits++
	}
	if event.FellBack {
		s.fallbacks++
	}
	if event.WebSearched {
		s.webSearches++
	}
	if event.Embedder != "" {
		s.embedderUse[event.Embedder]++
	}
	for tier, n := range event.TierCounts {
		s.tierResults[tier] += int64(n)
	}
	if event.IsZeroResult() {
		s.zeroResults.Add(event.Query)
		s.zeroResultCount++
	}
	s.latencies[LatencyToBucket(event.Latency)]++

	h := hashQuery(event.Query)
	if _, seen := s.recentQueries.Get(h); seen {
		s.exactRepeatCount++
	}
	s.recentQueries.Add(h, struct{}{})
}

func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// RecordQueryEmbedding samples a query embedding for semantic-repeat
// detection. Optional; call after Record when the embedding is at hand.
func (s *QueryStats) RecordQueryEmbedding(embedding []float32) {
	if len(embedding) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, prev := range s.recentEmbeddings.Items() {
		if len(prev) == len(embedding) && embed.CosineSimilarity(embedding, prev) > s.similarityMin {
			s.similarQueryCount++
			break
		}
	}
	cp := make([]float32, len(embedding))
	copy(cp, embedding)
	s.recentEmbeddings.Add(cp)
}

// Snapshot is an immutable view of the aggregates.
type Snapshot struct {
	TotalQueries      int64                   `json:"total_queries"`
	CacheHits         int64                   `json:"cache_hits"`
	CacheHitRate      float64                 `json:"cache_hit_rate"`
	Fallbacks         int64                   `json:"embedder_fallbacks"`
	WebSearches       int64                   `json:"web_searches"`
	ZeroResultCount   int64                   `json:"zero_result_count"`
	ZeroResultQueries []string                `json:"zero_result_queries"`
	TierResults       map[string]int64        `json:"tier_results"`
	EmbedderUse       map[string]int64        `json:"embedder_use"`
	Latencies         map[LatencyBucket]int64 `json:"latency_distribution"`
	ExactRepeatCount  int64                   `json:"exact_repeat_count"`
	ExactRepeatRate   float64                 `json:"exact_repeat_rate"`
	SimilarQueryCount int64                   `json:"similar_query_count"`
	SimilarQueryRate  float64                 `json:"similar_query_rate"`
	Since             time.Time               `json:"since"`
}

// Snapshot returns the current aggregates.
func (s *QueryStats) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tiers := make(map[string]int64, len(s.tierResults))
	for k, v := range s.tierResults {
		tiers[k] = v
	}
	embedders := make(map[string]int64, len(s.embedderUse))
	for k, v := range s.embedderUse {
		embedders[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(s.latencies))
	for k, v := range s.latencies {
		latencies[k] = v
	}

	snap := &Snapshot{
		TotalQueries:      s.totalQueries,
		CacheHits:         s.cacheHits,
		Fallbacks:         s.fallbacks,
		WebSearches:       s.webSearches,
		ZeroResultCount:   s.zeroResultCount,
		ZeroResultQueries: s.zeroResults.Items(),
		TierResults:       tiers,
		EmbedderUse:       embedders,
		Latencies:         latencies,
		ExactRepeatCount:  s.exactRepeatCount,
		SimilarQueryCount: s.similarQueryCount,
		Since:             s.startTime,
	}
	if s.totalQueries > 0 {
		snap.CacheHitRate = float64(s.cacheHits) / float64(s.totalQueries)
		snap.ExactRepeatRate = float64(s.exactRepeatCount) / float64(s.totalQueries)
		snap.SimilarQueryRate = float64(s.similarQueryCount) / float64(s.totalQueries)
	}
	return snap
}
