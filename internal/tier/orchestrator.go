package tier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/archrag/archrag/internal/config"
	"github.com/archrag/archrag/internal/embed"
	"github.com/archrag/archrag/internal/ragerr"
	"github.com/archrag/archrag/internal/search"
	"github.com/archrag/archrag/internal/store"
	"github.com/archrag/archrag/internal/telemetry"
	"github.com/archrag/archrag/internal/web"
)

// promotionDeadline bounds one asynchronous live-to-KB promotion batch.
const promotionDeadline = 30 * time.Second

// Step is one recorded orchestration decision.
type Step struct {
	Component string `json:"component"`
	Action    string `json:"action"`
	Reason    string `json:"reason,omitempty"`
}

// DecisionPath records which tiers ran and why, for the response and
// for debugging retrieval behavior.
type DecisionPath struct {
	mu sync.Mutex

	Steps       []Step         `json:"steps"`
	WebLiveUsed bool           `json:"web_live_used"`
	CacheUsed   bool           `json:"cache_used"`
	RerankUsed  bool           `json:"rerank_used"`
	TierCounts  map[string]int `json:"tier_counts"`
}

// NewDecisionPath creates an empty decision path.
func NewDecisionPath() *DecisionPath {
	return &DecisionPath{TierCounts: make(map[string]int)}
}

// Add appends a step. Safe for concurrent use.
func (d *DecisionPath) Add(component, action, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Steps = append(d.Steps, Step{Component: component, Action: action, Reason: reason})
}

func (d *DecisionPath) markWebUsed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.WebLiveUsed = true
}

// Stats are the per-tier hit counts surfaced in the response.
type Stats struct {
	Tier1Results int  `json:"tier_1_results"`
	Tier2Results int  `json:"tier_2_results"`
	Tier3Results int  `json:"tier_3_results"`
	CacheHit     bool `json:"cache_hit"`
}

// Request is one orchestrated retrieval.
type Request struct {
	QueryText     string
	Embedding     *embed.QueryEmbedding
	TopK          int
	Mode          config.WebMode
	DocumentTypes []string
}

// Result is the fused retrieval outcome.
type Result struct {
	Chunks   []*search.RetrievedChunk
	Stats    Stats
	Decision *DecisionPath
}

// LiveSearcher is the live web tier. *web.Live satisfies this.
type LiveSearcher interface {
	Search(ctx context.Context, query string) ([]*web.SearchResult, error)
	Name() string
}

// Promoter ingests a live web result into the persistent web KB.
type Promoter interface {
	PromoteWebResult(ctx context.Context, res *web.SearchResult) error
}

// Options tune the orchestrator.
type Options struct {
	Weights          [3]float64 // curated, web_kb, live_web
	RRFK             int
	PerTierTimeout   time.Duration
	LowConfidence    float64 // top-score threshold for the web trigger
	MinLocalResults  int     // local-result floor for the web trigger
	PromotionEnabled bool
	PromoteMinTrust  float64
}

// DefaultOptions returns the standard tier weighting and triggers.
func DefaultOptions() Options {
	return Options{
		Weights:         [3]float64{1.0, 0.9, 0.7},
		RRFK:            search.DefaultRRFConstant,
		PerTierTimeout:  10 * time.Second,
		LowConfidence:   0.5,
		MinLocalResults: 3,
		PromoteMinTrust: 0.5,
	}
}

// Orchestrator fans retrieval out across the three tiers, fuses the
// ranked outputs with weighted RRF, and schedules live-to-KB promotion.
type Orchestrator struct {
	local    Retriever
	live     LiveSearcher
	promoter Promoter
	opts     Options
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	now      func() time.Time

	promoWG sync.WaitGroup
}

// NewOrchestrator assembles the orchestrator. live and promoter may be
// nil, disabling the live tier and promotion respectively.
func NewOrchestrator(local Retriever, live LiveSearcher, promoter Promoter, opts Options, metrics *telemetry.Metrics, logger *slog.Logger) *Orchestrator {
	if opts.RRFK <= 0 {
		opts.RRFK = search.DefaultRRFConstant
	}
	if opts.PerTierTimeout <= 0 {
		opts.PerTierTimeout = 10 * time.Second
	}
	if opts.LowConfidence <= 0 {
		opts.LowConfidence = 0.5
	}
	if opts.MinLocalResults <= 0 {
		opts.MinLocalResults = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		local:    local,
		live:     live,
		promoter: promoter,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Retrieve runs the tiers per the triggering policy and returns the
// fused, truncated result list. A tier failing or timing out contributes
// the empty list; Retrieve itself fails only on invariant violations.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request) (*Result, error) {
	decision := NewDecisionPath()

	mode := req.Mode
	if !mode.Valid() || o.live == nil {
		if mode == config.WebModeParallel || mode == config.WebModeOnLowConfidence {
			decision.Add("live_web", "skipped", "no web provider configured")
		}
		mode = config.WebModeOff
	}

	var (
		curated = o.emptyResult()
		webKB   = o.emptyResult()
		liveRes []*web.SearchResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		curated = o.runLocalTier(gctx, string(store.TierCurated), req, decision)
		return nil
	})
	g.Go(func() error {
		webKB = o.runLocalTier(gctx, string(store.TierWebKB), req, decision)
		return nil
	})
	if mode == config.WebModeParallel {
		g.Go(func() error {
			liveRes = o.runWebTier(gctx, req, "parallel mode", decision)
			return nil
		})
	}
	_ = g.Wait()

	if mode == config.WebModeOnLowConfidence {
		if reason := o.webTriggerReason(req.QueryText, curated, webKB); reason != "" {
			liveRes = o.runWebTier(ctx, req, reason, decision)
		} else {
			decision.Add("live_web", "skipped", "local confidence sufficient")
		}
	}

	liveChunks := o.toChunks(liveRes)
	o.schedulePromotion(liveRes, decision)

	fused := o.fuse(curated.Chunks, webKB.Chunks, liveChunks, req.TopK)

	decision.RerankUsed = curated.Reranked || webKB.Reranked
	decision.TierCounts[string(store.TierCurated)] = len(curated.Chunks)
	decision.TierCounts[string(store.TierWebKB)] = len(webKB.Chunks)
	decision.TierCounts[string(store.TierLiveWeb)] = len(liveChunks)
	o.countTierResults(curated.Chunks, webKB.Chunks, liveChunks)

	return &Result{
		Chunks: fused,
		Stats: Stats{
			Tier1Results: len(curated.Chunks),
			Tier2Results: len(webKB.Chunks),
			Tier3Results: len(liveChunks),
		},
		Decision: decision,
	}, nil
}

// WaitForPromotions blocks until scheduled promotion batches finish.
// Used in tests and at shutdown.
func (o *Orchestrator) WaitForPromotions() {
	o.promoWG.Wait()
}

func (o *Orchestrator) emptyResult() *LocalResult {
	return &LocalResult{Chunks: []*search.RetrievedChunk{}}
}

// runLocalTier retrieves one persistent tier under its deadline. Errors
// and timeouts degrade to the empty list.
func (o *Orchestrator) runLocalTier(ctx context.Context, tierName string, req Request, decision *DecisionPath) *LocalResult {
	ctx, cancel := context.WithTimeout(ctx, o.opts.PerTierTimeout)
	defer cancel()

	filter := &store.Filter{
		TierOrigins:   []store.TierOrigin{store.TierOrigin(tierName)},
		DocumentTypes: req.DocumentTypes,
	}
	res, err := o.local.Retrieve(ctx, req.QueryText, req.Embedding, req.TopK, filter)
	if err != nil {
		action := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			action = "timeout"
		}
		o.logger.Warn("tier retrieval failed",
			slog.String("tier", tierName),
			slog.String("action", action),
			slog.String("error", err.Error()))
		decision.Add(tierName, action, err.Error())
		if o.metrics != nil {
			o.metrics.TierErrors.WithLabelValues(tierName).Inc()
		}
		return o.emptyResult()
	}
	decision.Add(tierName, "searched", "")
	return res
}

// webTriggerReason decides whether on_low_confidence should run the
// live tier, returning the triggering reason or "".
func (o *Orchestrator) webTriggerReason(query string, curated, webKB *LocalResult) string {
	if kw := o.temporalKeyword(query); kw != "" {
		return "temporal keyword: " + kw
	}
	top := curated.TopVectorScore
	if webKB.TopVectorScore > top {
		top = webKB.TopVectorScore
	}
	if top < o.opts.LowConfidence {
		return fmt.Sprintf("low top score: %.2f", top)
	}
	if n := len(curated.Chunks) + len(webKB.Chunks); n < o.opts.MinLocalResults {
		return fmt.Sprintf("few local results: %d", n)
	}
	return ""
}

// temporalKeyword returns the freshness signal in the query: a
// four-digit year at or past the current year, or one of the fixed
// keywords. A year wins over a keyword when both appear since it is
// the more specific signal.
func (o *Orchestrator) temporalKeyword(query string) string {
	currentYear := o.now().Year()
	keyword := ""
	for _, tok := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	}) {
		if len(tok) == 4 {
			if year, err := strconv.Atoi(tok); err == nil && year >= currentYear {
				return tok
			}
		}
		if keyword == "" {
			switch tok {
			case "latest", "recent", "new", "update":
				keyword = tok
			}
		}
	}
	return keyword
}

// runWebTier runs live discovery under the tier deadline. Rate limiting
// and provider failures degrade to no live results.
func (o *Orchestrator) runWebTier(ctx context.Context, req Request, reason string, decision *DecisionPath) []*web.SearchResult {
	decision.markWebUsed()
	decision.Add(string(store.TierLiveWeb), "triggered", reason)

	ctx, cancel := context.WithTimeout(ctx, o.opts.PerTierTimeout)
	defer cancel()

	results, err := o.live.Search(ctx, req.QueryText)
	if err != nil {
		outcome := "error"
		if ragerr.CodeOf(err) == ragerr.ErrCodeRateLimited {
			outcome = "rate_limited"
			o.logger.Info("web_rate_limited", slog.String("query", req.QueryText))
		} else {
			o.logger.Warn("live web tier failed", slog.String("error", err.Error()))
		}
		decision.Add(string(store.TierLiveWeb), outcome, err.Error())
		if o.metrics != nil {
			o.metrics.WebSearches.WithLabelValues(outcome).Inc()
		}
		return nil
	}
	decision.Add(string(store.TierLiveWeb), "searched", "")
	if o.metrics != nil {
		o.metrics.WebSearches.WithLabelValues("ok").Inc()
	}
	return results
}

// toChunks normalizes live results into retrieval chunks, in discovery
// order.
func (o *Orchestrator) toChunks(results []*web.SearchResult) []*search.RetrievedChunk {
	chunks := make([]*search.RetrievedChunk, 0, len(results))
	sourceName := ""
	if o.live != nil {
		sourceName = o.live.Name()
	}
	for _, r := range results {
		chunks = append(chunks, &search.RetrievedChunk{
			ChunkID:      liveChunkID(r.URL),
			Text:         r.Content,
			RankInSource: len(chunks) + 1,
			SourceTier:   string(store.TierLiveWeb),
			SourceName:   sourceName,
			TrustScore:   r.TrustScore,
			Payload: store.Payload{
				DocumentID:   r.URL,
				DocumentType: "web",
				SourcePath:   r.URL,
				TierOrigin:   store.TierLiveWeb,
				URL:          r.URL,
				Title:        r.Title,
				TrustScore:   r.TrustScore,
			},
		})
	}
	return chunks
}

func liveChunkID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "live:" + hex.EncodeToString(sum[:8])
}

// fuse merges the three tier lists with weighted RRF and truncates to
// topK. A chunk present in several tiers accumulates score; its content
// comes from the highest-priority tier that carried it.
func (o *Orchestrator) fuse(curated, webKB, live []*search.RetrievedChunk, topK int) []*search.RetrievedChunk {
	byID := make(map[string]*search.RetrievedChunk)
	for _, group := range [][]*search.RetrievedChunk{curated, webKB, live} {
		for _, c := range group {
			if _, ok := byID[c.ChunkID]; !ok {
				byID[c.ChunkID] = c
			}
		}
	}

	fuser := search.NewFuser(o.opts.RRFK)
	fused := fuser.Fuse([]search.RankedList{
		{Name: string(store.TierCurated), Weight: o.opts.Weights[0], IDs: chunkIDs(curated)},
		{Name: string(store.TierWebKB), Weight: o.opts.Weights[1], IDs: chunkIDs(webKB)},
		{Name: string(store.TierLiveWeb), Weight: o.opts.Weights[2], IDs: chunkIDs(live)},
	})
	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}

	out := make([]*search.RetrievedChunk, 0, len(fused))
	for i, f := range fused {
		c := *byID[f.ChunkID]
		c.ScoreRaw = f.Score
		c.RankInSource = i + 1
		out = append(out, &c)
	}
	return out
}

func chunkIDs(chunks []*search.RetrievedChunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ChunkID
	}
	return ids
}

func (o *Orchestrator) countTierResults(groups ...[]*search.RetrievedChunk) {
	if o.metrics == nil {
		return
	}
	for _, group := range groups {
		for _, c := range group {
			o.metrics.TierResults.WithLabelValues(c.SourceTier).Inc()
		}
	}
}

// schedulePromotion queues qualifying live results for asynchronous
// web-KB ingestion. Only results with extracted body text and
// sufficient trust qualify; the current query's response never waits.
func (o *Orchestrator) schedulePromotion(results []*web.SearchResult, decision *DecisionPath) {
	if !o.opts.PromotionEnabled || o.promoter == nil {
		return
	}
	var qualify []*web.SearchResult
	for _, r := range results {
		if r.Extracted && r.TrustScore >= o.opts.PromoteMinTrust {
			qualify = append(qualify, r)
		}
	}
	if len(qualify) == 0 {
		return
	}
	decision.Add("promotion", "scheduled", fmt.Sprintf("%d results", len(qualify)))

	o.promoWG.Add(1)
	go func() {
		defer o.promoWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), promotionDeadline)
		defer cancel()

		promoted := 0
		for _, r := range qualify {
			if err := o.promoter.PromoteWebResult(ctx, r); err != nil {
				o.logger.Warn("web-KB promotion failed",
					slog.String("url", r.URL),
					slog.String("error", err.Error()))
				continue
			}
			promoted++
		}
		o.logger.Info("promotion_complete",
			slog.Int("promoted", promoted),
			slog.Int("attempted", len(qualify)))
	}()
}
