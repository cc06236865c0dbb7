// Package query implements the coordinator: the single entry point that
// validates a request, embeds the query once, consults the semantic
// cache, drives tiered retrieval, generation, and evaluation, and
// assembles the wire-level answer.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/archrag/archrag/internal/config"
	"github.com/archrag/archrag/internal/eval"
	"github.com/archrag/archrag/internal/tier"
)

// chunkTextPreview bounds chunk_text in the response.
const chunkTextPreview = 500

// Request is one answer request.
type Request struct {
	Query           string            `json:"query"`
	TopK            int               `json:"top_k"`
	UseCache        *bool             `json:"use_cache"`
	EmbedderType    string            `json:"query_embedder_type"`
	UserContext     map[string]string `json:"user_context"`
	EnableWebSearch bool              `json:"enable_web_search"`
	WebMode         config.WebMode    `json:"web_mode"`
}

// CacheEnabled resolves the use_cache default (true).
func (r *Request) CacheEnabled() bool {
	return r.UseCache == nil || *r.UseCache
}

// Source is one retrieved chunk as surfaced in the response.
type Source struct {
	DocumentID   string  `json:"document_id"`
	SourcePath   string  `json:"source_path"`
	DocumentType string  `json:"document_type"`
	Score        float64 `json:"score"`
	SourceType   string  `json:"source_type"`
	URL          string  `json:"url,omitempty"`
	TrustScore   float64 `json:"trust_score,omitempty"`
	Title        string  `json:"title,omitempty"`
	ChunkText    string  `json:"chunk_text"`
}

// SearchParameters echoes the effective retrieval knobs.
type SearchParameters struct {
	TopK     int    `json:"top_k"`
	WebMode  string `json:"web_mode"`
	Embedder string `json:"embedder"`
	RRFK     int    `json:"rrf_k"`
}

// RetrievalMetrics details how retrieval behaved for this query.
type RetrievalMetrics struct {
	Documents        int                `json:"documents"`
	TierBreakdown    map[string]int     `json:"tier_breakdown"`
	DecisionPath     *tier.DecisionPath `json:"decision_path"`
	SearchParameters SearchParameters   `json:"search_parameters"`
}

// GenerationReasoning explains how the answer was assembled.
type GenerationReasoning struct {
	ContextSelection string   `json:"context_selection"`
	DocumentRanking  []string `json:"document_ranking"`
	PromptStructure  string   `json:"prompt_structure"`
	CitationsFound   int      `json:"citations_found"`
	ModelUsed        string   `json:"model_used"`
}

// QualityMetrics carries the evaluator's reports.
type QualityMetrics struct {
	Answer  *eval.AnswerReport  `json:"answer,omitempty"`
	Context *eval.ContextReport `json:"context,omitempty"`
}

// AnswerResult is the assembled response for one query.
type AnswerResult struct {
	Answer              string               `json:"answer"`
	Sources             []Source             `json:"sources"`
	CacheHit            bool                 `json:"cache_hit"`
	RetrievedDocs       int                  `json:"retrieved_docs"`
	ContextDocsUsed     int                  `json:"context_docs_used"`
	RetrievalStats      *tier.Stats          `json:"retrieval_stats,omitempty"`
	RetrievalMetrics    *RetrievalMetrics    `json:"retrieval_metrics,omitempty"`
	GenerationReasoning *GenerationReasoning `json:"generation_reasoning,omitempty"`
	QualityMetrics      *QualityMetrics      `json:"quality_metrics,omitempty"`
}

// Fingerprint derives a stable digest of the user context. Key order
// never affects the result, so equal contexts always share cache scope.
func Fingerprint(userContext map[string]string) string {
	if len(userContext) == 0 {
		return ""
	}
	keys := make([]string, 0, len(userContext))
	for k := range userContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(userContext[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// documentTypeFilter extracts the document-type restriction from the
// user context, if any. Accepts a comma-separated list.
func documentTypeFilter(userContext map[string]string) []string {
	raw, ok := userContext["document_type"]
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var types []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	return types
}

// userContextNarrative renders the context for the generation prompt.
func userContextNarrative(userContext map[string]string) string {
	if len(userContext) == 0 {
		return ""
	}
	keys := make([]string, 0, len(userContext))
	for k := range userContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+userContext[k])
	}
	return strings.Join(parts, ", ")
}
