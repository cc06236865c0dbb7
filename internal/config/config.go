// Package config loads and validates the engine configuration.
//
// Configuration comes from a YAML file with environment variable overrides
// (ARCHRAG_* prefix). Unknown keys are rejected at load time so typos fail
// fast instead of being silently ignored.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/archrag/archrag/internal/ragerr"
)

// WebMode selects the triggering policy for the live web tier.
type WebMode string

const (
	WebModeOff             WebMode = "off"
	WebModeParallel        WebMode = "parallel"
	WebModeOnLowConfidence WebMode = "on_low_confidence"
)

// Valid reports whether the mode is one of the recognized values.
func (m WebMode) Valid() bool {
	switch m {
	case WebModeOff, WebModeParallel, WebModeOnLowConfidence:
		return true
	}
	return false
}

// Config is the complete engine configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Paths      PathsConfig      `yaml:"paths"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Cache      CacheConfig      `yaml:"cache"`
	Web        WebConfig        `yaml:"web"`
	Embedders  EmbeddersConfig  `yaml:"embedders"`
	Generation GenerationConfig `yaml:"generation"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// DataDir holds the vector index, text index, catalog, and calibration
	// matrices.
	DataDir string `yaml:"data_dir"`
}

// RetrievalConfig configures retrieval and fusion.
type RetrievalConfig struct {
	// TopKDefault is the default number of fused results (default: 10).
	TopKDefault int `yaml:"top_k_default"`

	// RRFK is the RRF smoothing constant (default: 60).
	RRFK int `yaml:"rrf_k"`

	// TierWeights are the RRF weights for (curated, web_kb, web_live).
	// Default: (1.0, 0.9, 0.7).
	TierWeights []float64 `yaml:"tier_weights"`

	// TopKApproximate is the candidate count for two-step step 1 (default: 50).
	TopKApproximate int `yaml:"top_k_approximate"`

	// PerTierTimeoutMs bounds each retrieval tier (default: 10000).
	PerTierTimeoutMs int `yaml:"per_tier_timeout_ms"`

	// QueryTimeoutMs bounds the whole query (default: 30000).
	QueryTimeoutMs int `yaml:"query_timeout_ms"`
}

// CacheConfig configures the semantic query cache.
type CacheConfig struct {
	// Threshold is the cosine similarity for a cache hit (default: 0.95).
	Threshold float64 `yaml:"semantic_cache_threshold"`

	// TTLSeconds is the per-entry time to live (default: 3600).
	TTLSeconds int `yaml:"semantic_cache_ttl_seconds"`

	// MaxEntries bounds the cache size (default: 1000).
	MaxEntries int `yaml:"max_entries"`
}

// WebConfig configures live web search and knowledge-base promotion.
type WebConfig struct {
	// Mode is the default triggering policy: off, parallel, on_low_confidence.
	Mode WebMode `yaml:"web_search_mode"`

	// MaxResults caps live results per query (default: 5).
	MaxResults int `yaml:"web_search_max_results"`

	// TrustedDomainSuffixes score 0.9; BlockedDomains score 0.0; others 0.5.
	TrustedDomainSuffixes []string `yaml:"web_search_trusted_domain_suffixes"`
	BlockedDomains        []string `yaml:"web_search_blocked_domains"`

	// TrustScoringEnabled disables domain heuristics when false (all 0.5).
	TrustScoringEnabled *bool `yaml:"trust_scoring_enabled"`

	// MaxQueriesPerMinute is the provider token-bucket rate (default: 10).
	MaxQueriesPerMinute int `yaml:"web_search_max_queries_per_minute"`

	// SearchEndpoint is the base URL of the SearxNG-compatible search API.
	SearchEndpoint string `yaml:"search_endpoint"`

	// KBTTLDays is the web-KB chunk TTL in days (default: 7).
	KBTTLDays int `yaml:"web_kb_ttl_days"`

	// KBMinTrustScore gates promotion into the web KB (default: 0.5).
	KBMinTrustScore float64 `yaml:"web_kb_min_trust_score"`

	// KBPromotionEnabled enables asynchronous live-to-KB promotion.
	KBPromotionEnabled bool `yaml:"kb_promotion_enabled"`
}

// PremiumEmbedderConfig configures one premium embedder.
type PremiumEmbedderConfig struct {
	// Provider is "openai" (OpenAI-compatible API) or "ollama".
	Provider string `yaml:"provider"`

	// Model is the provider-side model identifier.
	Model string `yaml:"model"`

	// Endpoint is the API base URL.
	Endpoint string `yaml:"endpoint"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Dimensions is the embedder's native output dimension.
	Dimensions int `yaml:"dimensions"`

	// MatrixPath is the calibration matrix file for this embedder.
	MatrixPath string `yaml:"calibration_matrix_path"`
}

// EmbeddersConfig configures the embedder registry.
type EmbeddersConfig struct {
	// DefaultPremium is the premium embedder used when a request names none.
	// Empty means local-only.
	DefaultPremium string `yaml:"default_premium_embedder"`

	// Premium maps embedder name to its configuration.
	Premium map[string]PremiumEmbedderConfig `yaml:"premium"`

	// EmbedCacheSize bounds the per-embedder LRU embedding cache.
	EmbedCacheSize int `yaml:"embed_cache_size"`
}

// GenerationConfig configures the answer generator.
type GenerationConfig struct {
	// Provider is "openai", "ollama", or "mock".
	Provider string `yaml:"provider"`

	Model     string `yaml:"model"`
	Endpoint  string `yaml:"endpoint"`
	APIKeyEnv string `yaml:"api_key_env"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// ContextTokenBudget bounds the chunks included in the prompt.
	ContextTokenBudget int `yaml:"context_token_budget"`
}

// EvaluationConfig configures the quality evaluator.
type EvaluationConfig struct {
	// Enabled turns per-answer evaluation on (default: true).
	Enabled *bool `yaml:"enabled"`

	// SampleRate evaluates a fraction of answers in (0,1]; 1.0 = all.
	SampleRate float64 `yaml:"sample_rate"`

	// RelevanceThreshold is the chunk relevance cutoff for context
	// precision (default: 0.5).
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// New returns a Config populated with defaults.
func New() *Config {
	t := true
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8385},
		Paths:  PathsConfig{DataDir: defaultDataDir()},
		Retrieval: RetrievalConfig{
			TopKDefault:      10,
			RRFK:             60,
			TierWeights:      []float64{1.0, 0.9, 0.7},
			TopKApproximate:  50,
			PerTierTimeoutMs: 10000,
			QueryTimeoutMs:   30000,
		},
		Cache: CacheConfig{
			Threshold:  0.95,
			TTLSeconds: 3600,
			MaxEntries: 1000,
		},
		Web: WebConfig{
			Mode:                WebModeOnLowConfidence,
			MaxResults:          5,
			MaxQueriesPerMinute: 10,
			KBTTLDays:           7,
			KBMinTrustScore:     0.5,
		},
		Embedders: EmbeddersConfig{
			EmbedCacheSize: 1000,
		},
		Generation: GenerationConfig{
			Provider:           "ollama",
			Model:              "llama3.1",
			Endpoint:           "http://localhost:11434",
			Temperature:        0.2,
			MaxTokens:          1024,
			ContextTokenBudget: 4096,
		},
		Evaluation: EvaluationConfig{
			Enabled:            &t,
			SampleRate:         1.0,
			RelevanceThreshold: 0.5,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path (optional) on top of defaults, then
// applies environment overrides and validates. A missing file is fine when
// path is empty; a named file that does not exist is a fatal config error.
func Load(path string) (*Config, error) {
	cfg := New()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, ragerr.Wrap(err, ragerr.ErrCodeConfigMissing, fmt.Sprintf("config file %s", path))
		}
		// Strict decoding: unknown options are rejected, not ignored.
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, ragerr.Wrap(err, ragerr.ErrCodeConfigInvalid, fmt.Sprintf("parse %s", path))
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies ARCHRAG_* environment variables on top of file
// configuration. Only scalar knobs are overridable this way.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ARCHRAG_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("ARCHRAG_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("ARCHRAG_TOP_K_DEFAULT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.TopKDefault = n
		}
	}
	if v := os.Getenv("ARCHRAG_RRF_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.RRFK = n
		}
	}
	if v := os.Getenv("ARCHRAG_WEB_SEARCH_MODE"); v != "" {
		c.Web.Mode = WebMode(v)
	}
	if v := os.Getenv("ARCHRAG_SEMANTIC_CACHE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Cache.Threshold = f
		}
	}
	if v := os.Getenv("ARCHRAG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks invariants. Violations are fatal: the process must not
// begin serving with a bad configuration.
func (c *Config) Validate() error {
	if c.Retrieval.TopKDefault < 1 || c.Retrieval.TopKDefault > 25 {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "top_k_default must be in [1,25], got %d", c.Retrieval.TopKDefault)
	}
	if c.Retrieval.RRFK <= 0 {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "rrf_k must be positive, got %d", c.Retrieval.RRFK)
	}
	if len(c.Retrieval.TierWeights) != 3 {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "tier_weights must have exactly 3 entries, got %d", len(c.Retrieval.TierWeights))
	}
	for i, w := range c.Retrieval.TierWeights {
		if w < 0 {
			return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "tier_weights[%d] must be >= 0, got %f", i, w)
		}
	}
	if c.Cache.Threshold <= 0 || c.Cache.Threshold > 1 {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "semantic_cache_threshold must be in (0,1], got %f", c.Cache.Threshold)
	}
	if !c.Web.Mode.Valid() {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "web_search_mode must be off, parallel, or on_low_confidence, got %q", c.Web.Mode)
	}
	if c.Web.KBMinTrustScore < 0 || c.Web.KBMinTrustScore > 1 {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "web_kb_min_trust_score must be in [0,1], got %f", c.Web.KBMinTrustScore)
	}
	if c.Evaluation.SampleRate <= 0 || c.Evaluation.SampleRate > 1 {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "evaluation sample_rate must be in (0,1], got %f", c.Evaluation.SampleRate)
	}
	for name, p := range c.Embedders.Premium {
		if p.Dimensions <= 0 {
			return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "premium embedder %q: dimensions required", name)
		}
		if p.MatrixPath == "" {
			return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "premium embedder %q: calibration_matrix_path required", name)
		}
	}
	if c.Embedders.DefaultPremium != "" {
		if _, ok := c.Embedders.Premium[c.Embedders.DefaultPremium]; !ok {
			return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "default_premium_embedder %q is not configured", c.Embedders.DefaultPremium)
		}
	}
	return nil
}

// PerTierTimeout returns the per-tier deadline as a duration.
func (c *Config) PerTierTimeout() time.Duration {
	return time.Duration(c.Retrieval.PerTierTimeoutMs) * time.Millisecond
}

// QueryTimeout returns the overall query deadline as a duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Retrieval.QueryTimeoutMs) * time.Millisecond
}

// CacheTTL returns the semantic cache entry TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// KBTTL returns the web-KB chunk TTL.
func (c *Config) KBTTL() time.Duration {
	return time.Duration(c.Web.KBTTLDays) * 24 * time.Hour
}

// TrustScoringEnabled reports whether domain trust heuristics are active.
func (c *Config) TrustScoringEnabled() bool {
	if c.Web.TrustScoringEnabled == nil {
		return true
	}
	return *c.Web.TrustScoringEnabled
}

// EvaluationEnabled reports whether answers are evaluated.
func (c *Config) EvaluationEnabled() bool {
	if c.Evaluation.Enabled == nil {
		return true
	}
	return *c.Evaluation.Enabled
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".archrag"
	}
	return home + "/.archrag"
}
