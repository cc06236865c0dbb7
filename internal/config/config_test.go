package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archrag/archrag/internal/ragerr"
)

func TestDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, 10, cfg.Retrieval.TopKDefault)
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.Equal(t, []float64{1.0, 0.9, 0.7}, cfg.Retrieval.TierWeights)
	assert.Equal(t, 50, cfg.Retrieval.TopKApproximate)
	assert.Equal(t, 10000, cfg.Retrieval.PerTierTimeoutMs)
	assert.Equal(t, 30000, cfg.Retrieval.QueryTimeoutMs)
	assert.Equal(t, 0.95, cfg.Cache.Threshold)
	assert.Equal(t, 3600, cfg.Cache.TTLSeconds)
	assert.Equal(t, WebModeOnLowConfidence, cfg.Web.Mode)
	assert.Equal(t, 5, cfg.Web.MaxResults)
	assert.Equal(t, 10, cfg.Web.MaxQueriesPerMinute)
	assert.Equal(t, 7, cfg.Web.KBTTLDays)
	assert.Equal(t, 0.5, cfg.Web.KBMinTrustScore)
	assert.True(t, cfg.TrustScoringEnabled())
	assert.True(t, cfg.EvaluationEnabled())
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
retrieval:
  top_k_default: 5
  rrf_k: 30
  tier_weights: [1.0, 0.8, 0.6]
web:
  web_search_mode: parallel
  web_search_trusted_domain_suffixes: [".edu", ".gov"]
cache:
  semantic_cache_threshold: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retrieval.TopKDefault)
	assert.Equal(t, 30, cfg.Retrieval.RRFK)
	assert.Equal(t, []float64{1.0, 0.8, 0.6}, cfg.Retrieval.TierWeights)
	assert.Equal(t, WebModeParallel, cfg.Web.Mode)
	assert.Equal(t, []string{".edu", ".gov"}, cfg.Web.TrustedDomainSuffixes)
	assert.Equal(t, 0.9, cfg.Cache.Threshold)
	// Untouched keys keep defaults.
	assert.Equal(t, 3600, cfg.Cache.TTLSeconds)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  top_kay: 5\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeConfigInvalid, ragerr.CodeOf(err))
}

func TestLoadMissingNamedFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeConfigMissing, ragerr.CodeOf(err))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"top_k out of range", func(c *Config) { c.Retrieval.TopKDefault = 26 }},
		{"zero rrf_k", func(c *Config) { c.Retrieval.RRFK = 0 }},
		{"two tier weights", func(c *Config) { c.Retrieval.TierWeights = []float64{1, 0.9} }},
		{"negative weight", func(c *Config) { c.Retrieval.TierWeights = []float64{1, -0.1, 0.7} }},
		{"cache threshold over 1", func(c *Config) { c.Cache.Threshold = 1.5 }},
		{"bad web mode", func(c *Config) { c.Web.Mode = "sometimes" }},
		{"trust score over 1", func(c *Config) { c.Web.KBMinTrustScore = 2 }},
		{"premium without dims", func(c *Config) {
			c.Embedders.Premium = map[string]PremiumEmbedderConfig{
				"big": {Provider: "openai", Model: "x", MatrixPath: "m.mat"},
			}
		}},
		{"premium without matrix", func(c *Config) {
			c.Embedders.Premium = map[string]PremiumEmbedderConfig{
				"big": {Provider: "openai", Model: "x", Dimensions: 1536},
			}
		}},
		{"default premium unknown", func(c *Config) { c.Embedders.DefaultPremium = "ghost" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, ragerr.ErrCodeConfigInvalid, ragerr.CodeOf(err))
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARCHRAG_TOP_K_DEFAULT", "3")
	t.Setenv("ARCHRAG_WEB_SEARCH_MODE", "off")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retrieval.TopKDefault)
	assert.Equal(t, WebModeOff, cfg.Web.Mode)
}

func TestDurationHelpers(t *testing.T) {
	cfg := New()
	assert.Equal(t, "10s", cfg.PerTierTimeout().String())
	assert.Equal(t, "30s", cfg.QueryTimeout().String())
	assert.Equal(t, "1h0m0s", cfg.CacheTTL().String())
	assert.Equal(t, "168h0m0s", cfg.KBTTL().String())
}
