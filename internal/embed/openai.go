package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/archrag/archrag/internal/ragerr"
)

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1/embeddings"
	openAIRequestTimeout  = 30 * time.Second
	openAIMaxRetries      = 3
	openAIBatchSize       = 64
)

// OpenAIConfig configures an OpenAI-compatible embedding client.
type OpenAIConfig struct {
	Model     string
	Endpoint  string // defaults to the OpenAI embeddings endpoint
	APIKeyEnv string // env var holding the API key
	Dims      int
}

// OpenAIEmbedder generates premium embeddings via the OpenAI embeddings
// API (or any endpoint speaking the same wire format).
type OpenAIEmbedder struct {
	client   *http.Client
	config   OpenAIConfig
	endpoint string

	mu     sync.RWMutex
	closed bool
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIEmbedder creates an OpenAI embedding client. The API key is
// read from the configured environment variable at request time, so a key
// rotated mid-process takes effect without a restart.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, ragerr.New(ragerr.ErrCodeConfigInvalid, "openai embedder requires a model", nil)
	}
	if cfg.Dims <= 0 {
		return nil, ragerr.New(ragerr.ErrCodeConfigInvalid, "openai embedder requires dimensions", nil)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	return &OpenAIEmbedder{
		client:   &http.Client{Timeout: openAIRequestTimeout},
		config:   cfg,
		endpoint: endpoint,
	}, nil
}

func (e *OpenAIEmbedder) apiKey() string {
	if e.config.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.config.APIKeyEnv)
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, ragerr.New(ragerr.ErrCodeEmbedFailed, "no embedding returned", nil)
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings, batching requests and retrying
// transient failures with exponential backoff.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += openAIBatchSize {
		end := start + openAIBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		copy(results[start:end], batch)
	}
	return results, nil
}

func (e *OpenAIEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32

	operation := func() error {
		vecs, err := e.doEmbed(ctx, texts)
		if err != nil {
			if !ragerr.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = vecs
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), openAIMaxRetries),
		ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OpenAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openAIEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := e.apiKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.ErrCodeProviderTimeout, "embedding request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ragerr.New(ragerr.ErrCodeRateLimited, "embedding provider rate limited", nil)
	case resp.StatusCode >= 500:
		respBody, _ := io.ReadAll(resp.Body)
		return nil, ragerr.Newf(ragerr.ErrCodeProviderFailed, "embedding failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	case resp.StatusCode != http.StatusOK:
		respBody, _ := io.ReadAll(resp.Body)
		return nil, backoffPermanentError(resp.StatusCode, respBody)
	}

	var result openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ragerr.Wrap(err, ragerr.ErrCodeEmbedFailed, "failed to decode embedding response")
	}
	if result.Error != nil {
		return nil, ragerr.Newf(ragerr.ErrCodeProviderFailed, "provider error: %s", result.Error.Message)
	}
	if len(result.Data) != len(texts) {
		return nil, ragerr.Newf(ragerr.ErrCodeEmbedFailed, "expected %d embeddings, got %d",
			len(texts), len(result.Data))
	}

	// The API may return entries out of order; index is authoritative.
	vecs := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, ragerr.Newf(ragerr.ErrCodeEmbedFailed, "embedding index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func backoffPermanentError(status int, body []byte) error {
	return ragerr.Newf(ragerr.ErrCodeEmbedFailed, "embedding failed with status %d: %s",
		status, strings.TrimSpace(string(body)))
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.config.Dims }

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.config.Model }

// Available reports whether the embedder is usable: not closed and an API
// key is present. No network probe; failures surface on first use.
func (e *OpenAIEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed && e.apiKey() != ""
}

// Close releases resources.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
