package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/archrag/archrag/internal/ragerr"
)

const ollamaGenerateTimeout = 120 * time.Second

// OllamaLLMConfig configures a local Ollama generation client.
type OllamaLLMConfig struct {
	Host  string
	Model string
}

// OllamaLLM generates answers through a local Ollama server.
type OllamaLLM struct {
	client *http.Client
	config OllamaLLMConfig

	mu     sync.RWMutex
	closed bool
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// NewOllamaLLM creates an Ollama generation client.
func NewOllamaLLM(cfg OllamaLLMConfig) (*OllamaLLM, error) {
	if cfg.Model == "" {
		return nil, ragerr.New(ragerr.ErrCodeConfigInvalid, "ollama llm requires a model", nil)
	}
	if cfg.Host == "" {
		cfg.Host = defaultOllamaHost
	}
	return &OllamaLLM{
		client: &http.Client{Timeout: ollamaGenerateTimeout},
		config: cfg,
	}, nil
}

const defaultOllamaHost = "http://localhost:11434"

// Generate produces a non-streamed completion.
func (l *OllamaLLM) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return "", fmt.Errorf("llm is closed")
	}
	l.mu.RUnlock()

	payload := ollamaGenerateRequest{
		Model:  l.config.Model,
		System: req.System,
		Prompt: req.Prompt,
		Stream: false,
	}
	if req.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		l.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return "", ragerr.Wrap(err, ragerr.ErrCodeProviderTimeout, "generation request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", ragerr.Newf(ragerr.ErrCodeGenerationFailed, "generation failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", ragerr.Wrap(err, ragerr.ErrCodeGenerationFailed, "failed to decode generation response")
	}
	return parsed.Response, nil
}

// Name identifies the provider/model.
func (l *OllamaLLM) Name() string { return "ollama/" + l.config.Model }

// Available checks that the Ollama server responds.
func (l *OllamaLLM) Available(ctx context.Context) bool {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return false
	}
	l.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (l *OllamaLLM) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.client.CloseIdleConnections()
	return nil
}

var _ LLM = (*OllamaLLM)(nil)
