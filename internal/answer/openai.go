package answer

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
	defaultChatEndpoint = "https://api.openai.com/v1/chat/completions"
	chatRequestTimeout  = 60 * time.Second
	chatMaxRetries      = 2
)

// OpenAIConfig configures an OpenAI-compatible chat completion client.
type OpenAIConfig struct {
	Model     string
	Endpoint  string
	APIKeyEnv string
}

// OpenAILLM generates answers through the OpenAI chat completions API.
type OpenAILLM struct {
	client   *http.Client
	config   OpenAIConfig
	endpoint string

	mu     sync.RWMutex
	closed bool
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAILLM creates an OpenAI chat client.
func NewOpenAILLM(cfg OpenAIConfig) (*OpenAILLM, error) {
	if cfg.Model == "" {
		return nil, ragerr.New(ragerr.ErrCodeConfigInvalid, "openai llm requires a model", nil)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultChatEndpoint
	}
	return &OpenAILLM{
		client:   &http.Client{Timeout: chatRequestTimeout},
		config:   cfg,
		endpoint: endpoint,
	}, nil
}

func (l *OpenAILLM) apiKey() string {
	if l.config.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(l.config.APIKeyEnv)
}

// Generate produces a completion, retrying transient provider failures.
func (l *OpenAILLM) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return "", fmt.Errorf("llm is closed")
	}
	l.mu.RUnlock()

	var out string
	operation := func() error {
		text, err := l.doGenerate(ctx, req)
		if err != nil {
			if !ragerr.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = text
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), chatMaxRetries),
		ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return "", err
	}
	return out, nil
}

func (l *OpenAILLM) doGenerate(ctx context.Context, req GenerateRequest) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:     l.config.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := l.apiKey(); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return "", ragerr.Wrap(err, ragerr.ErrCodeProviderTimeout, "generation request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", ragerr.New(ragerr.ErrCodeRateLimited, "generation provider rate limited", nil)
	case resp.StatusCode >= 500:
		respBody, _ := io.ReadAll(resp.Body)
		return "", ragerr.Newf(ragerr.ErrCodeProviderFailed, "generation failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	case resp.StatusCode != http.StatusOK:
		respBody, _ := io.ReadAll(resp.Body)
		return "", ragerr.Newf(ragerr.ErrCodeGenerationFailed, "generation failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", ragerr.Wrap(err, ragerr.ErrCodeGenerationFailed, "failed to decode generation response")
	}
	if parsed.Error != nil {
		return "", ragerr.Newf(ragerr.ErrCodeProviderFailed, "provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", ragerr.New(ragerr.ErrCodeGenerationFailed, "no completion returned", nil)
	}
	return parsed.Choices[0].Message.Content, nil
}

// Name identifies the provider/model.
func (l *OpenAILLM) Name() string { return "openai/" + l.config.Model }

// Available reports whether an API key is configured.
func (l *OpenAILLM) Available(_ context.Context) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.closed && l.apiKey() != ""
}

// Close releases resources.
func (l *OpenAILLM) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.client.CloseIdleConnections()
	return nil
}

var _ LLM = (*OpenAILLM)(nil)
