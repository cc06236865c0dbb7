package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/archrag/archrag/internal/ragerr"
)

const searxRequestTimeout = 10 * time.Second

// SearxSearcher discovers results through a SearxNG instance's JSON API.
// Any self-hosted or public instance works; the engine aggregation
// happens server-side.
type SearxSearcher struct {
	client  *http.Client
	baseURL string
}

type searxResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

// NewSearxSearcher creates a searcher against the given SearxNG base URL.
func NewSearxSearcher(baseURL string) (*SearxSearcher, error) {
	if baseURL == "" {
		return nil, ragerr.New(ragerr.ErrCodeConfigInvalid, "searx searcher requires a base URL", nil)
	}
	return &SearxSearcher{
		client:  &http.Client{Timeout: searxRequestTimeout},
		baseURL: baseURL,
	}, nil
}

// Search queries the instance and returns ranked results.
func (s *SearxSearcher) Search(ctx context.Context, query string, maxResults int) ([]*SearchResult, error) {
	if maxResults <= 0 {
		return []*SearchResult{}, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/search?%s", s.baseURL, params.Encode()), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.ErrCodeProviderTimeout, "web search request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ragerr.New(ragerr.ErrCodeRateLimited, "web search provider rate limited", nil)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, ragerr.Newf(ragerr.ErrCodeProviderFailed, "web search failed with status %d: %s",
			resp.StatusCode, string(body))
	}

	var parsed searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, ragerr.Wrap(err, ragerr.ErrCodeProviderFailed, "failed to decode search response")
	}

	results := make([]*SearchResult, 0, maxResults)
	for i, r := range parsed.Results {
		if len(results) == maxResults {
			break
		}
		if r.URL == "" {
			continue
		}
		results = append(results, &SearchResult{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: r.Content,
			Rank:    i + 1,
		})
	}
	return results, nil
}

// Name identifies the provider.
func (s *SearxSearcher) Name() string { return "searxng" }

var _ Searcher = (*SearxSearcher)(nil)
