// Package web implements the live web tier: result discovery through a
// search API, page text extraction, domain trust scoring, and a rate
// limiter guarding the outbound query budget.
package web

import (
	"context"
)

// SearchResult is one discovered web result, before or after extraction.
type SearchResult struct {
	URL        string
	Title      string
	Snippet    string
	Content    string  // extracted page text, may be empty
	Extracted  bool    // true when Content came from page extraction
	TrustScore float64 // [0,1]
	Rank       int     // 1-indexed discovery rank
}

// Searcher discovers results for a query.
type Searcher interface {
	// Search returns up to maxResults discovered results in rank order.
	Search(ctx context.Context, query string, maxResults int) ([]*SearchResult, error)

	// Name identifies the provider for logging and decision paths.
	Name() string
}

// Extractor fetches a page and extracts its main text content.
type Extractor interface {
	Extract(ctx context.Context, url string) (string, error)
}
