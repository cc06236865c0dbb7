package web

import (
	"context"
	"strings"
)

// FixtureSearcher serves canned results matched by query substring. It
// backs offline development and the end-to-end tests; no network leaves
// the process.
type FixtureSearcher struct {
	// Fixtures maps a lowercase query substring to its results.
	Fixtures map[string][]*SearchResult

	// Err, when set, fails every search.
	Err error
}

// Search returns the fixtures whose key appears in the query.
func (f *FixtureSearcher) Search(_ context.Context, query string, maxResults int) ([]*SearchResult, error) {
	if f.Err != nil {
		return nil, f.Err
	}

	q := strings.ToLower(query)
	for key, results := range f.Fixtures {
		if strings.Contains(q, key) {
			out := make([]*SearchResult, 0, len(results))
			for i, r := range results {
				if len(out) == maxResults {
					break
				}
				cp := *r
				cp.Rank = i + 1
				out = append(out, &cp)
			}
			return out, nil
		}
	}
	return []*SearchResult{}, nil
}

// Name identifies the provider.
func (f *FixtureSearcher) Name() string { return "fixture" }

var _ Searcher = (*FixtureSearcher)(nil)

// NopExtractor returns no content, forcing the snippet fallback.
type NopExtractor struct{}

// Extract always reports no extractable content.
func (NopExtractor) Extract(_ context.Context, _ string) (string, error) {
	return "", nil
}

var _ Extractor = (*NopExtractor)(nil)
