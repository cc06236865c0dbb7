package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

// BleveTextIndex wraps Bleve v2 for BM25 keyword search over chunks.
// Payload fields used by filters are indexed as keyword fields so term
// queries can restrict by tier and document type.
type BleveTextIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveChunk is the document shape handed to Bleve.
type bleveChunk struct {
	Content      string `json:"content"`
	TierOrigin   string `json:"tier_origin"`
	DocumentType string `json:"document_type"`
}

// NewBleveTextIndex creates a text index. An empty path creates an
// in-memory index (used by tests); otherwise the index lives on disk at
// path and reopens if it already exists.
func NewBleveTextIndex(path string) (*BleveTextIndex, error) {
	im, err := createTextMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if _, statErr := os.Stat(path); statErr == nil {
			idx, err = bleve.Open(path)
		} else {
			if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
				return nil, fmt.Errorf("create index dir: %w", mkErr)
			}
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open text index: %w", err)
	}

	return &BleveTextIndex{index: idx, path: path}, nil
}

func createTextMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = en.AnalyzerName

	doc := bleve.NewDocumentMapping()

	content := bleve.NewTextFieldMapping()
	content.Analyzer = en.AnalyzerName
	content.Store = false
	doc.AddFieldMappingsAt("content", content)

	for _, field := range []string{"tier_origin", "document_type"} {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		fm.Store = false
		fm.IncludeInAll = false
		doc.AddFieldMappingsAt(field, fm)
	}

	im.DefaultMapping = doc
	return im, nil
}

// Index adds records to the index in one batch.
func (b *BleveTextIndex) Index(ctx context.Context, recs []*TextRecord) error {
	if len(recs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("text index is closed")
	}

	batch := b.index.NewBatch()
	for _, r := range recs {
		doc := bleveChunk{
			Content:      r.Text,
			TierOrigin:   string(r.Payload.TierOrigin),
			DocumentType: r.Payload.DocumentType,
		}
		if err := batch.Index(r.ChunkID, doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", r.ChunkID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

// Search returns chunks matching the query, scored by BM25, restricted by
// the optional payload filter.
func (b *BleveTextIndex) Search(ctx context.Context, queryStr string, k int, filter *Filter) ([]*TextHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("text index is closed")
	}
	if strings.TrimSpace(queryStr) == "" || k <= 0 {
		return []*TextHit{}, nil
	}

	match := bleve.NewMatchQuery(queryStr)
	match.SetField("content")

	q := buildFilteredQuery(match, filter)

	req := bleve.NewSearchRequest(q)
	req.Size = k
	req.IncludeLocations = true // for matched terms

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	hits := make([]*TextHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, &TextHit{
			ChunkID:      hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return hits, nil
}

// buildFilteredQuery wraps the match query in a conjunction with term
// filters; within one field, alternatives form a disjunction.
func buildFilteredQuery(match query.Query, filter *Filter) query.Query {
	if filter == nil {
		return match
	}

	parts := []query.Query{match}
	if len(filter.TierOrigins) > 0 {
		alts := make([]query.Query, 0, len(filter.TierOrigins))
		for _, t := range filter.TierOrigins {
			tq := bleve.NewTermQuery(string(t))
			tq.SetField("tier_origin")
			alts = append(alts, tq)
		}
		parts = append(parts, bleve.NewDisjunctionQuery(alts...))
	}
	if len(filter.DocumentTypes) > 0 {
		alts := make([]query.Query, 0, len(filter.DocumentTypes))
		for _, d := range filter.DocumentTypes {
			tq := bleve.NewTermQuery(d)
			tq.SetField("document_type")
			alts = append(alts, tq)
		}
		parts = append(parts, bleve.NewDisjunctionQuery(alts...))
	}
	if len(parts) == 1 {
		return match
	}
	return bleve.NewConjunctionQuery(parts...)
}

// Delete removes chunks from the index.
func (b *BleveTextIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("text index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// AllIDs returns all chunk IDs in the index (for consistency checks).
func (b *BleveTextIndex) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("text index is closed")
	}

	count, err := b.index.DocCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return []string{}, nil
	}

	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	res, err := b.index.Search(req)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of indexed chunks.
func (b *BleveTextIndex) Count() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, fmt.Errorf("text index is closed")
	}
	return b.index.DocCount()
}

// Close closes the index.
func (b *BleveTextIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// matchedTerms extracts matched content terms from a search hit.
func matchedTerms(hit *search.DocumentMatch) []string {
	set := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "content" {
			continue
		}
		for term := range locations {
			set[term] = struct{}{}
		}
	}
	terms := make([]string, 0, len(set))
	for term := range set {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

var _ TextIndex = (*BleveTextIndex)(nil)
