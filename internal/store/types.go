// Package store provides the persistence layer for retrievable chunks:
// an HNSW vector index, a Bleve BM25 text index, and a SQLite chunk catalog.
package store

import (
	"context"
	"fmt"
	"time"
)

// TierOrigin identifies which corpus a chunk belongs to.
type TierOrigin string

const (
	// TierCurated marks chunks from the curated pattern corpus.
	TierCurated TierOrigin = "curated"
	// TierWebKB marks chunks promoted from live web results.
	TierWebKB TierOrigin = "web_kb"
	// TierLiveWeb tags ephemeral live-web results in flight. Never
	// persisted to the indexes.
	TierLiveWeb TierOrigin = "live_web"
)

// Chunk is a unit of retrievable text. Chunks are immutable after creation;
// retrieval pipelines share them by reference.
type Chunk struct {
	ID           string     // deterministic: sha256(document_id + content)
	DocumentID   string     // owning document
	DocumentType string     // e.g. "pattern", "guide", "web"
	SourcePath   string     // path of the source file, or URL for web docs
	Text         string     // chunk text
	TierOrigin   TierOrigin // curated or web_kb
	URL          string     // optional, set for web-derived chunks
	Title        string     // optional
	TrustScore   float64    // optional, [0,1], web-derived chunks only
	SourceHash   string     // sha256 of the whole source document
	SourceMtime  time.Time  // source file modification time
	IngestedAt   time.Time
	ExpiresAt    *time.Time // optional, web_kb chunks only
}

// Payload is the filterable metadata stored alongside vectors and text.
func (c *Chunk) Payload() Payload {
	return Payload{
		DocumentID:   c.DocumentID,
		DocumentType: c.DocumentType,
		SourcePath:   c.SourcePath,
		TierOrigin:   c.TierOrigin,
		URL:          c.URL,
		Title:        c.Title,
		TrustScore:   c.TrustScore,
		ExpiresAt:    c.ExpiresAt,
	}
}

// Payload is chunk metadata carried through the indexes.
type Payload struct {
	DocumentID   string
	DocumentType string
	SourcePath   string
	TierOrigin   TierOrigin
	URL          string
	Title        string
	TrustScore   float64
	ExpiresAt    *time.Time
}

// Filter restricts search results by payload attributes.
// A nil *Filter matches everything; within a field, values OR together;
// across fields, conditions AND together.
type Filter struct {
	TierOrigins   []TierOrigin
	DocumentTypes []string
}

// Matches reports whether the payload satisfies the filter.
func (f *Filter) Matches(p Payload) bool {
	if f == nil {
		return true
	}
	if len(f.TierOrigins) > 0 {
		ok := false
		for _, t := range f.TierOrigins {
			if p.TierOrigin == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.DocumentTypes) > 0 {
		ok := false
		for _, d := range f.DocumentTypes {
			if p.DocumentType == d {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// VectorRecord is one vector index entry.
type VectorRecord struct {
	ChunkID string
	Vector  []float32
	Payload Payload
}

// VectorHit is a single vector search result. Score is cosine similarity
// in [-1,1] (in practice [0,1] for normalized document embeddings).
type VectorHit struct {
	ChunkID string
	Score   float32
	Payload Payload
}

// VectorIndex provides k-NN search over local-space vectors with metadata
// filters. All stored vectors share one dimension; writes with any other
// dimension are rejected.
type VectorIndex interface {
	// Upsert inserts records, replacing entries with the same chunk ID.
	Upsert(ctx context.Context, recs []VectorRecord) error

	// Search returns the k nearest neighbors by cosine similarity,
	// restricted by the optional filter.
	Search(ctx context.Context, query []float32, k int, filter *Filter) ([]*VectorHit, error)

	// Delete removes entries by chunk ID.
	Delete(ctx context.Context, ids []string) error

	// DeleteByFilter removes all entries matching the filter, returning
	// the removed chunk IDs.
	DeleteByFilter(ctx context.Context, filter *Filter) ([]string, error)

	// AllIDs returns all chunk IDs (for consistency checks).
	AllIDs() []string

	// Contains checks if a chunk ID exists.
	Contains(id string) bool

	// Count returns the number of stored vectors.
	Count() int

	// Dimensions returns the fixed vector dimension.
	Dimensions() int

	// Persistence.
	Save(path string) error
	Load(path string) error
	Close() error
}

// TextRecord is one text index entry.
type TextRecord struct {
	ChunkID string
	Text    string
	Payload Payload
}

// TextHit is a single BM25 search result.
type TextHit struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// TextIndex provides keyword/BM25 search over the same chunks as the
// vector index.
type TextIndex interface {
	Index(ctx context.Context, recs []*TextRecord) error
	Search(ctx context.Context, query string, k int, filter *Filter) ([]*TextHit, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() ([]string, error)
	Count() (uint64, error)
	Close() error
}

// ErrDimensionMismatch indicates a vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
