package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex implements VectorIndex using the coder/hnsw pure Go HNSW graph.
type HNSWIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	// ID mapping (string <-> uint64) plus per-chunk payloads.
	idMap    map[string]uint64
	keyMap   map[uint64]string
	payloads map[string]Payload
	nextKey  uint64

	closed bool
}

// hnswMetadata stores ID mappings and payloads for persistence.
type hnswMetadata struct {
	IDMap    map[string]uint64
	Payloads map[string]Payload
	NextKey  uint64
	Dims     int
}

// HNSWConfig configures the vector index.
type HNSWConfig struct {
	// Dimensions is the fixed local-space vector dimension.
	Dimensions int
	// M is the max connections per layer (default: 16).
	M int
	// EfSearch is the query-time search width (default: 20).
	EfSearch int
}

// NewHNSWIndex creates a new HNSW-based vector index using cosine distance.
func NewHNSWIndex(cfg HNSWConfig) (*HNSWIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWIndex{
		graph:    graph,
		dims:     cfg.Dimensions,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		payloads: make(map[string]Payload),
	}, nil
}

// Upsert inserts records. Existing IDs are replaced via lazy deletion:
// the old graph node is orphaned rather than removed, which sidesteps a
// coder/hnsw issue when deleting the last node.
func (s *HNSWIndex) Upsert(ctx context.Context, recs []VectorRecord) error {
	if len(recs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, r := range recs {
		if len(r.Vector) != s.dims {
			return ErrDimensionMismatch{Expected: s.dims, Got: len(r.Vector)}
		}
	}

	for _, r := range recs {
		if existingKey, exists := s.idMap[r.ChunkID]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, r.ChunkID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[r.ChunkID] = key
		s.keyMap[key] = r.ChunkID
		s.payloads[r.ChunkID] = r.Payload
	}

	return nil
}

// Search returns the k nearest neighbors by cosine similarity. When a
// filter is set, the graph is over-fetched and filtered, so filtered
// searches stay approximate but rarely come up short.
func (s *HNSWIndex) Search(ctx context.Context, query []float32, k int, filter *Filter) ([]*VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != s.dims {
		return nil, ErrDimensionMismatch{Expected: s.dims, Got: len(query)}
	}
	if k <= 0 || s.graph.Len() == 0 {
		return []*VectorHit{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	fetch := k
	if filter != nil {
		fetch = k * 4
		if fetch > s.graph.Len() {
			fetch = s.graph.Len()
		}
	}

	nodes := s.graph.Search(q, fetch)

	results := make([]*VectorHit, 0, k)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			// Orphaned by lazy deletion.
			continue
		}
		payload := s.payloads[id]
		if !filter.Matches(payload) {
			continue
		}

		// Cosine distance is 1 - cos; report raw cosine similarity.
		distance := s.graph.Distance(q, node.Value)
		results = append(results, &VectorHit{
			ChunkID: id,
			Score:   1.0 - distance,
			Payload: payload,
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Delete removes vectors by chunk ID using lazy deletion.
func (s *HNSWIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.payloads, id)
		}
	}
	return nil
}

// DeleteByFilter removes all entries whose payload matches the filter.
func (s *HNSWIndex) DeleteByFilter(ctx context.Context, filter *Filter) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("vector index is closed")
	}

	var removed []string
	for id, payload := range s.payloads {
		if filter.Matches(payload) {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		key := s.idMap[id]
		delete(s.keyMap, key)
		delete(s.idMap, id)
		delete(s.payloads, id)
	}
	return removed, nil
}

// AllIDs returns all chunk IDs in the index.
func (s *HNSWIndex) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Contains checks if a chunk ID exists.
func (s *HNSWIndex) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idMap[id]
	return ok
}

// Count returns the number of live vectors.
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Dimensions returns the fixed vector dimension.
func (s *HNSWIndex) Dimensions() int {
	return s.dims
}

// Save persists the graph and ID mappings next to each other:
// <path> for the graph export, <path>.meta for mappings and payloads.
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := s.graph.Export(w); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	return s.saveMetadata(path + ".meta")
}

func (s *HNSWIndex) saveMetadata(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}
	defer f.Close()

	meta := hnswMetadata{
		IDMap:    s.idMap,
		Payloads: s.payloads,
		NextKey:  s.nextKey,
		Dims:     s.dims,
	}
	return gob.NewEncoder(f).Encode(&meta)
}

// Load restores the graph and ID mappings written by Save.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open graph file: %w", err)
	}
	defer f.Close()

	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	mf, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer mf.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if meta.Dims != s.dims {
		return ErrDimensionMismatch{Expected: s.dims, Got: meta.Dims}
	}

	s.idMap = meta.IDMap
	s.payloads = meta.Payloads
	s.nextKey = meta.NextKey
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close marks the index closed.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// normalizeInPlace normalizes a vector to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

var _ VectorIndex = (*HNSWIndex)(nil)
