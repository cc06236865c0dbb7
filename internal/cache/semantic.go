// Package cache implements the semantic query cache: answers are keyed by
// query embedding, so a paraphrase of a cached question hits without an
// exact string match.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/archrag/archrag/internal/embed"
)

// DefaultCapacity is the default number of cached answers.
const DefaultCapacity = 512

// entry is one cached answer with its lookup metadata.
type entry[V any] struct {
	query       string
	vector      []float32
	fingerprint string
	value       V
	createdAt   time.Time
}

// Semantic is an LRU-bounded semantic cache. Lookups match by cosine
// similarity of query embeddings at or above the threshold, scoped to a
// context fingerprint so the same question under different user contexts
// never shares an answer.
type Semantic[V any] struct {
	mu        sync.Mutex
	entries   *lru.Cache[string, *entry[V]]
	threshold float64
	ttl       time.Duration
	now       func() time.Time

	hits   uint64
	misses uint64
}

// NewSemantic creates a semantic cache. A zero ttl disables expiry.
func NewSemantic[V any](capacity int, threshold float64, ttl time.Duration) *Semantic[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, _ := lru.New[string, *entry[V]](capacity)
	return &Semantic[V]{
		entries:   entries,
		threshold: threshold,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Lookup finds the best cached answer whose query embedding is at least
// threshold-similar to queryVec under the same fingerprint. Returns the
// value, the similarity that matched, and whether anything matched.
// Among qualifying entries the most similar wins; equal similarity
// prefers the most recent.
func (c *Semantic[V]) Lookup(queryVec []float32, fingerprint string) (V, float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var (
		best    *entry[V]
		bestSim float64
	)

	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		if c.expired(e, now) {
			c.entries.Remove(key)
			continue
		}
		if e.fingerprint != fingerprint {
			continue
		}
		sim := embed.CosineSimilarity(queryVec, e.vector)
		if sim < c.threshold {
			continue
		}
		if best == nil || sim > bestSim ||
			(sim == bestSim && e.createdAt.After(best.createdAt)) {
			best = e
			bestSim = sim
		}
	}

	if best == nil {
		var zero V
		c.misses++
		return zero, 0, false
	}

	// Touch for LRU recency.
	c.entries.Get(entryKey(best.query, best.fingerprint))
	c.hits++
	return best.value, bestSim, true
}

// Store caches an answer. If an existing unexpired entry under the same
// fingerprint is already threshold-similar, the store is skipped: the
// cache keeps one representative per semantic neighborhood instead of
// accumulating paraphrases.
func (c *Semantic[V]) Store(query string, queryVec []float32, fingerprint string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if !ok || c.expired(e, now) || e.fingerprint != fingerprint {
			continue
		}
		if embed.CosineSimilarity(queryVec, e.vector) >= c.threshold {
			return
		}
	}

	vec := make([]float32, len(queryVec))
	copy(vec, queryVec)
	c.entries.Add(entryKey(query, fingerprint), &entry[V]{
		query:       query,
		vector:      vec,
		fingerprint: fingerprint,
		value:       value,
		createdAt:   now,
	})
}

// Invalidate removes all entries whose value matches the predicate.
// Returns the number removed. Used when the underlying corpus changes.
func (c *Semantic[V]) Invalidate(match func(V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		if match(e.value) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Purge removes everything.
func (c *Semantic[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Len returns the number of cached entries, including any not yet
// lazily expired.
func (c *Semantic[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns cumulative hit and miss counts.
func (c *Semantic[V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Semantic[V]) expired(e *entry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.createdAt) > c.ttl
}

func entryKey(query, fingerprint string) string {
	sum := sha256.Sum256([]byte(query + "\x00" + fingerprint))
	return hex.EncodeToString(sum[:])
}
