package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/archrag/archrag/internal/ragerr"
)

// PremiumEntry pairs a premium embedder with its calibration matrix.
type PremiumEntry struct {
	Embedder Embedder
	Matrix   *Matrix
}

// QueryEmbedding is the outcome of embedding a query for retrieval.
type QueryEmbedding struct {
	// Local is the unit-length vector in the shared local space, either
	// produced by the local embedder or projected from a premium space.
	Local []float32

	// Native is the premium embedder's raw vector, retained for native
	// rescoring. Nil when the local embedder served the query.
	Native []float32

	// Embedder names the embedder that produced the vector.
	Embedder string

	// Projected is true when Local came through a calibration matrix.
	Projected bool

	// FellBack is true when a premium embedder was requested but the
	// local embedder served the query instead.
	FellBack bool
}

// Registry owns the local embedder and all configured premium embedders,
// and implements the two-step hybrid embedding policy: documents always
// embed locally; queries prefer a premium embedder projected into local
// space, falling back to local when the premium side is unavailable.
type Registry struct {
	local          Embedder
	defaultPremium string
	logger         *slog.Logger

	mu      sync.RWMutex
	premium map[string]PremiumEntry
}

// NewRegistry creates a registry around the given local embedder.
func NewRegistry(local Embedder, defaultPremium string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		local:          local,
		defaultPremium: defaultPremium,
		logger:         logger,
		premium:        make(map[string]PremiumEntry),
	}
}

// RegisterPremium adds a premium embedder under a name. The matrix must
// project from the embedder's dimension into local space.
func (r *Registry) RegisterPremium(name string, e Embedder, m *Matrix) error {
	if m == nil {
		return ragerr.Newf(ragerr.ErrCodeMatrixMissing, "premium embedder %q has no calibration matrix", name)
	}
	if m.Rows != e.Dimensions() || m.Cols != r.local.Dimensions() {
		return ragerr.Newf(ragerr.ErrCodeMatrixMissing,
			"matrix %q shape %dx%d does not project %d-d into %d-d",
			name, m.Rows, m.Cols, e.Dimensions(), r.local.Dimensions())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.premium[name] = PremiumEntry{Embedder: e, Matrix: m}
	return nil
}

// Local returns the local embedder.
func (r *Registry) Local() Embedder {
	return r.local
}

// PremiumNames lists registered premium embedders, sorted.
func (r *Registry) PremiumNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.premium))
	for name := range r.premium {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EmbedDocuments embeds chunk texts for indexing. Documents always use
// the local embedder so every stored vector lives in one space.
func (r *Registry) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := r.local.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.ErrCodeEmbedFailed, "document embedding failed")
	}
	return vecs, nil
}

// EmbedQuery embeds a query. An empty embedderName means the configured
// default; "local" forces the local embedder. A premium embedder that is
// unavailable or fails degrades to the local embedder rather than failing
// the query, and the result records the fallback.
func (r *Registry) EmbedQuery(ctx context.Context, text, embedderName string) (*QueryEmbedding, error) {
	name := embedderName
	if name == "" {
		name = r.defaultPremium
	}

	if name == "" || name == "local" {
		return r.embedQueryLocal(ctx, text, false)
	}

	r.mu.RLock()
	entry, ok := r.premium[name]
	r.mu.RUnlock()
	if !ok {
		// Not loaded: the embedder was never configured, or its matrix
		// failed to load at startup. Either way the query proceeds local-only.
		r.logger.Warn("premium embedder not loaded, falling back to local",
			slog.String("embedder", name))
		return r.embedQueryLocal(ctx, text, true)
	}

	if !entry.Embedder.Available(ctx) {
		r.logger.Warn("premium embedder unavailable, falling back to local",
			slog.String("embedder", name))
		return r.embedQueryLocal(ctx, text, true)
	}

	native, err := entry.Embedder.Embed(ctx, text)
	if err != nil {
		r.logger.Warn("premium embedding failed, falling back to local",
			slog.String("embedder", name),
			slog.String("error", err.Error()))
		return r.embedQueryLocal(ctx, text, true)
	}

	projected, err := entry.Matrix.Apply(native)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.ErrCodeEmbedFailed, "calibration projection failed")
	}

	return &QueryEmbedding{
		Local:     normalizeVector(projected),
		Native:    native,
		Embedder:  name,
		Projected: true,
	}, nil
}

func (r *Registry) embedQueryLocal(ctx context.Context, text string, fellBack bool) (*QueryEmbedding, error) {
	vec, err := r.local.Embed(ctx, text)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.ErrCodeEmbedFailed, "local query embedding failed")
	}
	return &QueryEmbedding{
		Local:    vec,
		Embedder: r.local.ModelName(),
		FellBack: fellBack,
	}, nil
}

// RescoreCandidates computes native premium cosine similarities between
// the query and each candidate text. Used by the second step of hybrid
// search to re-rank an approximate candidate set with full premium
// precision.
func (r *Registry) RescoreCandidates(ctx context.Context, embedderName, query string, texts []string) ([]float64, error) {
	r.mu.RLock()
	entry, ok := r.premium[embedderName]
	r.mu.RUnlock()
	if !ok {
		return nil, ragerr.Newf(ragerr.ErrCodeEmbedderUnavailable, "unknown embedder %q", embedderName)
	}
	if len(texts) == 0 {
		return []float64{}, nil
	}

	queryVec, err := entry.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.ErrCodeEmbedFailed, "rescore query embedding failed")
	}
	docVecs, err := entry.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.ErrCodeEmbedFailed, "rescore candidate embedding failed")
	}

	sims := make([]float64, len(texts))
	for i, dv := range docVecs {
		sims[i] = CosineSimilarity(queryVec, dv)
	}
	return sims, nil
}

// Close closes all embedders, returning the first error encountered.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	if err := r.local.Close(); err != nil {
		firstErr = err
	}
	for name, entry := range r.premium {
		if err := entry.Embedder.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close embedder %s: %w", name, err)
		}
	}
	return firstErr
}
