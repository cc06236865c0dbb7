package embed

import (
	"context"
	"fmt"
	"sync/atomic"
)

// stubEmbedder is a controllable premium embedder for tests. It returns a
// fixed-dimension vector derived from text length and counts calls.
type stubEmbedder struct {
	name        string
	dims        int
	unavailable bool
	failEmbed   bool
	calls       atomic.Int64
	embedFn     func(text string) []float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	if s.failEmbed {
		return nil, fmt.Errorf("stub embed failure")
	}
	if s.embedFn != nil {
		return s.embedFn(text), nil
	}
	v := make([]float32, s.dims)
	for i := range v {
		v[i] = float32(len(text)%7+i) / float32(s.dims)
	}
	return v, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int                   { return s.dims }
func (s *stubEmbedder) ModelName() string                 { return s.name }
func (s *stubEmbedder) Available(_ context.Context) bool  { return !s.unavailable }
func (s *stubEmbedder) Close() error                      { return nil }

var _ Embedder = (*stubEmbedder)(nil)

// identityMatrix builds a square-ish projection that copies the first
// min(rows, cols) components.
func identityMatrix(name string, rows, cols int) *Matrix {
	m, _ := NewMatrix(name, rows, cols)
	n := rows
	if cols < n {
		n = cols
	}
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
