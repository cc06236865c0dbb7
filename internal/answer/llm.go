// Package answer turns retrieved chunks into a grounded, citation-marked
// answer through a pluggable LLM provider.
package answer

import (
	"context"
)

// GenerateRequest is a single completion request.
type GenerateRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}

// LLM is a text generation provider.
type LLM interface {
	// Generate produces a completion for the request.
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// Name identifies the provider/model for logging.
	Name() string

	// Available reports whether the provider can serve requests.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}
