package answer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// MockLLM is an offline provider for tests and local development. It
// composes an answer from the sources present in the prompt, citing each
// one, so the citation pipeline and evaluator have something real to
// chew on.
type MockLLM struct {
	// Response, when set, is returned verbatim.
	Response string

	// Err, when set, fails every call.
	Err error
}

var sourceHeaderRe = regexp.MustCompile(`(?m)^\[(\d+)\][^\n]*\n([^\n]*)`)

// Generate extracts the numbered sources from the prompt and produces a
// short answer quoting and citing each one.
func (m *MockLLM) Generate(_ context.Context, req GenerateRequest) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if m.Response != "" {
		return m.Response, nil
	}

	matches := sourceHeaderRe.FindAllStringSubmatch(req.Prompt, -1)
	if len(matches) == 0 {
		return "No relevant sources were provided.", nil
	}

	var b strings.Builder
	b.WriteString("Based on the provided sources: ")
	for i, m := range matches {
		if i > 0 {
			b.WriteString(" ")
		}
		excerpt := m[2]
		if len(excerpt) > 120 {
			excerpt = excerpt[:120]
		}
		fmt.Fprintf(&b, "%s [%s].", strings.TrimSpace(excerpt), m[1])
	}
	return b.String(), nil
}

// Name identifies the provider.
func (m *MockLLM) Name() string { return "mock" }

// Available is always true.
func (m *MockLLM) Available(_ context.Context) bool { return true }

// Close is a no-op.
func (m *MockLLM) Close() error { return nil }

var _ LLM = (*MockLLM)(nil)
