package answer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/archrag/archrag/internal/ragerr"
	"github.com/archrag/archrag/internal/search"
)

const (
	// DefaultContextBudget is the token budget for the sources block.
	DefaultContextBudget = 6000
	// DefaultAnswerBudget caps the generated answer length.
	DefaultAnswerBudget = 1024
)

const systemPrompt = `You are an assistant answering questions about software architecture and design patterns.
Answer using ONLY the numbered sources provided. Cite every claim with the source number in square brackets, like [1] or [2].
If the sources do not contain the answer, say so plainly instead of guessing.`

// Citation links an ordinal in the answer text back to its chunk.
type Citation struct {
	Ordinal    int    `json:"ordinal"`
	ChunkID    string `json:"chunk_id"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	SourceTier string `json:"source_tier"`
}

// Answer is a generated, citation-marked answer.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
	Model     string     `json:"model"`

	// RawOrdinals are every bracketed integer parsed from the text,
	// including out-of-range ones. Feeds citation grounding.
	RawOrdinals []int `json:"-"`

	// SourceCount is how many sources made it into the prompt.
	SourceCount int `json:"-"`
}

// Generator builds prompts from retrieved chunks and drives the LLM.
type Generator struct {
	llm           LLM
	contextBudget int
	answerBudget  int
	logger        *slog.Logger
}

// NewGenerator creates a generator. Zero budgets take the defaults.
func NewGenerator(llm LLM, contextBudget, answerBudget int, logger *slog.Logger) *Generator {
	if contextBudget <= 0 {
		contextBudget = DefaultContextBudget
	}
	if answerBudget <= 0 {
		answerBudget = DefaultAnswerBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		llm:           llm,
		contextBudget: contextBudget,
		answerBudget:  answerBudget,
		logger:        logger,
	}
}

var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// Generate produces an answer grounded in the chunks. Chunks are labeled
// with 1-indexed ordinals in retrieval order; the returned citations are
// the ordinals the model actually used, deduplicated and sorted. Chunks
// that would blow the context budget are dropped from the tail.
func (g *Generator) Generate(ctx context.Context, query string, chunks []*search.RetrievedChunk, userContext string) (*Answer, error) {
	if len(chunks) == 0 {
		return nil, ragerr.New(ragerr.ErrCodeGenerationFailed, "no chunks to ground the answer", nil)
	}

	prompt, included := g.buildPrompt(query, chunks, userContext)
	if len(included) == 0 {
		return nil, ragerr.New(ragerr.ErrCodeGenerationFailed, "context budget too small for any source", nil)
	}

	text, err := g.llm.Generate(ctx, GenerateRequest{
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: g.answerBudget,
	})
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.ErrCodeGenerationFailed, "answer generation failed")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ragerr.New(ragerr.ErrCodeGenerationFailed, "empty answer returned", nil)
	}

	raw := parseOrdinals(text)
	citations := extractCitations(raw, included)
	if len(raw) == 0 {
		// No parseable citations: treat every supplied source as used.
		citations = citeAll(included)
	}

	return &Answer{
		Text:        text,
		Citations:   citations,
		Model:       g.llm.Name(),
		RawOrdinals: raw,
		SourceCount: len(included),
	}, nil
}

// buildPrompt assembles the numbered sources block and the question,
// returning the prompt and the chunks that fit the budget in ordinal
// order.
func (g *Generator) buildPrompt(query string, chunks []*search.RetrievedChunk, userContext string) (string, []*search.RetrievedChunk) {
	var b strings.Builder
	included := make([]*search.RetrievedChunk, 0, len(chunks))
	used := 0

	b.WriteString("Sources:\n\n")
	for _, c := range chunks {
		header := sourceHeader(len(included)+1, c)
		entry := header + "\n" + c.Text + "\n\n"
		cost := CountTokens(entry)
		if used+cost > g.contextBudget {
			if len(included) == 0 {
				// First chunk alone exceeds the budget: truncate it
				// rather than answering from nothing.
				entry = header + "\n" + TruncateToTokens(c.Text, g.contextBudget-CountTokens(header)-8) + "\n\n"
				b.WriteString(entry)
				included = append(included, c)
			} else {
				g.logger.Debug("dropping chunk over context budget",
					slog.String("chunk_id", c.ChunkID))
			}
			break
		}
		b.WriteString(entry)
		included = append(included, c)
		used += cost
	}

	if userContext != "" {
		b.WriteString("Additional context from the user: ")
		b.WriteString(userContext)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer with citations:")
	return b.String(), included
}

func sourceHeader(ordinal int, c *search.RetrievedChunk) string {
	title := c.Payload.Title
	if title == "" {
		title = c.Payload.SourcePath
	}
	if c.SourceTier == "live_web" || c.SourceTier == "web_kb" {
		return fmt.Sprintf("[%d] (%s, trust %.1f) %s", ordinal, c.SourceTier, c.TrustScore, title)
	}
	return fmt.Sprintf("[%d] (%s) %s", ordinal, c.SourceTier, title)
}

// parseOrdinals extracts every bracketed integer from the text, in
// order of appearance, duplicates included.
func parseOrdinals(text string) []int {
	var ordinals []int
	for _, m := range citationRe.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			ordinals = append(ordinals, n)
		}
	}
	return ordinals
}

// extractCitations maps cited ordinals to their chunks. Out-of-range
// ordinals are ignored; duplicates collapse.
func extractCitations(raw []int, included []*search.RetrievedChunk) []Citation {
	seen := make(map[int]bool)
	var ordinals []int
	for _, n := range raw {
		if n < 1 || n > len(included) || seen[n] {
			continue
		}
		seen[n] = true
		ordinals = append(ordinals, n)
	}
	sort.Ints(ordinals)

	citations := make([]Citation, 0, len(ordinals))
	for _, n := range ordinals {
		citations = append(citations, newCitation(n, included[n-1]))
	}
	return citations
}

func citeAll(included []*search.RetrievedChunk) []Citation {
	citations := make([]Citation, 0, len(included))
	for i, c := range included {
		citations = append(citations, newCitation(i+1, c))
	}
	return citations
}

func newCitation(ordinal int, c *search.RetrievedChunk) Citation {
	return Citation{
		Ordinal:    ordinal,
		ChunkID:    c.ChunkID,
		Title:      c.Payload.Title,
		URL:        c.Payload.URL,
		SourceTier: c.SourceTier,
	}
}
