// Package ingest turns documents into retrievable chunks and commits
// them to the vector index, text index, and catalog with a two-phase
// write: chunks stay invisible until every index holds them.
package ingest

import (
	"regexp"
	"strings"
)

const (
	// DefaultMaxChunkTokens caps one chunk, estimated at ~4 chars/token.
	DefaultMaxChunkTokens = 512
)

var headerRe = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// Piece is one chunk-to-be produced by the chunker.
type Piece struct {
	Text       string
	Title      string // nearest section title, "" for preamble text
	HeaderPath string // "Guide > Patterns > Circuit Breaker"
}

// Chunker splits markdown along its heading structure. Sections that
// exceed the token cap split further on paragraph boundaries, keeping
// fenced code blocks whole.
type Chunker struct {
	maxTokens int
}

// NewChunker creates a chunker. maxTokens <= 0 takes the default.
func NewChunker(maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxChunkTokens
	}
	return &Chunker{maxTokens: maxTokens}
}

// Chunk splits markdown content into pieces. Plain text without
// headings chunks by paragraphs alone.
func (c *Chunker) Chunk(content string) []Piece {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	sections := parseSections(content)
	var pieces []Piece
	for _, sec := range sections {
		body := strings.TrimSpace(sec.content)
		if body == "" || body == strings.TrimSpace(sec.headerLine) {
			// Header with no body contributes nothing.
			continue
		}
		if estimateTokens(body) <= c.maxTokens {
			pieces = append(pieces, Piece{Text: body, Title: sec.title, HeaderPath: sec.path})
			continue
		}
		for _, part := range c.splitByParagraphs(body) {
			pieces = append(pieces, Piece{Text: part, Title: sec.title, HeaderPath: sec.path})
		}
	}
	return pieces
}

type section struct {
	title      string
	path       string
	headerLine string
	content    string
}

// parseSections walks the lines, tracking the heading hierarchy so each
// section knows its full path. Text before the first heading becomes an
// untitled preamble section.
func parseSections(content string) []*section {
	lines := strings.Split(content, "\n")
	stack := make([]string, 6)

	var sections []*section
	current := &section{}
	var b strings.Builder

	flush := func() {
		current.content = b.String()
		if strings.TrimSpace(current.content) != "" {
			sections = append(sections, current)
		}
		b.Reset()
	}

	inFence := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if m := headerRe.FindStringSubmatch(line); m != nil && !inFence {
			flush()
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			stack[level-1] = title
			for i := level; i < 6; i++ {
				stack[i] = ""
			}
			var parts []string
			for i := 0; i < level; i++ {
				if stack[i] != "" {
					parts = append(parts, stack[i])
				}
			}
			current = &section{
				title:      title,
				path:       strings.Join(parts, " > "),
				headerLine: line,
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	flush()
	return sections
}

// splitByParagraphs packs paragraphs into pieces under the token cap.
// Fenced code blocks are merged back into single paragraphs first so a
// split never lands inside one.
func (c *Chunker) splitByParagraphs(body string) []string {
	paragraphs := mergeFences(splitParagraphs(body))

	var out []string
	var b strings.Builder
	for _, p := range paragraphs {
		if b.Len() > 0 && estimateTokens(b.String())+estimateTokens(p) > c.maxTokens {
			out = append(out, strings.TrimSpace(b.String()))
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p)
	}
	if strings.TrimSpace(b.String()) != "" {
		out = append(out, strings.TrimSpace(b.String()))
	}
	return out
}

func splitParagraphs(body string) []string {
	parts := strings.Split(body, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// mergeFences rejoins paragraphs split inside an unclosed ``` fence.
func mergeFences(paragraphs []string) []string {
	var out []string
	var b strings.Builder
	open := false

	for _, p := range paragraphs {
		if open {
			b.WriteString("\n\n")
			b.WriteString(p)
			if strings.Count(p, "```")%2 == 1 {
				out = append(out, b.String())
				b.Reset()
				open = false
			}
			continue
		}
		if strings.Count(p, "```")%2 == 1 {
			open = true
			b.WriteString(p)
			continue
		}
		out = append(out, p)
	}
	if open {
		out = append(out, b.String())
	}
	return out
}

// estimateTokens approximates token count at 4 characters per token.
func estimateTokens(s string) int {
	return len(s) / 4
}
