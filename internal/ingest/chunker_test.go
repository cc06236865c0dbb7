package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkEmptyContent(t *testing.T) {
	c := NewChunker(0)
	assert.Nil(t, c.Chunk(""))
	assert.Nil(t, c.Chunk("   \n\n  "))
}

func TestChunkSplitsOnHeadings(t *testing.T) {
	c := NewChunker(0)
	doc := `# Patterns

Intro paragraph about patterns.

## Circuit Breaker

Stops calls to a failing dependency.

## Saga

Coordinates distributed transactions.
`
	pieces := c.Chunk(doc)
	require.Len(t, pieces, 3)

	assert.Equal(t, "Patterns", pieces[0].Title)
	assert.Equal(t, "Patterns", pieces[0].HeaderPath)
	assert.Contains(t, pieces[0].Text, "Intro paragraph")

	assert.Equal(t, "Circuit Breaker", pieces[1].Title)
	assert.Equal(t, "Patterns > Circuit Breaker", pieces[1].HeaderPath)
	assert.Contains(t, pieces[1].Text, "failing dependency")

	assert.Equal(t, "Patterns > Saga", pieces[2].HeaderPath)
}

func TestChunkHeaderPathResetsOnSiblingHeading(t *testing.T) {
	c := NewChunker(0)
	doc := `# Guide

## First

Alpha body.

### Deep

Deep body.

## Second

Beta body.
`
	pieces := c.Chunk(doc)
	require.Len(t, pieces, 3)
	assert.Equal(t, "Guide > First", pieces[0].HeaderPath)
	assert.Equal(t, "Guide > First > Deep", pieces[1].HeaderPath)
	// The level-3 entry must not leak into the next level-2 section.
	assert.Equal(t, "Guide > Second", pieces[2].HeaderPath)
}

func TestChunkPreambleBeforeFirstHeading(t *testing.T) {
	c := NewChunker(0)
	pieces := c.Chunk("Preamble text with no heading.\n\n# Later\n\nBody.\n")
	require.Len(t, pieces, 2)
	assert.Equal(t, "", pieces[0].Title)
	assert.Equal(t, "", pieces[0].HeaderPath)
	assert.Contains(t, pieces[0].Text, "Preamble text")
}

func TestChunkSkipsEmptySections(t *testing.T) {
	c := NewChunker(0)
	pieces := c.Chunk("# Empty\n\n# Full\n\nSome body.\n")
	require.Len(t, pieces, 1)
	assert.Equal(t, "Full", pieces[0].Title)
}

func TestChunkSplitsLargeSectionByParagraphs(t *testing.T) {
	c := NewChunker(20) // ~80 chars

	para := strings.Repeat("word ", 12) // ~60 chars, 15 tokens
	doc := "# Big\n\n" + para + "\n\n" + para + "\n\n" + para + "\n"
	pieces := c.Chunk(doc)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		assert.Equal(t, "Big", p.Title)
		assert.LessOrEqual(t, estimateTokens(p.Text), 25)
	}
}

func TestChunkKeepsCodeBlocksWhole(t *testing.T) {
	c := NewChunker(15)

	code := "```go\nfunc a() {}\n\nfunc b() {}\n```"
	doc := "# Code\n\nlead paragraph here padding out tokens\n\n" + code + "\n\ntrailing paragraph\n"
	pieces := c.Chunk(doc)

	found := false
	for _, p := range pieces {
		if strings.Contains(p.Text, "func a()") {
			found = true
			assert.Contains(t, p.Text, "func b()", "code block was split")
		}
	}
	assert.True(t, found)
}

func TestChunkIgnoresHeadingsInsideFences(t *testing.T) {
	c := NewChunker(0)
	doc := "# Real\n\nBody.\n\n```\n# not a heading\n```\n"
	pieces := c.Chunk(doc)
	require.Len(t, pieces, 1)
	assert.Equal(t, "Real", pieces[0].Title)
	assert.Contains(t, pieces[0].Text, "# not a heading")
}
