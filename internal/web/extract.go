package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"golang.org/x/net/html"
)

const (
	extractTimeout  = 10 * time.Second
	maxPageBytes    = 2 << 20 // 2MB cap on fetched pages
	maxContentRunes = 20000   // extracted text cap
)

// HTMLExtractor fetches a page and extracts readable text: script, style,
// nav, and other chrome elements are dropped, block boundaries become
// newlines.
type HTMLExtractor struct {
	client *http.Client
}

// NewHTMLExtractor creates an extractor with sane timeouts.
func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{client: &http.Client{Timeout: extractTimeout}}
}

// skippedElements never contribute text.
var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"nav": true, "header": true, "footer": true, "aside": true,
	"form": true, "svg": true, "button": true,
}

// blockElements terminate a line of extracted text.
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "br": true, "blockquote": true, "pre": true,
}

// Extract fetches the URL and returns the page's readable text.
func (e *HTMLExtractor) Extract(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", "archrag/1.0 (+https://github.com/archrag/archrag)")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text/plain") {
		return "", fmt.Errorf("unsupported content type %q", ct)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return ExtractText(doc), nil
}

// ExtractText walks a parsed HTML tree and returns its readable text.
func ExtractText(doc *html.Node) string {
	var b strings.Builder
	walkText(doc, &b)
	return collapseWhitespace(b.String())
}

func walkText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.ElementNode:
		if skippedElements[n.Data] {
			return
		}
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, b)
	}
	if n.Type == html.ElementNode && blockElements[n.Data] {
		b.WriteByte('\n')
	}
}

// collapseWhitespace squeezes runs of spaces and blank lines and applies
// the content length cap.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := false
	lastNewline := true
	runes := 0
	for _, r := range s {
		if runes >= maxContentRunes {
			break
		}
		switch {
		case r == '\n':
			if !lastNewline {
				b.WriteByte('\n')
				runes++
			}
			lastNewline = true
			lastSpace = true
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				runes++
			}
			lastSpace = true
		default:
			b.WriteRune(r)
			runes++
			lastSpace = false
			lastNewline = false
		}
	}
	return strings.TrimSpace(b.String())
}

var _ Extractor = (*HTMLExtractor)(nil)
