package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/archrag/archrag/internal/embed"
	"github.com/archrag/archrag/internal/ragerr"
	"github.com/archrag/archrag/internal/store"
	"github.com/archrag/archrag/internal/telemetry"
	"github.com/archrag/archrag/internal/web"
)

// DefaultWebKBTTL bounds how long a promoted web chunk stays retrievable.
const DefaultWebKBTTL = 7 * 24 * time.Hour

// Document is one unit of ingestable content.
type Document struct {
	ID         string
	Type       string // "pattern", "guide", "web", ...
	SourcePath string
	Content    string
	Mtime      time.Time

	// Web provenance, set for promoted live results.
	URL        string
	Title      string
	TrustScore float64
	ExpiresAt  *time.Time
}

// Ingestor commits documents to the vector index, text index, and catalog.
// The commit is two-phase: catalog rows land invisible first, then the
// vector and text writes, then the visibility flip. A crash between phases
// leaves orphaned index entries that retrieval filters out, never a
// half-visible document.
type Ingestor struct {
	registry *embed.Registry
	vector   store.VectorIndex
	text     store.TextIndex
	catalog  *store.Catalog
	chunker  *Chunker
	kbTTL    time.Duration
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	docLocks sync.Map // document ID -> *sync.Mutex
	now      func() time.Time
}

// NewIngestor creates an ingestor. kbTTL <= 0 takes the default web-KB TTL.
func NewIngestor(registry *embed.Registry, vector store.VectorIndex, text store.TextIndex,
	catalog *store.Catalog, chunker *Chunker, kbTTL time.Duration,
	metrics *telemetry.Metrics, logger *slog.Logger) *Ingestor {
	if chunker == nil {
		chunker = NewChunker(0)
	}
	if kbTTL <= 0 {
		kbTTL = DefaultWebKBTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		registry: registry,
		vector:   vector,
		text:     text,
		catalog:  catalog,
		chunker:  chunker,
		kbTTL:    kbTTL,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// IngestDocument chunks, embeds, and commits one document under the given
// tier origin. Re-ingesting a document whose content hash is unchanged is
// a no-op. Concurrent ingestions of the same document serialize on a
// per-document lock.
func (in *Ingestor) IngestDocument(ctx context.Context, doc *Document, tier store.TierOrigin) error {
	if strings.TrimSpace(doc.Content) == "" {
		return ragerr.Newf(ragerr.ErrCodeBadOption, "document %q has no content", doc.ID)
	}

	mu, _ := in.docLocks.LoadOrStore(doc.ID, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	sourceHash := hashHex([]byte(doc.Content))
	prev, err := in.catalog.DocumentHash(ctx, doc.ID)
	if err != nil {
		return ragerr.Wrap(err, ragerr.ErrCodeCatalogCorrupt, "read document hash")
	}
	if prev == sourceHash {
		in.logger.Debug("document unchanged, skipping",
			slog.String("document", doc.ID))
		return nil
	}

	pieces := in.chunker.Chunk(doc.Content)
	if len(pieces) == 0 {
		return ragerr.Newf(ragerr.ErrCodeBadOption, "document %q produced no chunks", doc.ID)
	}

	// Purge the previous version before writing the new one, so a changed
	// document never has two chunk sets visible at once.
	if prev != "" {
		if err := in.purgeDocument(ctx, doc.ID); err != nil {
			return err
		}
	}

	ingestedAt := in.now().UTC()
	chunks := make([]*store.Chunk, len(pieces))
	texts := make([]string, len(pieces))
	ids := make([]string, len(pieces))
	for i, p := range pieces {
		id := hashHex([]byte(doc.ID + p.Text))
		ids[i] = id
		texts[i] = p.Text
		chunks[i] = &store.Chunk{
			ID:           id,
			DocumentID:   doc.ID,
			DocumentType: doc.Type,
			SourcePath:   doc.SourcePath,
			Text:         p.Text,
			TierOrigin:   tier,
			URL:          doc.URL,
			Title:        pieceTitle(p, doc.Title),
			TrustScore:   doc.TrustScore,
			SourceHash:   sourceHash,
			SourceMtime:  doc.Mtime,
			IngestedAt:   ingestedAt,
			ExpiresAt:    doc.ExpiresAt,
		}
	}

	// Phase 1: catalog rows, invisible.
	if err := in.catalog.SaveChunks(ctx, chunks); err != nil {
		return ragerr.Wrap(err, ragerr.ErrCodeCatalogCorrupt, "stage chunks")
	}

	// Phase 2: indexes. Vector first, then text.
	vecs, err := in.registry.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	recs := make([]store.VectorRecord, len(chunks))
	textRecs := make([]*store.TextRecord, len(chunks))
	for i, ch := range chunks {
		recs[i] = store.VectorRecord{ChunkID: ch.ID, Vector: vecs[i], Payload: ch.Payload()}
		textRecs[i] = &store.TextRecord{ChunkID: ch.ID, Text: ch.Text, Payload: ch.Payload()}
	}
	if err := in.vector.Upsert(ctx, recs); err != nil {
		return ragerr.Wrap(err, ragerr.ErrCodeIndexUnavailable, "vector write")
	}
	if err := in.text.Index(ctx, textRecs); err != nil {
		return ragerr.Wrap(err, ragerr.ErrCodeIndexUnavailable, "text write")
	}

	// Phase 3: commit.
	if err := in.catalog.MarkVisible(ctx, doc.ID, sourceHash, ids); err != nil {
		return ragerr.Wrap(err, ragerr.ErrCodeCatalogCorrupt, "commit visibility")
	}

	if in.metrics != nil {
		in.metrics.IngestDocuments.WithLabelValues(string(tier)).Inc()
		in.metrics.IngestChunks.WithLabelValues(string(tier)).Add(float64(len(chunks)))
	}
	in.logger.Info("document ingested",
		slog.String("document", doc.ID),
		slog.String("tier", string(tier)),
		slog.Int("chunks", len(chunks)))
	return nil
}

// IngestDirectory walks root and ingests every markdown file as a curated
// document. The document ID is the path relative to root, slash-separated.
// Returns the number of documents ingested (unchanged files count too).
func (in *Ingestor) IngestDirectory(ctx context.Context, root string) (int, error) {
	var n int
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		doc := &Document{
			ID:         filepath.ToSlash(rel),
			Type:       documentTypeFor(rel),
			SourcePath: path,
			Content:    string(content),
			Mtime:      info.ModTime(),
		}
		if err := in.IngestDocument(ctx, doc, store.TierCurated); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

// PromoteWebResult ingests one extracted live-web result into the web-KB
// tier with an expiry. Implements the orchestrator's Promoter contract.
func (in *Ingestor) PromoteWebResult(ctx context.Context, r *web.SearchResult) error {
	if !r.Extracted || r.Content == "" {
		return ragerr.Newf(ragerr.ErrCodeBadOption, "result %q has no extracted content", r.URL)
	}
	expires := in.now().Add(in.kbTTL).UTC()
	doc := &Document{
		ID:         r.URL,
		Type:       "web",
		SourcePath: r.URL,
		Content:    r.Content,
		Mtime:      in.now().UTC(),
		URL:        r.URL,
		Title:      r.Title,
		TrustScore: r.TrustScore,
		ExpiresAt:  &expires,
	}
	return in.IngestDocument(ctx, doc, store.TierWebKB)
}

// DeleteDocument removes a document from the catalog and both indexes.
func (in *Ingestor) DeleteDocument(ctx context.Context, documentID string) error {
	mu, _ := in.docLocks.LoadOrStore(documentID, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()
	return in.purgeDocument(ctx, documentID)
}

// SweepExpired removes expired web-KB chunks from both indexes and the
// catalog. Retrieval already excludes them lazily; the sweep reclaims the
// space. Returns the number of chunks removed.
func (in *Ingestor) SweepExpired(ctx context.Context) (int, error) {
	ids, err := in.catalog.ExpiredChunkIDs(ctx, in.now())
	if err != nil {
		return 0, ragerr.Wrap(err, ragerr.ErrCodeCatalogCorrupt, "list expired chunks")
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := in.vector.Delete(ctx, ids); err != nil {
		return 0, ragerr.Wrap(err, ragerr.ErrCodeIndexUnavailable, "sweep vector index")
	}
	if err := in.text.Delete(ctx, ids); err != nil {
		return 0, ragerr.Wrap(err, ragerr.ErrCodeIndexUnavailable, "sweep text index")
	}
	if err := in.catalog.DeleteChunks(ctx, ids); err != nil {
		return 0, ragerr.Wrap(err, ragerr.ErrCodeCatalogCorrupt, "sweep catalog")
	}
	in.logger.Info("expired web chunks swept", slog.Int("chunks", len(ids)))
	return len(ids), nil
}

func (in *Ingestor) purgeDocument(ctx context.Context, documentID string) error {
	ids, err := in.catalog.DeleteDocument(ctx, documentID)
	if err != nil {
		return ragerr.Wrap(err, ragerr.ErrCodeCatalogCorrupt, "delete document")
	}
	if len(ids) == 0 {
		return nil
	}
	if err := in.vector.Delete(ctx, ids); err != nil {
		return ragerr.Wrap(err, ragerr.ErrCodeIndexUnavailable, "delete vectors")
	}
	if err := in.text.Delete(ctx, ids); err != nil {
		return ragerr.Wrap(err, ragerr.ErrCodeIndexUnavailable, "delete text records")
	}
	return nil
}

func pieceTitle(p Piece, docTitle string) string {
	if p.HeaderPath != "" {
		return p.HeaderPath
	}
	return docTitle
}

// documentTypeFor maps a corpus-relative path to a document type. The top
// directory names the type ("patterns/saga.md" -> "pattern"); flat files
// default to "guide".
func documentTypeFor(rel string) string {
	dir := filepath.Dir(rel)
	if dir == "." {
		return "guide"
	}
	top := strings.Split(filepath.ToSlash(dir), "/")[0]
	return strings.TrimSuffix(top, "s")
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
