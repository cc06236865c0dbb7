package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Catalog persists chunk metadata and text in SQLite. It is the source of
// truth for ingestion commits: chunks written to the vector and text
// indexes stay invisible to retrieval until the catalog marks them visible,
// so a crash mid-write never exposes a chunk present in one index only.
// Web-KB expiry is enforced lazily here at lookup time.
type Catalog struct {
	db *sql.DB
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id            TEXT PRIMARY KEY,
	document_id   TEXT NOT NULL,
	document_type TEXT NOT NULL DEFAULT '',
	source_path   TEXT NOT NULL DEFAULT '',
	text          TEXT NOT NULL,
	tier_origin   TEXT NOT NULL,
	url           TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL DEFAULT '',
	trust_score   REAL NOT NULL DEFAULT 0,
	source_hash   TEXT NOT NULL DEFAULT '',
	source_mtime  INTEGER NOT NULL DEFAULT 0,
	ingested_at   INTEGER NOT NULL,
	expires_at    INTEGER,
	visible       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_tier ON chunks(tier_origin);

CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	source_hash TEXT NOT NULL,
	chunk_count INTEGER NOT NULL,
	ingested_at INTEGER NOT NULL
);
`

// NewCatalog opens (or creates) a catalog at path. Path ":memory:" creates
// an in-memory catalog for tests.
func NewCatalog(path string) (*Catalog, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// table-lock races between the ingestion and promotion paths.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(catalogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// SaveChunks inserts chunks in a single transaction, invisible until
// MarkVisible. Existing rows with the same ID are replaced.
func (c *Catalog) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
		(id, document_id, document_type, source_path, text, tier_origin, url, title,
		 trust_score, source_hash, source_mtime, ingested_at, expires_at, visible)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ch := range chunks {
		var expires *int64
		if ch.ExpiresAt != nil {
			v := ch.ExpiresAt.Unix()
			expires = &v
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.DocumentType, ch.SourcePath, ch.Text,
			string(ch.TierOrigin), ch.URL, ch.Title, ch.TrustScore,
			ch.SourceHash, ch.SourceMtime.Unix(), ch.IngestedAt.Unix(), expires,
		); err != nil {
			return fmt.Errorf("save chunk %s: %w", ch.ID, err)
		}
	}

	return tx.Commit()
}

// MarkVisible flips the visibility flag for the given chunks and records
// the owning document's hash. This is the commit point of an ingestion.
func (c *Catalog) MarkVisible(ctx context.Context, documentID, sourceHash string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	q := fmt.Sprintf("UPDATE chunks SET visible = 1 WHERE id IN (%s)", placeholders(len(ids)))
	if _, err := tx.ExecContext(ctx, q, toAny(ids)...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents (id, source_hash, chunk_count, ingested_at)
		VALUES (?, ?, ?, ?)`,
		documentID, sourceHash, len(ids), time.Now().Unix(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// DocumentHash returns the committed source hash for a document, or ""
// if the document has never been ingested.
func (c *Catalog) DocumentHash(ctx context.Context, documentID string) (string, error) {
	var hash string
	err := c.db.QueryRowContext(ctx,
		"SELECT source_hash FROM documents WHERE id = ?", documentID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// DeleteDocument removes a document and all its chunks, returning the
// removed chunk IDs so callers can purge the indexes.
func (c *Catalog) DeleteDocument(ctx context.Context, documentID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id FROM chunks WHERE document_id = ?", documentID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", documentID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// VisibleChunks resolves chunk IDs to chunks, dropping anything invisible
// or expired as of now. This is the lazy expiry filter for web_kb chunks.
func (c *Catalog) VisibleChunks(ctx context.Context, ids []string, now time.Time) (map[string]*Chunk, error) {
	if len(ids) == 0 {
		return map[string]*Chunk{}, nil
	}

	q := fmt.Sprintf(`
		SELECT id, document_id, document_type, source_path, text, tier_origin,
		       url, title, trust_score, source_hash, source_mtime, ingested_at, expires_at
		FROM chunks
		WHERE visible = 1 AND (expires_at IS NULL OR expires_at > ?) AND id IN (%s)`,
		placeholders(len(ids)))

	args := append([]any{now.Unix()}, toAny(ids)...)
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[ch.ID] = ch
	}
	return out, rows.Err()
}

// ExpiredChunkIDs returns visible chunks whose expires_at has passed,
// for callers that sweep the indexes.
func (c *Catalog) ExpiredChunkIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id FROM chunks WHERE expires_at IS NOT NULL AND expires_at <= ?", now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteChunks removes chunk rows by ID. Used by the expiry sweep after
// the index entries are gone.
func (c *Catalog) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q := fmt.Sprintf("DELETE FROM chunks WHERE id IN (%s)", placeholders(len(ids)))
	_, err := c.db.ExecContext(ctx, q, toAny(ids)...)
	return err
}

// CountByTier returns visible chunk counts per tier origin.
func (c *Catalog) CountByTier(ctx context.Context) (map[TierOrigin]int, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT tier_origin, COUNT(*) FROM chunks WHERE visible = 1 GROUP BY tier_origin")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[TierOrigin]int)
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, err
		}
		out[TierOrigin(tier)] = n
	}
	return out, rows.Err()
}

// HasDocument reports whether a committed document exists.
func (c *Catalog) HasDocument(ctx context.Context, documentID string) (bool, error) {
	hash, err := c.DocumentHash(ctx, documentID)
	return hash != "", err
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var (
		ch          Chunk
		tier        string
		mtime, ing  int64
		expiresUnix sql.NullInt64
	)
	if err := row.Scan(&ch.ID, &ch.DocumentID, &ch.DocumentType, &ch.SourcePath,
		&ch.Text, &tier, &ch.URL, &ch.Title, &ch.TrustScore, &ch.SourceHash,
		&mtime, &ing, &expiresUnix); err != nil {
		return nil, err
	}
	ch.TierOrigin = TierOrigin(tier)
	ch.SourceMtime = time.Unix(mtime, 0).UTC()
	ch.IngestedAt = time.Unix(ing, 0).UTC()
	if expiresUnix.Valid {
		t := time.Unix(expiresUnix.Int64, 0).UTC()
		ch.ExpiresAt = &t
	}
	return &ch, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
