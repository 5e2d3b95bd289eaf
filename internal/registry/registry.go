// Package registry tracks which documents have been ingested, keyed by
// content hash. It backs the idempotent-ingestion fast path and remembers
// which vector backend holds each document.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Record is one ingested document.
type Record struct {
	ID         string    `db:"id"`
	SourceURL  string    `db:"source_url"`
	ChunkCount int       `db:"chunk_count"`
	Backend    string    `db:"backend"`
	IndexedAt  time.Time `db:"indexed_at"`
}

// Registry is the SQLite-backed document registry.
type Registry struct {
	db *sqlx.DB
}

// Open connects to the registry database, creating the schema if needed.
func Open(path string) (*Registry, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	r := &Registry{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init registry schema: %w", err)
	}
	return r, nil
}

func (r *Registry) initSchema() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL,
		chunk_count INTEGER NOT NULL,
		backend TEXT NOT NULL,
		indexed_at DATETIME NOT NULL
	)`)
	return err
}

// Get returns the record for a content hash, or (nil, nil) when the document
// has never been indexed.
func (r *Registry) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := r.db.GetContext(ctx, &rec, `SELECT id, source_url, chunk_count, backend, indexed_at FROM documents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkIndexed records a completed ingestion. Upsert, so re-ingestion of the
// same content hash just refreshes the row.
func (r *Registry) MarkIndexed(ctx context.Context, rec Record) error {
	if rec.IndexedAt.IsZero() {
		rec.IndexedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO documents (id, source_url, chunk_count, backend, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET source_url = excluded.source_url,
			chunk_count = excluded.chunk_count,
			backend = excluded.backend,
			indexed_at = excluded.indexed_at`,
		rec.ID, rec.SourceURL, rec.ChunkCount, rec.Backend, rec.IndexedAt)
	return err
}

// Delete forgets a document.
func (r *Registry) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return err
}

// Close closes the underlying database.
func (r *Registry) Close() error { return r.db.Close() }
