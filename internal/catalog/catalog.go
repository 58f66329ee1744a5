// Package catalog persists run state in an embedded SQLite database so an
// interrupted build can resume without re-annotating finished documents.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/paperlens/corpus-builder/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Document statuses.
const (
	StatusPending   = "pending"
	StatusAnnotated = "annotated"
	StatusFailed    = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	config      TEXT NOT NULL,
	report      TEXT
);

CREATE TABLE IF NOT EXISTS documents (
	doc_id     TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	path       TEXT NOT NULL,
	pages      INTEGER NOT NULL,
	elements   INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	error      TEXT,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS annotations (
	doc_id     TEXT PRIMARY KEY REFERENCES documents(doc_id),
	payload    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
`

// StoredAnnotations is the per-document annotation payload kept for resume.
type StoredAnnotations struct {
	Document *domain.DocumentAnnotation          `json:"document,omitempty"`
	Elements map[string]domain.ElementAnnotation `json:"elements"`
}

// Catalog is the run catalog backed by SQLite.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if needed) the catalog database at path.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// BeginRun records the start of a run with its effective configuration.
func (c *Catalog) BeginRun(ctx context.Context, runID string, config interface{}) error {
	cfg, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, config) VALUES (?, ?, ?)`,
		runID, time.Now().UTC(), string(cfg),
	)
	return err
}

// FinishRun stores the run report and marks the run finished.
func (c *Catalog) FinishRun(ctx context.Context, runID string, report interface{}) error {
	rep, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, report = ? WHERE id = ?`,
		time.Now().UTC(), string(rep), runID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertDocument registers a document under a run, preserving an existing
// annotated status so resumed runs do not regress finished work.
func (c *Catalog) UpsertDocument(ctx context.Context, runID string, doc *domain.Document) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (doc_id, run_id, path, pages, elements, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			run_id = excluded.run_id,
			path = excluded.path,
			pages = excluded.pages,
			elements = excluded.elements,
			updated_at = excluded.updated_at`,
		doc.ID, runID, doc.Path, len(doc.Pages), len(doc.Elements), StatusPending, time.Now().UTC(),
	)
	return err
}

// DocumentStatus returns the recorded status for a document.
func (c *Catalog) DocumentStatus(ctx context.Context, docID string) (string, error) {
	var status string
	err := c.db.QueryRowContext(ctx,
		`SELECT status FROM documents WHERE doc_id = ?`, docID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return status, err
}

// MarkFailed records a terminal failure for a document.
func (c *Catalog) MarkFailed(ctx context.Context, docID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := c.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE doc_id = ?`,
		StatusFailed, msg, time.Now().UTC(), docID,
	)
	return err
}

// SaveAnnotations stores the document's annotation payload and marks it
// annotated. The payload is what a resumed run replays instead of calling
// the model again.
func (c *Catalog) SaveAnnotations(ctx context.Context, docID string, ann *StoredAnnotations) error {
	payload, err := json.Marshal(ann)
	if err != nil {
		return fmt.Errorf("marshal annotations: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO annotations (doc_id, payload, created_at) VALUES (?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		docID, string(payload), now,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = NULL, updated_at = ? WHERE doc_id = ?`,
		StatusAnnotated, now, docID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadAnnotations returns the stored annotation payload for a document.
func (c *Catalog) LoadAnnotations(ctx context.Context, docID string) (*StoredAnnotations, error) {
	var payload string
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM annotations WHERE doc_id = ?`, docID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var ann StoredAnnotations
	if err := json.Unmarshal([]byte(payload), &ann); err != nil {
		return nil, fmt.Errorf("unmarshal annotations: %w", err)
	}
	return &ann, nil
}

// AnnotatedDocuments lists document IDs already annotated, for resume.
func (c *Catalog) AnnotatedDocuments(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT doc_id FROM documents WHERE status = ? ORDER BY doc_id`, StatusAnnotated,
	)
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
