package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Document statuses.
const (
	DocPending    = "pending"
	DocProcessing = "processing"
	DocCompleted  = "completed"
	DocError      = "error"
)

// Document is an uploaded file queued for ingestion.
type Document struct {
	ID           string `json:"id"`
	CommunityID  string `json:"community_id"`
	Filename     string `json:"filename"`
	Path         string `json:"path"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	ChunkCount   int    `json:"chunk_count"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// CreateDocument records a pending document whose bytes live at path.
func (db *DB) CreateDocument(ctx context.Context, communityID, filename, path string) (*Document, error) {
	now := time.Now().UnixMilli()
	doc := &Document{
		ID:          uuid.NewString(),
		CommunityID: communityID,
		Filename:    filename,
		Path:        path,
		Status:      DocPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO documents (id, community_id, filename, path, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.CommunityID, doc.Filename, doc.Path, doc.Status, now, now)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

const documentColumns = `id, community_id, filename, path, status, error_message, chunk_count, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var (
		d      Document
		errMsg sql.NullString
	)
	if err := row.Scan(&d.ID, &d.CommunityID, &d.Filename, &d.Path, &d.Status, &errMsg,
		&d.ChunkCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.ErrorMessage = errMsg.String
	return &d, nil
}

// GetDocument returns a document by id, or ErrNotFound.
func (db *DB) GetDocument(ctx context.Context, id string) (*Document, error) {
	d, err := scanDocument(db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

// ListDocuments returns a community's documents, newest first.
func (db *DB) ListDocuments(ctx context.Context, communityID string) ([]Document, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE community_id = ? ORDER BY created_at DESC`, communityID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// SetDocumentStatus moves a document through pending, processing, completed
// or error. errMsg is stored only for DocError.
func (db *DB) SetDocumentStatus(ctx context.Context, id, status, errMsg string, chunkCount int) error {
	switch status {
	case DocPending, DocProcessing, DocCompleted, DocError:
	default:
		return fmt.Errorf("set document status: invalid status %q", status)
	}
	if status != DocError {
		errMsg = ""
	}
	res, err := db.ExecContext(ctx, `
		UPDATE documents SET status = ?, error_message = NULLIF(?, ''), chunk_count = ?, updated_at = ?
		WHERE id = ?
	`, status, errMsg, chunkCount, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set document status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document and every memory ingested from it.
// Returns the number of memories removed.
func (db *DB) DeleteDocument(ctx context.Context, id string) (int, error) {
	const edges = `SELECT id FROM hyperedges WHERE json_extract(metadata, '$.document_id') = ?`

	var removed int64
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE edge_id IN (`+edges+`)`, id); err != nil {
			return fmt.Errorf("delete document memberships: %w", err)
		}
		res, err = tx.ExecContext(ctx, `DELETE FROM hyperedges WHERE id IN (`+edges+`)`, id)
		if err != nil {
			return fmt.Errorf("delete document memories: %w", err)
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}
