package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Synaptikal/VaultSync-sub001/internal/model"
)

// DocumentStore keeps replicated entities that have no dedicated table as
// opaque JSON documents keyed by record id.
type DocumentStore struct{}

// NewDocumentStore creates a new document store
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{}
}

// Put inserts or replaces a document and clears any soft delete.
func (s *DocumentStore) Put(ctx context.Context, q DBTX, recordID string, recordType model.RecordType, data json.RawMessage) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO documents (record_id, record_type, data, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, NULL)
		ON CONFLICT(record_id) DO UPDATE SET
			record_type = excluded.record_type,
			data = excluded.data,
			updated_at = excluded.updated_at,
			deleted_at = NULL
	`, recordID, string(recordType), string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}
	return nil
}

// Get returns a document's data. Soft-deleted documents are still returned.
func (s *DocumentStore) Get(ctx context.Context, q DBTX, recordID string) (json.RawMessage, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM documents WHERE record_id = ?`, recordID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return json.RawMessage(data), nil
}

// Delete removes a document.
func (s *DocumentStore) Delete(ctx context.Context, q DBTX, recordID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM documents WHERE record_id = ?`, recordID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// SoftDelete marks a document deleted.
func (s *DocumentStore) SoftDelete(ctx context.Context, q DBTX, recordID string, at time.Time) error {
	if _, err := q.ExecContext(ctx, `UPDATE documents SET deleted_at = ? WHERE record_id = ?`, at, recordID); err != nil {
		return fmt.Errorf("failed to soft delete document: %w", err)
	}
	return nil
}
