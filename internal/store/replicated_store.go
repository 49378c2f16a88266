package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Synaptikal/VaultSync-sub001/internal/model"
)

// ReplicatedStore pairs every domain mutation with its causal metadata: the
// entity's version vector and an append-only change log entry.
type ReplicatedStore struct {
	nodeID string
	now    func() time.Time
}

// NewReplicatedStore creates a replicated store for the local node
func NewReplicatedStore(nodeID string) *ReplicatedStore {
	return &ReplicatedStore{
		nodeID: nodeID,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NodeID returns the local node id
func (s *ReplicatedStore) NodeID() string {
	return s.nodeID
}

// RecordMutation logs a local mutation of recordID. It must run inside the
// same transaction as the domain write it describes: the vector update and
// log append become durable together with that write or not at all.
//
// The local coordinate advances to the next node-wide log sequence so the
// record's sequence number equals its own coordinate.
func (s *ReplicatedStore) RecordMutation(ctx context.Context, tx DBTX, recordID string, recordType model.RecordType, op model.SyncOperation, data interface{}) (*model.ChangeRecord, error) {
	payload, err := encodeData(data)
	if err != nil {
		return nil, fmt.Errorf("record mutation: %w", err)
	}

	vv, _, err := s.GetVector(ctx, tx, recordID)
	if err != nil {
		return nil, fmt.Errorf("record mutation: %w", err)
	}

	head, err := s.HeadSequence(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("record mutation: %w", err)
	}
	seq := vv.Advance(s.nodeID, head+1)

	if err := upsertVector(ctx, tx, recordID, vv); err != nil {
		return nil, fmt.Errorf("record mutation: %w", err)
	}

	rec := &model.ChangeRecord{
		RecordID:        recordID,
		RecordType:      recordType,
		Operation:       op,
		Data:            payload,
		VectorTimestamp: vv,
		Timestamp:       s.now(),
		SequenceNumber:  seq,
		NodeID:          s.nodeID,
	}
	rec.Checksum = rec.ComputeChecksum()

	vvJSON, err := json.Marshal(vv)
	if err != nil {
		return nil, fmt.Errorf("record mutation: failed to encode vector: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_log
		(sequence, record_id, record_type, operation, data, vector_timestamp, node_id, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		int64(rec.SequenceNumber),
		rec.RecordID,
		string(rec.RecordType),
		string(rec.Operation),
		string(rec.Data),
		string(vvJSON),
		rec.NodeID,
		rec.Checksum,
		rec.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("record mutation: failed to append log: %w", err)
	}

	return rec, nil
}

// ChangesSince returns up to limit log records with sequence > cursor,
// ascending.
func (s *ReplicatedStore) ChangesSince(ctx context.Context, q DBTX, cursor uint64, limit int) ([]model.ChangeRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sequence, record_id, record_type, operation, data, vector_timestamp, node_id, checksum, created_at
		FROM sync_log
		WHERE sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`, int64(cursor), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	changes := make([]model.ChangeRecord, 0)
	for rows.Next() {
		var (
			rec        model.ChangeRecord
			seq        int64
			recordType string
			operation  string
			data       string
			vvJSON     string
		)
		if err := rows.Scan(&seq, &rec.RecordID, &recordType, &operation, &data, &vvJSON, &rec.NodeID, &rec.Checksum, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		if rec.RecordType, err = model.ParseRecordType(recordType); err != nil {
			return nil, fmt.Errorf("corrupt log entry %d: %w", seq, err)
		}
		if rec.Operation, err = model.ParseSyncOperation(operation); err != nil {
			return nil, fmt.Errorf("corrupt log entry %d: %w", seq, err)
		}
		if err := json.Unmarshal([]byte(vvJSON), &rec.VectorTimestamp); err != nil {
			return nil, fmt.Errorf("corrupt log entry %d: %w", seq, err)
		}
		rec.SequenceNumber = uint64(seq)
		rec.Data = json.RawMessage(data)
		changes = append(changes, rec)
	}

	return changes, rows.Err()
}

// GetVector returns the stored vector for recordID. The vector is empty and
// found is false when the entity has never been mutated or applied.
func (s *ReplicatedStore) GetVector(ctx context.Context, q DBTX, recordID string) (model.VersionVector, bool, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT node_id, counter FROM version_vectors WHERE entity_uuid = ?
	`, recordID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get version vector: %w", err)
	}
	defer rows.Close()

	vv := model.NewVersionVector()
	for rows.Next() {
		var (
			nodeID  string
			counter int64
		)
		if err := rows.Scan(&nodeID, &counter); err != nil {
			return nil, false, fmt.Errorf("failed to scan version vector: %w", err)
		}
		vv[nodeID] = uint64(counter)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	return vv, len(vv) > 0, nil
}

// SetVector replaces the stored vector for recordID.
func (s *ReplicatedStore) SetVector(ctx context.Context, q DBTX, recordID string, vv model.VersionVector) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM version_vectors WHERE entity_uuid = ?`, recordID); err != nil {
		return fmt.Errorf("failed to clear version vector: %w", err)
	}
	return upsertVector(ctx, q, recordID, vv)
}

// LastOperation returns the most recent locally logged operation for recordID.
func (s *ReplicatedStore) LastOperation(ctx context.Context, q DBTX, recordID string) (model.SyncOperation, bool, error) {
	var op string
	err := q.QueryRowContext(ctx, `
		SELECT operation FROM sync_log
		WHERE record_id = ?
		ORDER BY sequence DESC
		LIMIT 1
	`, recordID).Scan(&op)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get last operation: %w", err)
	}

	parsed, err := model.ParseSyncOperation(op)
	if err != nil {
		return "", false, err
	}
	return parsed, true, nil
}

// HeadSequence returns the highest sequence ever assigned to the log.
func (s *ReplicatedStore) HeadSequence(ctx context.Context, q DBTX) (uint64, error) {
	var head int64
	err := q.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT MAX(sequence) FROM sync_log), 0),
			COALESCE((SELECT seq FROM sqlite_sequence WHERE name = 'sync_log'), 0)
		)
	`).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("failed to get head sequence: %w", err)
	}
	return uint64(head), nil
}

// CountSince returns how many log records have sequence > cursor.
func (s *ReplicatedStore) CountSince(ctx context.Context, q DBTX, cursor uint64) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_log WHERE sequence > ?`, int64(cursor)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count changes: %w", err)
	}
	return n, nil
}

// LogLength returns the number of records in the change log.
func (s *ReplicatedStore) LogLength(ctx context.Context, q DBTX) (int, error) {
	return s.CountSince(ctx, q, 0)
}

func upsertVector(ctx context.Context, q DBTX, recordID string, vv model.VersionVector) error {
	for _, nodeID := range vv.Nodes() {
		_, err := q.ExecContext(ctx, `
			INSERT INTO version_vectors (entity_uuid, node_id, counter)
			VALUES (?, ?, ?)
			ON CONFLICT(entity_uuid, node_id) DO UPDATE SET counter = excluded.counter
		`, recordID, nodeID, int64(vv[nodeID]))
		if err != nil {
			return fmt.Errorf("failed to persist version vector: %w", err)
		}
	}
	return nil
}

// encodeData returns the payload in compact form. Raw payloads are compacted
// because the wire encoding compacts them too, and the checksum must survive
// the trip.
func encodeData(data interface{}) (json.RawMessage, error) {
	var raw []byte
	switch v := data.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode data: %w", err)
		}
		return b, nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("data is not valid JSON: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
