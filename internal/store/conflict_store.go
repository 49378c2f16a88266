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

// ConflictStore is the local audit trail of detected sync conflicts.
type ConflictStore struct{}

// NewConflictStore creates a new conflict store
func NewConflictStore() *ConflictStore {
	return &ConflictStore{}
}

// Record writes a conflict and its snapshots.
func (s *ConflictStore) Record(ctx context.Context, q DBTX, c *model.SyncConflict) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_conflicts
		(conflict_uuid, resource_type, resource_uuid, conflict_type, peer_node_id, status, resolution, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ConflictUUID,
		string(c.ResourceType),
		c.ResourceUUID,
		c.ConflictType,
		c.PeerNodeID,
		string(c.Status),
		c.Resolution,
		c.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record conflict: %w", err)
	}

	for _, snap := range c.Snapshots {
		vvJSON, err := json.Marshal(snap.VectorClock)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot vector: %w", err)
		}
		state := string(snap.StateData)
		if state == "" {
			state = "null"
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO conflict_snapshots (snapshot_uuid, conflict_uuid, node_id, state_data, vector_clock)
			VALUES (?, ?, ?, ?, ?)
		`, snap.SnapshotUUID, c.ConflictUUID, snap.NodeID, state, string(vvJSON))
		if err != nil {
			return fmt.Errorf("failed to record conflict snapshot: %w", err)
		}
	}
	return nil
}

// SetResolution records how the resolver settled a conflict without changing
// its audit status.
func (s *ConflictStore) SetResolution(ctx context.Context, q DBTX, conflictUUID, resolution string) error {
	_, err := q.ExecContext(ctx, `UPDATE sync_conflicts SET resolution = ? WHERE conflict_uuid = ?`, resolution, conflictUUID)
	if err != nil {
		return fmt.Errorf("failed to set conflict resolution: %w", err)
	}
	return nil
}

// UpdateStatus moves a conflict to Resolved or Ignored.
func (s *ConflictStore) UpdateStatus(ctx context.Context, q DBTX, conflictUUID string, status model.ResolutionStatus, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE sync_conflicts SET status = ?, resolved_at = ? WHERE conflict_uuid = ?
	`, string(status), at, conflictUUID)
	if err != nil {
		return fmt.Errorf("failed to update conflict status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns one conflict with its snapshots.
func (s *ConflictStore) Get(ctx context.Context, q DBTX, conflictUUID string) (*model.SyncConflict, error) {
	conflicts, err := s.query(ctx, q, `WHERE conflict_uuid = ?`, conflictUUID)
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		return nil, ErrNotFound
	}
	if err := s.loadSnapshots(ctx, q, conflicts[0]); err != nil {
		return nil, err
	}
	return conflicts[0], nil
}

// List returns conflicts, newest first. An empty status lists all.
func (s *ConflictStore) List(ctx context.Context, q DBTX, status model.ResolutionStatus, limit int) ([]*model.SyncConflict, error) {
	if status == "" {
		return s.query(ctx, q, `ORDER BY detected_at DESC LIMIT ?`, limit)
	}
	return s.query(ctx, q, `WHERE status = ? ORDER BY detected_at DESC LIMIT ?`, string(status), limit)
}

// ListUnarchived returns conflicts not yet shipped to the central archive,
// oldest first, with snapshots.
func (s *ConflictStore) ListUnarchived(ctx context.Context, q DBTX, limit int) ([]*model.SyncConflict, error) {
	conflicts, err := s.query(ctx, q, `WHERE archived = 0 ORDER BY detected_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	for _, c := range conflicts {
		if err := s.loadSnapshots(ctx, q, c); err != nil {
			return nil, err
		}
	}
	return conflicts, nil
}

// MarkArchived flags conflicts as shipped to the central archive.
func (s *ConflictStore) MarkArchived(ctx context.Context, q DBTX, conflictUUIDs []string) error {
	for _, id := range conflictUUIDs {
		if _, err := q.ExecContext(ctx, `UPDATE sync_conflicts SET archived = 1 WHERE conflict_uuid = ?`, id); err != nil {
			return fmt.Errorf("failed to mark conflict archived: %w", err)
		}
	}
	return nil
}

// Count returns the number of conflicts with the given status; all when empty.
func (s *ConflictStore) Count(ctx context.Context, q DBTX, status model.ResolutionStatus) (int, error) {
	var (
		n   int
		err error
	)
	if status == "" {
		err = q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_conflicts`).Scan(&n)
	} else {
		err = q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_conflicts WHERE status = ?`, string(status)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return n, nil
}

func (s *ConflictStore) query(ctx context.Context, q DBTX, where string, args ...any) ([]*model.SyncConflict, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT conflict_uuid, resource_type, resource_uuid, conflict_type, peer_node_id,
		       status, resolution, detected_at, resolved_at
		FROM sync_conflicts `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := make([]*model.SyncConflict, 0)
	for rows.Next() {
		var (
			c            model.SyncConflict
			resourceType string
			status       string
			resolvedAt   sql.NullTime
		)
		if err := rows.Scan(&c.ConflictUUID, &resourceType, &c.ResourceUUID, &c.ConflictType, &c.PeerNodeID,
			&status, &c.Resolution, &c.DetectedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		c.ResourceType = model.RecordType(resourceType)
		c.Status = model.ResolutionStatus(status)
		if resolvedAt.Valid {
			c.ResolvedAt = &resolvedAt.Time
		}
		conflicts = append(conflicts, &c)
	}
	return conflicts, rows.Err()
}

func (s *ConflictStore) loadSnapshots(ctx context.Context, q DBTX, c *model.SyncConflict) error {
	rows, err := q.QueryContext(ctx, `
		SELECT snapshot_uuid, node_id, state_data, vector_clock
		FROM conflict_snapshots WHERE conflict_uuid = ?
		ORDER BY rowid ASC
	`, c.ConflictUUID)
	if err != nil {
		return fmt.Errorf("failed to query conflict snapshots: %w", err)
	}
	defer rows.Close()

	c.Snapshots = make([]model.ConflictSnapshot, 0, 2)
	for rows.Next() {
		var (
			snap   model.ConflictSnapshot
			state  string
			vvJSON string
		)
		if err := rows.Scan(&snap.SnapshotUUID, &snap.NodeID, &state, &vvJSON); err != nil {
			return fmt.Errorf("failed to scan conflict snapshot: %w", err)
		}
		snap.ConflictUUID = c.ConflictUUID
		snap.StateData = json.RawMessage(state)
		if err := json.Unmarshal([]byte(vvJSON), &snap.VectorClock); err != nil {
			return fmt.Errorf("corrupt snapshot vector: %w", err)
		}
		c.Snapshots = append(c.Snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(c.Snapshots) == 0 {
		return errors.New("conflict has no snapshots")
	}
	return nil
}
