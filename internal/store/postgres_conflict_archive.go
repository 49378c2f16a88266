package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const archiveSchema = `
	CREATE TABLE IF NOT EXISTS archived_conflicts (
		conflict_uuid  TEXT PRIMARY KEY,
		origin_node_id TEXT        NOT NULL,
		resource_type  TEXT        NOT NULL,
		resource_uuid  TEXT        NOT NULL,
		conflict_type  TEXT        NOT NULL,
		peer_node_id   TEXT        NOT NULL,
		status         TEXT        NOT NULL,
		resolution     TEXT        NOT NULL,
		detected_at    TIMESTAMPTZ NOT NULL,
		resolved_at    TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS archived_conflict_snapshots (
		snapshot_uuid TEXT PRIMARY KEY,
		conflict_uuid TEXT  NOT NULL REFERENCES archived_conflicts(conflict_uuid) ON DELETE CASCADE,
		node_id       TEXT  NOT NULL,
		state_data    JSONB NOT NULL,
		vector_clock  JSONB NOT NULL
	);
`

// PostgresConflictArchive implements ConflictArchive using PostgreSQL so a
// store owner can audit conflicts from every terminal in one place.
type PostgresConflictArchive struct {
	pool *pgxpool.Pool
}

// NewPostgresConflictArchive connects to dsn and ensures the archive tables exist.
func NewPostgresConflictArchive(ctx context.Context, dsn string, maxConns int32) (*PostgresConflictArchive, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse archive dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to archive: %w", err)
	}

	if _, err := pool.Exec(ctx, archiveSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create archive schema: %w", err)
	}

	return &PostgresConflictArchive{pool: pool}, nil
}

// ArchiveConflicts upserts conflicts and their snapshots in one transaction.
// Re-archiving a conflict refreshes its status and resolution.
func (a *PostgresConflictArchive) ArchiveConflicts(ctx context.Context, originNodeID string, conflicts []*model.SyncConflict) error {
	if len(conflicts) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		for _, c := range conflicts {
			_, err := tx.Exec(ctx, `
				INSERT INTO archived_conflicts (
					conflict_uuid, origin_node_id, resource_type, resource_uuid, conflict_type,
					peer_node_id, status, resolution, detected_at, resolved_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (conflict_uuid) DO UPDATE SET
					status = EXCLUDED.status,
					resolution = EXCLUDED.resolution,
					resolved_at = EXCLUDED.resolved_at
			`,
				c.ConflictUUID,
				originNodeID,
				string(c.ResourceType),
				c.ResourceUUID,
				c.ConflictType,
				c.PeerNodeID,
				string(c.Status),
				c.Resolution,
				c.DetectedAt,
				c.ResolvedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to archive conflict: %w", err)
			}

			for _, snap := range c.Snapshots {
				vvJSON, err := json.Marshal(snap.VectorClock)
				if err != nil {
					return fmt.Errorf("failed to encode snapshot vector: %w", err)
				}
				_, err = tx.Exec(ctx, `
					INSERT INTO archived_conflict_snapshots (snapshot_uuid, conflict_uuid, node_id, state_data, vector_clock)
					VALUES ($1, $2, $3, $4, $5)
					ON CONFLICT (snapshot_uuid) DO NOTHING
				`, snap.SnapshotUUID, c.ConflictUUID, snap.NodeID, string(snap.StateData), string(vvJSON))
				if err != nil {
					return fmt.Errorf("failed to archive conflict snapshot: %w", err)
				}
			}
		}
		return nil
	})
}

// Ping checks the archive connection
func (a *PostgresConflictArchive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// Close closes the connection pool
func (a *PostgresConflictArchive) Close() {
	a.pool.Close()
}
