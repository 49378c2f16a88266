package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Synaptikal/VaultSync-sub001/internal/model"
)

// PeerCursorStore persists per-peer replication progress so a restart does
// not re-push or re-pull the whole log.
type PeerCursorStore struct{}

// NewPeerCursorStore creates a new peer cursor store
func NewPeerCursorStore() *PeerCursorStore {
	return &PeerCursorStore{}
}

// Get returns the cursor for peerKey; a zero cursor if the peer is new.
func (s *PeerCursorStore) Get(ctx context.Context, q DBTX, peerKey string) (*model.PeerCursor, error) {
	var (
		c         = model.PeerCursor{PeerKey: peerKey}
		ackedPush int64
		pulled    int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT acked_push, pulled, updated_at FROM peer_cursors WHERE peer_key = ?
	`, peerKey).Scan(&ackedPush, &pulled, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get peer cursor: %w", err)
	}
	c.AckedPush = uint64(ackedPush)
	c.Pulled = uint64(pulled)
	return &c, nil
}

// AdvanceAckedPush raises the acknowledged push cursor; it never moves back.
func (s *PeerCursorStore) AdvanceAckedPush(ctx context.Context, q DBTX, peerKey string, seq uint64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO peer_cursors (peer_key, acked_push, pulled, updated_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(peer_key) DO UPDATE SET
			acked_push = MAX(acked_push, excluded.acked_push),
			updated_at = excluded.updated_at
	`, peerKey, int64(seq), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to advance push cursor: %w", err)
	}
	return nil
}

// AdvancePulled raises the pull cursor; it never moves back.
func (s *PeerCursorStore) AdvancePulled(ctx context.Context, q DBTX, peerKey string, seq uint64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO peer_cursors (peer_key, acked_push, pulled, updated_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT(peer_key) DO UPDATE SET
			pulled = MAX(pulled, excluded.pulled),
			updated_at = excluded.updated_at
	`, peerKey, int64(seq), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to advance pull cursor: %w", err)
	}
	return nil
}

// MinAckedPush returns the lowest acknowledged push cursor among peerKeys.
// Peers without a cursor count as 0.
func (s *PeerCursorStore) MinAckedPush(ctx context.Context, q DBTX, peerKeys []string) (uint64, error) {
	var lowest uint64
	for i, key := range peerKeys {
		c, err := s.Get(ctx, q, key)
		if err != nil {
			return 0, err
		}
		if i == 0 || c.AckedPush < lowest {
			lowest = c.AckedPush
		}
	}
	return lowest, nil
}
