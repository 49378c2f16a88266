package store

import (
	"context"
	"errors"
	"time"

	"github.com/Synaptikal/VaultSync-sub001/internal/model"
)

// ErrNotFound is returned when a row or key is not found
var ErrNotFound = errors.New("not found")

// ConflictArchive ships local conflict audit records to a central store.
type ConflictArchive interface {
	ArchiveConflicts(ctx context.Context, originNodeID string, conflicts []*model.SyncConflict) error
	Ping(ctx context.Context) error
	Close()
}

// PushDedupeStore remembers inbound push batches so re-deliveries are
// acknowledged without being applied again.
type PushDedupeStore interface {
	// MarkSeen records key and reports whether it was new.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
