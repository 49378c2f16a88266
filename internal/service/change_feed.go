package service

import (
	"context"

	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
)

// MaxPullLimit caps the records returned by one pull.
const MaxPullLimit = 1000

// ChangeFeed serves the local change log to pulling peers. Reads go straight
// to the store; only replication writes are serialized through the actor.
type ChangeFeed struct {
	db           TxRunner
	log          MutationLog
	defaultLimit int
}

// NewChangeFeed creates a new change feed
func NewChangeFeed(db TxRunner, log MutationLog, defaultLimit int) *ChangeFeed {
	if defaultLimit <= 0 || defaultLimit > MaxPullLimit {
		defaultLimit = 100
	}
	return &ChangeFeed{db: db, log: log, defaultLimit: defaultLimit}
}

// ChangesSince returns local records with sequence above sinceClock,
// ascending. A non-positive limit uses the default; limits above
// MaxPullLimit are clamped.
func (f *ChangeFeed) ChangesSince(ctx context.Context, sinceClock uint64, limit int) ([]model.ChangeRecord, error) {
	if limit <= 0 {
		limit = f.defaultLimit
	}
	if limit > MaxPullLimit {
		limit = MaxPullLimit
	}

	changes, err := f.log.ChangesSince(ctx, f.db.Conn(), sinceClock, limit)
	if err != nil {
		return nil, synerrors.InternalError("failed to read change log", err)
	}
	return changes, nil
}
