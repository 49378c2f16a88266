package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/metrics"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/Synaptikal/VaultSync-sub001/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResolutionAction is what the resolver did with an incoming record
type ResolutionAction string

const (
	ActionIgnored     ResolutionAction = "Ignored"
	ActionFastForward ResolutionAction = "FastForward"
	ActionMerged      ResolutionAction = "Merged"
	ActionDiscarded   ResolutionAction = "Discarded"
)

// Resolution reports the outcome of applying one remote record.
type Resolution struct {
	Action     ResolutionAction `json:"action"`
	Ordering   model.Ordering   `json:"ordering"`
	ConflictID string           `json:"conflict_id,omitempty"`
}

// ConflictResolver applies remote change records against local state using
// version vector ordering, auditing every concurrent modification.
type ConflictResolver struct {
	db        TxRunner
	log       MutationLog
	applier   *EntityApplier
	conflicts ConflictRecorder
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewConflictResolver creates a new conflict resolver
func NewConflictResolver(
	db TxRunner,
	log MutationLog,
	applier *EntityApplier,
	conflicts ConflictRecorder,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ConflictResolver {
	return &ConflictResolver{
		db:        db,
		log:       log,
		applier:   applier,
		conflicts: conflicts,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ApplyRemote resolves rec in its own local transaction: the domain write and
// the vector update commit together.
func (r *ConflictResolver) ApplyRemote(ctx context.Context, rec *model.ChangeRecord, peerID string) (*Resolution, error) {
	var res *Resolution
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		res, err = r.Resolve(ctx, tx, rec, peerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.metrics.RecordApplied(string(res.Action))
	return res, nil
}

// Resolve decides and applies the outcome for rec inside tx.
//
//   - Less or Equal: the record is stale or already applied and is ignored,
//     so replaying a record is a no-op.
//   - Greater: the remote state replaces the local one and the local vector
//     becomes the remote vector.
//   - Concurrent: an audit conflict is recorded, the per-type policy decides
//     the data, and the local vector becomes the merge of both.
//
// Remote records are not re-appended to the local change log.
func (r *ConflictResolver) Resolve(ctx context.Context, tx store.DBTX, rec *model.ChangeRecord, peerID string) (*Resolution, error) {
	local, _, err := r.log.GetVector(ctx, tx, rec.RecordID)
	if err != nil {
		return nil, err
	}

	ordering := rec.VectorTimestamp.Compare(local)
	switch ordering {
	case model.Less, model.Equal:
		r.logger.Debug("Ignoring stale or duplicate change",
			zap.String("record_id", rec.RecordID),
			zap.String("ordering", ordering.String()))
		return &Resolution{Action: ActionIgnored, Ordering: ordering}, nil

	case model.Greater:
		if err := r.applier.Apply(ctx, tx, rec); err != nil {
			return nil, err
		}
		if err := r.log.SetVector(ctx, tx, rec.RecordID, rec.VectorTimestamp.Copy()); err != nil {
			return nil, err
		}
		return &Resolution{Action: ActionFastForward, Ordering: ordering}, nil
	}

	return r.resolveConcurrent(ctx, tx, rec, local, peerID)
}

func (r *ConflictResolver) resolveConcurrent(ctx context.Context, tx store.DBTX, rec *model.ChangeRecord, local model.VersionVector, peerID string) (*Resolution, error) {
	r.logger.Warn("Concurrent modification detected",
		zap.String("record_id", rec.RecordID),
		zap.String("record_type", string(rec.RecordType)),
		zap.String("peer", peerID))
	r.metrics.RecordConflict(string(rec.RecordType))

	localState, err := r.applier.CurrentState(ctx, tx, rec.RecordType, rec.RecordID)
	if err != nil {
		return nil, err
	}

	conflict := &model.SyncConflict{
		ConflictUUID: uuid.NewString(),
		ResourceType: rec.RecordType,
		ResourceUUID: rec.RecordID,
		ConflictType: model.ConflictTypeConcurrentMod,
		PeerNodeID:   peerID,
		Status:       model.ResolutionPending,
		DetectedAt:   r.now(),
		Snapshots: []model.ConflictSnapshot{
			{
				SnapshotUUID: uuid.NewString(),
				NodeID:       r.log.NodeID(),
				StateData:    localState,
				VectorClock:  local.Copy(),
			},
			{
				SnapshotUUID: uuid.NewString(),
				NodeID:       rec.NodeID,
				StateData:    rec.Data,
				VectorClock:  rec.VectorTimestamp.Copy(),
			},
		},
	}
	if err := r.conflicts.Record(ctx, tx, conflict); err != nil {
		return nil, err
	}

	action, err := r.applyPolicy(ctx, tx, rec, localState)
	if err != nil {
		return nil, err
	}

	if err := r.conflicts.SetResolution(ctx, tx, conflict.ConflictUUID, string(action)); err != nil {
		return nil, err
	}
	if err := r.log.SetVector(ctx, tx, rec.RecordID, local.Merged(rec.VectorTimestamp)); err != nil {
		return nil, err
	}

	return &Resolution{Action: action, Ordering: model.Concurrent, ConflictID: conflict.ConflictUUID}, nil
}

// applyPolicy settles the data of a concurrent modification.
func (r *ConflictResolver) applyPolicy(ctx context.Context, tx store.DBTX, rec *model.ChangeRecord, localState json.RawMessage) (ResolutionAction, error) {
	switch rec.RecordType {
	case model.RecordTypeProduct:
		if rec.Operation.IsDelete() || localState == nil {
			return ActionMerged, r.applier.Apply(ctx, tx, rec)
		}
		merged, err := mergeProductMetadata(localState, rec.Data)
		if err != nil {
			return "", err
		}
		resolved := *rec
		resolved.Data = merged
		return ActionMerged, r.applier.Apply(ctx, tx, &resolved)

	case model.RecordTypeInventoryItem:
		if rec.Operation == model.OpDelete {
			return ActionMerged, r.applier.Apply(ctx, tx, rec)
		}
		lastOp, found, err := r.log.LastOperation(ctx, tx, rec.RecordID)
		if err != nil {
			return "", err
		}
		if found && lastOp.IsDelete() {
			r.logger.Info("Local delete wins over concurrent update",
				zap.String("record_id", rec.RecordID))
			return ActionDiscarded, nil
		}
		// The arriving record overwrites the whole pile, so a concurrent
		// local quantity change is lost. The audit conflict keeps both sides.
		return ActionMerged, r.applier.Apply(ctx, tx, rec)

	default:
		return ActionMerged, r.applier.Apply(ctx, tx, rec)
	}
}

// mergeProductMetadata takes the remote product and fills metadata keys the
// remote side lacks from the local product.
func mergeProductMetadata(localState, remoteData json.RawMessage) (json.RawMessage, error) {
	var local, remote model.Product
	if err := json.Unmarshal(localState, &local); err != nil {
		return nil, synerrors.Serialization("failed to decode local product", err)
	}
	if err := json.Unmarshal(remoteData, &remote); err != nil {
		return nil, synerrors.Serialization("failed to decode remote product", err)
	}

	remoteMeta := map[string]json.RawMessage{}
	remoteIsObject := len(remote.Metadata) > 0 && json.Unmarshal(remote.Metadata, &remoteMeta) == nil

	switch {
	case remoteIsObject:
		localMeta := map[string]json.RawMessage{}
		if len(local.Metadata) > 0 && json.Unmarshal(local.Metadata, &localMeta) == nil {
			for k, v := range localMeta {
				if _, ok := remoteMeta[k]; !ok {
					remoteMeta[k] = v
				}
			}
		}
		b, err := json.Marshal(remoteMeta)
		if err != nil {
			return nil, fmt.Errorf("failed to encode merged metadata: %w", err)
		}
		remote.Metadata = b
	case len(remote.Metadata) == 0 || string(remote.Metadata) == "null":
		remote.Metadata = local.Metadata
	}

	return json.Marshal(remote)
}

// ListConflicts returns audited conflicts, newest first. An empty status
// lists all.
func (r *ConflictResolver) ListConflicts(ctx context.Context, status model.ResolutionStatus, limit int) ([]*model.SyncConflict, error) {
	if status != "" && status != model.ResolutionPending && status != model.ResolutionResolved && status != model.ResolutionIgnored {
		return nil, synerrors.InvalidArgument(fmt.Sprintf("unknown conflict status %q", status), nil)
	}
	if limit <= 0 {
		limit = 100
	}
	return r.conflicts.List(ctx, r.db.Conn(), status, limit)
}

// GetConflict returns one conflict with both snapshots.
func (r *ConflictResolver) GetConflict(ctx context.Context, conflictUUID string) (*model.SyncConflict, error) {
	c, err := r.conflicts.Get(ctx, r.db.Conn(), conflictUUID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, synerrors.NotFound("conflict", conflictUUID)
	}
	return c, err
}

// ResolveConflict closes the audit entry of a conflict as Resolved or
// Ignored. The data was already settled when the conflict was detected.
func (r *ConflictResolver) ResolveConflict(ctx context.Context, conflictUUID string, status model.ResolutionStatus) error {
	if status != model.ResolutionResolved && status != model.ResolutionIgnored {
		return synerrors.InvalidArgument("status must be Resolved or Ignored", nil)
	}

	err := r.conflicts.UpdateStatus(ctx, r.db.Conn(), conflictUUID, status, r.now())
	if errors.Is(err, store.ErrNotFound) {
		return synerrors.NotFound("conflict", conflictUUID)
	}
	if err != nil {
		return err
	}

	r.logger.Info("Conflict closed",
		zap.String("conflict_uuid", conflictUUID),
		zap.String("status", string(status)))
	return nil
}
