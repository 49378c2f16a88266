package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestConflict(id string, detectedAt time.Time) *model.SyncConflict {
	return &model.SyncConflict{
		ConflictUUID: id,
		ResourceType: model.RecordTypeProduct,
		ResourceUUID: "prod-1",
		ConflictType: model.ConflictTypeConcurrentMod,
		PeerNodeID:   "node-b",
		Status:       model.ResolutionPending,
		DetectedAt:   detectedAt,
		Snapshots: []model.ConflictSnapshot{
			{SnapshotUUID: id + "-local", NodeID: "node-a", StateData: json.RawMessage(`{"name":"local"}`), VectorClock: model.VersionVector{"node-a": 2}},
			{SnapshotUUID: id + "-remote", NodeID: "node-b", StateData: json.RawMessage(`{"name":"remote"}`), VectorClock: model.VersionVector{"node-b": 1}},
		},
	}
}

func TestConflictStore_RecordAndGet(t *testing.T) {
	db := createTestDB(t)
	s := NewConflictStore()
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, db.Conn(), createTestConflict("c-1", time.Now().UTC())))

	got, err := s.Get(ctx, db.Conn(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, model.ResolutionPending, got.Status)
	require.Len(t, got.Snapshots, 2)
	assert.Equal(t, "node-a", got.Snapshots[0].NodeID)
	assert.JSONEq(t, `{"name":"remote"}`, string(got.Snapshots[1].StateData))
	assert.Equal(t, model.VersionVector{"node-b": 1}, got.Snapshots[1].VectorClock)

	_, err = s.Get(ctx, db.Conn(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConflictStore_EmptyStateStoredAsNull(t *testing.T) {
	db := createTestDB(t)
	s := NewConflictStore()
	ctx := context.Background()

	c := createTestConflict("c-1", time.Now().UTC())
	c.Snapshots[0].StateData = nil
	require.NoError(t, s.Record(ctx, db.Conn(), c))

	got, err := s.Get(ctx, db.Conn(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "null", string(got.Snapshots[0].StateData))
}

func TestConflictStore_StatusAndList(t *testing.T) {
	db := createTestDB(t)
	s := NewConflictStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, db.Conn(), createTestConflict("c-1", base)))
	require.NoError(t, s.Record(ctx, db.Conn(), createTestConflict("c-2", base.Add(time.Minute))))
	require.NoError(t, s.UpdateStatus(ctx, db.Conn(), "c-1", model.ResolutionResolved, base.Add(time.Hour)))
	assert.ErrorIs(t, s.UpdateStatus(ctx, db.Conn(), "missing", model.ResolutionResolved, base), ErrNotFound)

	all, err := s.List(ctx, db.Conn(), "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c-2", all[0].ConflictUUID, "newest first")

	pending, err := s.List(ctx, db.Conn(), model.ResolutionPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c-2", pending[0].ConflictUUID)

	n, err := s.Count(ctx, db.Conn(), model.ResolutionResolved)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	resolved, err := s.Get(ctx, db.Conn(), "c-1")
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)
}

func TestConflictStore_Archiving(t *testing.T) {
	db := createTestDB(t)
	s := NewConflictStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, db.Conn(), createTestConflict("c-1", base)))
	require.NoError(t, s.Record(ctx, db.Conn(), createTestConflict("c-2", base.Add(time.Minute))))

	batch, err := s.ListUnarchived(ctx, db.Conn(), 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "c-1", batch[0].ConflictUUID, "oldest first")
	assert.Len(t, batch[0].Snapshots, 2)

	require.NoError(t, s.MarkArchived(ctx, db.Conn(), []string{"c-1"}))

	batch, err = s.ListUnarchived(ctx, db.Conn(), 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "c-2", batch[0].ConflictUUID)
}
