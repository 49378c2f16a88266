package service

import (
	"context"
	"encoding/json"
	"testing"

	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProduct(id, name, metadata string) *model.Product {
	p := &model.Product{ProductUUID: id, Name: name, Category: "TCG"}
	if metadata != "" {
		p.Metadata = json.RawMessage(metadata)
	}
	return p
}

func TestResolve_FastForwardThenIdempotent(t *testing.T) {
	a := newTestNode(t, "node-a")
	b := newTestNode(t, "node-b")
	ctx := context.Background()

	rec := a.mutate(t, "prod-1", model.RecordTypeProduct, model.OpInsert, testProduct("prod-1", "Mox Pearl", ""))

	res, err := b.resolver.ApplyRemote(ctx, &rec, "node-a")
	require.NoError(t, err)
	assert.Equal(t, ActionFastForward, res.Action)
	assert.Equal(t, model.Greater, res.Ordering)

	first, err := b.catalog.GetProduct(ctx, b.db.Conn(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "Mox Pearl", first.Name)
	assert.Equal(t, rec.VectorTimestamp, b.vector(t, "prod-1"))

	res, err = b.resolver.ApplyRemote(ctx, &rec, "node-a")
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, res.Action)
	assert.Equal(t, model.Equal, res.Ordering)

	second, err := b.catalog.GetProduct(ctx, b.db.Conn(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, rec.VectorTimestamp, b.vector(t, "prod-1"))
	assert.Equal(t, 0, b.logLength(t), "remote changes are not re-logged")
}

func TestResolve_StaleRecordIgnored(t *testing.T) {
	a := newTestNode(t, "node-a")
	b := newTestNode(t, "node-b")
	ctx := context.Background()

	older := a.mutate(t, "prod-1", model.RecordTypeProduct, model.OpInsert, testProduct("prod-1", "v1", ""))
	newer := a.mutate(t, "prod-1", model.RecordTypeProduct, model.OpUpdate, testProduct("prod-1", "v2", ""))

	_, err := b.resolver.ApplyRemote(ctx, &newer, "node-a")
	require.NoError(t, err)

	res, err := b.resolver.ApplyRemote(ctx, &older, "node-a")
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, res.Action)
	assert.Equal(t, model.Less, res.Ordering)

	p, err := b.catalog.GetProduct(ctx, b.db.Conn(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", p.Name)
}

func TestResolve_ConcurrentUpdateAuditedAndMerged(t *testing.T) {
	a := newTestNode(t, "node-a")
	b := newTestNode(t, "node-b")
	ctx := context.Background()

	remote := a.mutate(t, "event-1", model.RecordTypeEvent, model.OpInsert, map[string]string{"name": "Friday Draft"})
	localRec := b.mutate(t, "event-1", model.RecordTypeEvent, model.OpInsert, map[string]string{"name": "Friday Sealed"})

	res, err := b.resolver.ApplyRemote(ctx, &remote, "node-a")
	require.NoError(t, err)
	assert.Equal(t, model.Concurrent, res.Ordering)
	assert.Equal(t, ActionMerged, res.Action)
	require.NotEmpty(t, res.ConflictID)

	merged := b.vector(t, "event-1")
	assert.True(t, merged.Dominates(remote.VectorTimestamp))
	assert.True(t, merged.Dominates(localRec.VectorTimestamp))

	conflict, err := b.resolver.GetConflict(ctx, res.ConflictID)
	require.NoError(t, err)
	assert.Equal(t, model.ConflictTypeConcurrentMod, conflict.ConflictType)
	assert.Equal(t, model.ResolutionPending, conflict.Status)
	assert.Equal(t, "node-a", conflict.PeerNodeID)
	assert.Equal(t, string(ActionMerged), conflict.Resolution)
	require.Len(t, conflict.Snapshots, 2)
	assert.JSONEq(t, `{"name":"Friday Sealed"}`, string(conflict.Snapshots[0].StateData))
	assert.Equal(t, localRec.VectorTimestamp, conflict.Snapshots[0].VectorClock)
	assert.JSONEq(t, `{"name":"Friday Draft"}`, string(conflict.Snapshots[1].StateData))
	assert.Equal(t, remote.VectorTimestamp, conflict.Snapshots[1].VectorClock)

	doc, err := b.documents.Get(ctx, b.db.Conn(), "event-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Friday Draft"}`, string(doc))

	res, err = b.resolver.ApplyRemote(ctx, &remote, "node-a")
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, res.Action, "replay after merge is a no-op")
}

func TestResolve_ProductMetadataMerge(t *testing.T) {
	a := newTestNode(t, "node-a")
	b := newTestNode(t, "node-b")
	ctx := context.Background()

	remote := a.mutate(t, "prod-1", model.RecordTypeProduct, model.OpUpdate,
		testProduct("prod-1", "Remote Name", `{"lang":"ja","finish":"foil"}`))
	b.mutate(t, "prod-1", model.RecordTypeProduct, model.OpUpdate,
		testProduct("prod-1", "Local Name", `{"lang":"en","signed":true}`))

	res, err := b.resolver.ApplyRemote(ctx, &remote, "node-a")
	require.NoError(t, err)
	assert.Equal(t, ActionMerged, res.Action)

	p, err := b.catalog.GetProduct(ctx, b.db.Conn(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "Remote Name", p.Name)
	assert.JSONEq(t, `{"lang":"ja","finish":"foil","signed":true}`, string(p.Metadata))
}

func TestResolve_InventoryLocalDeleteWins(t *testing.T) {
	a := newTestNode(t, "node-a")
	b := newTestNode(t, "node-b")
	ctx := context.Background()

	pile := &model.InventoryItem{InventoryUUID: "pile-1", ProductUUID: "prod-1", Condition: model.ConditionNM, QuantityOnHand: 5}
	remote := a.mutate(t, "pile-1", model.RecordTypeInventoryItem, model.OpUpdate, pile)
	b.mutate(t, "pile-1", model.RecordTypeInventoryItem, model.OpInsert, pile)
	b.mutate(t, "pile-1", model.RecordTypeInventoryItem, model.OpSoftDelete, map[string]string{"inventory_uuid": "pile-1"})

	res, err := b.resolver.ApplyRemote(ctx, &remote, "node-a")
	require.NoError(t, err)
	assert.Equal(t, ActionDiscarded, res.Action)
	assert.NotEmpty(t, res.ConflictID)

	got, err := b.inventory.Get(ctx, b.db.Conn(), "pile-1")
	require.NoError(t, err)
	assert.NotNil(t, got.DeletedAt, "pile stays deleted")
	assert.True(t, b.vector(t, "pile-1").Dominates(remote.VectorTimestamp))
}

func TestResolve_InventoryRemoteDeleteWins(t *testing.T) {
	a := newTestNode(t, "node-a")
	b := newTestNode(t, "node-b")
	ctx := context.Background()

	pile := &model.InventoryItem{InventoryUUID: "pile-1", ProductUUID: "prod-1", Condition: model.ConditionNM, QuantityOnHand: 5}
	remote := a.mutate(t, "pile-1", model.RecordTypeInventoryItem, model.OpDelete, map[string]string{"inventory_uuid": "pile-1"})
	b.mutate(t, "pile-1", model.RecordTypeInventoryItem, model.OpUpdate, pile)

	res, err := b.resolver.ApplyRemote(ctx, &remote, "node-a")
	require.NoError(t, err)
	assert.Equal(t, ActionMerged, res.Action)

	_, err = b.inventory.Get(ctx, b.db.Conn(), "pile-1")
	assert.Error(t, err)
}

func TestResolve_UndecodablePayloadRollsBack(t *testing.T) {
	b := newTestNode(t, "node-b")
	ctx := context.Background()

	rec := &model.ChangeRecord{
		RecordID:        "prod-1",
		RecordType:      model.RecordTypeProduct,
		Operation:       model.OpInsert,
		Data:            json.RawMessage(`{"name": 42}`),
		VectorTimestamp: model.VersionVector{"node-a": 1},
	}

	_, err := b.resolver.ApplyRemote(ctx, rec, "node-a")
	require.Error(t, err)
	assert.True(t, synerrors.Is(err, synerrors.ErrCodeSerialization))

	_, found, err := b.replicated.GetVector(ctx, b.db.Conn(), "prod-1")
	require.NoError(t, err)
	assert.False(t, found, "vector update rolled back with the failed write")
}

func TestResolveConflict(t *testing.T) {
	a := newTestNode(t, "node-a")
	b := newTestNode(t, "node-b")
	ctx := context.Background()

	remote := a.mutate(t, "list-1", model.RecordTypeWantsList, model.OpInsert, map[string]int{"v": 1})
	b.mutate(t, "list-1", model.RecordTypeWantsList, model.OpInsert, map[string]int{"v": 2})
	res, err := b.resolver.ApplyRemote(ctx, &remote, "node-a")
	require.NoError(t, err)

	pending, err := b.resolver.ListConflicts(ctx, model.ResolutionPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, b.resolver.ResolveConflict(ctx, res.ConflictID, model.ResolutionResolved))

	pending, err = b.resolver.ListConflicts(ctx, model.ResolutionPending, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = b.resolver.ResolveConflict(ctx, res.ConflictID, model.ResolutionPending)
	assert.True(t, synerrors.Is(err, synerrors.ErrCodeInvalidArgument))

	err = b.resolver.ResolveConflict(ctx, "missing", model.ResolutionIgnored)
	assert.True(t, synerrors.Is(err, synerrors.ErrCodeNotFound))

	_, err = b.resolver.ListConflicts(ctx, "Bogus", 0)
	assert.True(t, synerrors.Is(err, synerrors.ErrCodeInvalidArgument))
}
