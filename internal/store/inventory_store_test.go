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

func TestInventoryStore_UpsertAndGet(t *testing.T) {
	db := createTestDB(t)
	s := NewInventoryStore()
	ctx := context.Background()

	price := 12.5
	pile := createTestPile("pile-1", "prod-1", model.ConditionNM, 3)
	pile.SpecificPrice = &price
	require.NoError(t, s.Upsert(ctx, db.Conn(), pile))

	got, err := s.Get(ctx, db.Conn(), "pile-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.QuantityOnHand)
	assert.Equal(t, model.ConditionNM, got.Condition)
	require.NotNil(t, got.SpecificPrice)
	assert.Equal(t, 12.5, *got.SpecificPrice)
	assert.False(t, got.IsBulk())

	_, err = s.Get(ctx, db.Conn(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInventoryStore_PilesForOrderedAndLive(t *testing.T) {
	db := createTestDB(t)
	s := NewInventoryStore()
	ctx := context.Background()

	for _, id := range []string{"pile-c", "pile-a", "pile-b"} {
		require.NoError(t, s.Upsert(ctx, db.Conn(), createTestPile(id, "prod-1", model.ConditionLP, 1)))
	}
	require.NoError(t, s.Upsert(ctx, db.Conn(), createTestPile("pile-x", "prod-1", model.ConditionNM, 1)))
	require.NoError(t, s.SoftDelete(ctx, db.Conn(), "pile-b", time.Now().UTC()))

	piles, err := s.PilesFor(ctx, db.Conn(), "prod-1", model.ConditionLP)
	require.NoError(t, err)
	require.Len(t, piles, 2)
	assert.Equal(t, "pile-a", piles[0].InventoryUUID)
	assert.Equal(t, "pile-c", piles[1].InventoryUUID)
}

func TestInventoryStore_FindBulkPileSkipsSerialized(t *testing.T) {
	db := createTestDB(t)
	s := NewInventoryStore()
	ctx := context.Background()

	_, err := s.FindBulkPile(ctx, db.Conn(), "prod-1", model.ConditionNM)
	assert.ErrorIs(t, err, ErrNotFound)

	graded := createTestPile("pile-a", "prod-1", model.ConditionNM, 1)
	graded.SerializedDetails = json.RawMessage(`{"cert":"PSA-1"}`)
	require.NoError(t, s.Upsert(ctx, db.Conn(), graded))
	require.NoError(t, s.Upsert(ctx, db.Conn(), createTestPile("pile-b", "prod-1", model.ConditionNM, 4)))

	bulk, err := s.FindBulkPile(ctx, db.Conn(), "prod-1", model.ConditionNM)
	require.NoError(t, err)
	assert.Equal(t, "pile-b", bulk.InventoryUUID)
	assert.True(t, bulk.IsBulk())
}

func TestInventoryStore_SetQuantity(t *testing.T) {
	db := createTestDB(t)
	s := NewInventoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, db.Conn(), createTestPile("pile-1", "prod-1", model.ConditionNM, 5)))
	require.NoError(t, s.SetQuantity(ctx, db.Conn(), "pile-1", 0))

	got, err := s.Get(ctx, db.Conn(), "pile-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.QuantityOnHand, "pile is kept at zero")

	assert.Error(t, s.SetQuantity(ctx, db.Conn(), "pile-1", -1), "negative quantity violates the check constraint")
	assert.ErrorIs(t, s.SetQuantity(ctx, db.Conn(), "missing", 1), ErrNotFound)
}

func TestInventoryStore_Delete(t *testing.T) {
	db := createTestDB(t)
	s := NewInventoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, db.Conn(), createTestPile("pile-1", "prod-1", model.ConditionNM, 5)))
	require.NoError(t, s.Delete(ctx, db.Conn(), "pile-1"))

	_, err := s.Get(ctx, db.Conn(), "pile-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
