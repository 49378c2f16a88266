package service

import (
	"context"
	"testing"

	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessSale_DeductsAndLogs(t *testing.T) {
	n := newTestNode(t, "node-a")
	n.seedPile(t, "pile-1", "prod-1", model.ConditionNM, 5)

	tx, err := n.txService.ProcessSale(context.Background(), TransactionRequest{
		Items: []LineItem{{ProductUUID: "prod-1", Condition: model.ConditionNM, Quantity: 2, UnitPrice: 10}},
	})
	require.NoError(t, err)

	assert.Equal(t, model.TransactionSale, tx.TransactionType)
	assert.Equal(t, int64(3), n.pileQty(t, "pile-1"))

	changes := n.changes(t)
	require.Len(t, changes, 2)
	assert.Equal(t, model.RecordTypeInventoryItem, changes[0].RecordType)
	assert.Equal(t, model.OpUpdate, changes[0].Operation)
	assert.Equal(t, "pile-1", changes[0].RecordID)
	assert.Equal(t, model.RecordTypeTransaction, changes[1].RecordType)
	assert.Equal(t, model.OpInsert, changes[1].Operation)
	assert.Equal(t, tx.TransactionUUID, changes[1].RecordID)
}

func TestProcessSale_InsufficientInventoryLeavesNoTrace(t *testing.T) {
	n := newTestNode(t, "node-a")
	n.seedPile(t, "pile-1", "prod-1", model.ConditionNM, 4)
	n.seedPile(t, "pile-2", "prod-1", model.ConditionNM, 3)

	_, err := n.txService.ProcessSale(context.Background(), TransactionRequest{
		Items: []LineItem{{ProductUUID: "prod-1", Condition: model.ConditionNM, Quantity: 10, UnitPrice: 1}},
	})
	require.Error(t, err)
	assert.True(t, synerrors.Is(err, synerrors.ErrCodeInsufficientInventory))

	var syncErr *synerrors.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, int64(10), syncErr.Details["requested"])
	assert.Equal(t, int64(7), syncErr.Details["available"])

	assert.Equal(t, 0, n.logLength(t))
	assert.Equal(t, int64(4), n.pileQty(t, "pile-1"))
	assert.Equal(t, int64(3), n.pileQty(t, "pile-2"))
}

func TestProcessSale_ValidatesAllLinesBeforeWriting(t *testing.T) {
	n := newTestNode(t, "node-a")
	n.seedPile(t, "pile-1", "prod-1", model.ConditionNM, 5)
	n.seedPile(t, "pile-2", "prod-2", model.ConditionNM, 1)

	_, err := n.txService.ProcessSale(context.Background(), TransactionRequest{
		Items: []LineItem{
			{ProductUUID: "prod-1", Condition: model.ConditionNM, Quantity: 2},
			{ProductUUID: "prod-2", Condition: model.ConditionNM, Quantity: 2},
		},
	})
	assert.True(t, synerrors.Is(err, synerrors.ErrCodeInsufficientInventory))
	assert.Equal(t, int64(5), n.pileQty(t, "pile-1"))
	assert.Equal(t, 0, n.logLength(t))
}

func TestProcessSale_DrainsPilesInOrder(t *testing.T) {
	n := newTestNode(t, "node-a")
	n.seedPile(t, "pile-b", "prod-1", model.ConditionLP, 4)
	n.seedPile(t, "pile-a", "prod-1", model.ConditionLP, 2)

	_, err := n.txService.ProcessSale(context.Background(), TransactionRequest{
		Items: []LineItem{{ProductUUID: "prod-1", Condition: model.ConditionLP, Quantity: 3, UnitPrice: 5}},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), n.pileQty(t, "pile-a"), "drained pile is kept at zero")
	assert.Equal(t, int64(3), n.pileQty(t, "pile-b"))
	assert.Equal(t, 3, n.logLength(t))
}

func TestProcessSale_RejectsEmptyAndInvalid(t *testing.T) {
	n := newTestNode(t, "node-a")
	ctx := context.Background()

	_, err := n.txService.ProcessSale(ctx, TransactionRequest{})
	assert.True(t, synerrors.Is(err, synerrors.ErrCodeEmptyTransaction))

	_, err = n.txService.ProcessSale(ctx, TransactionRequest{
		Items: []LineItem{{ProductUUID: "prod-1", Condition: model.ConditionNM, Quantity: 0}},
	})
	assert.True(t, synerrors.Is(err, synerrors.ErrCodeInvalidArgument))

	_, err = n.txService.ProcessSale(ctx, TransactionRequest{
		Items: []LineItem{{ProductUUID: "prod-1", Condition: "Pristine", Quantity: 1}},
	})
	assert.True(t, synerrors.Is(err, synerrors.ErrCodeInvalidArgument))
}

func TestProcessBuy_AggregatesIntoBulkPile(t *testing.T) {
	n := newTestNode(t, "node-a")
	ctx := context.Background()
	req := TransactionRequest{
		Items: []LineItem{{ProductUUID: "prod-1", Condition: model.ConditionNM, Quantity: 2, UnitPrice: 3}},
	}

	_, err := n.txService.ProcessBuy(ctx, req)
	require.NoError(t, err)
	_, err = n.txService.ProcessBuy(ctx, req)
	require.NoError(t, err)

	piles, err := n.inventory.PilesFor(ctx, n.db.Conn(), "prod-1", model.ConditionNM)
	require.NoError(t, err)
	require.Len(t, piles, 1)
	assert.Equal(t, int64(4), piles[0].QuantityOnHand)
	assert.Equal(t, model.DefaultIntakeLocation, piles[0].LocationTag)

	changes := n.changes(t)
	require.Len(t, changes, 4)
	assert.Equal(t, model.OpInsert, changes[0].Operation)
	assert.Equal(t, model.OpUpdate, changes[2].Operation)
	assert.Equal(t, changes[0].RecordID, changes[2].RecordID)
}

func TestProcessBuy_SkipsSerializedPile(t *testing.T) {
	n := newTestNode(t, "node-a")
	ctx := context.Background()
	price := 99.0
	require.NoError(t, n.inventory.Upsert(ctx, n.db.Conn(), &model.InventoryItem{
		InventoryUUID:  "graded",
		ProductUUID:    "prod-1",
		Condition:      model.ConditionNM,
		QuantityOnHand: 1,
		SpecificPrice:  &price,
	}))

	_, err := n.txService.ProcessBuy(ctx, TransactionRequest{
		Items: []LineItem{{ProductUUID: "prod-1", Condition: model.ConditionNM, Quantity: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), n.pileQty(t, "graded"))
	piles, err := n.inventory.PilesFor(ctx, n.db.Conn(), "prod-1", model.ConditionNM)
	require.NoError(t, err)
	assert.Len(t, piles, 2)
}

func TestProcessReturn_Restocks(t *testing.T) {
	n := newTestNode(t, "node-a")
	n.seedPile(t, "pile-1", "prod-1", model.ConditionNM, 1)

	tx, err := n.txService.ProcessReturn(context.Background(), TransactionRequest{
		Items: []LineItem{{ProductUUID: "prod-1", Condition: model.ConditionNM, Quantity: 2, UnitPrice: 4}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionReturn, tx.TransactionType)
	assert.Equal(t, int64(3), n.pileQty(t, "pile-1"))
}

func TestProcessTrade_IsAtomic(t *testing.T) {
	n := newTestNode(t, "node-a")
	n.seedPile(t, "pile-1", "prod-sell", model.ConditionNM, 1)

	_, err := n.txService.ProcessTrade(context.Background(), TradeRequest{
		TradeIn: []LineItem{{ProductUUID: "prod-in", Condition: model.ConditionLP, Quantity: 3, UnitPrice: 2}},
		Sale:    []LineItem{{ProductUUID: "prod-sell", Condition: model.ConditionNM, Quantity: 5, UnitPrice: 1}},
	})
	require.Error(t, err)
	assert.True(t, synerrors.Is(err, synerrors.ErrCodeInsufficientInventory))

	assert.Equal(t, 0, n.logLength(t))
	piles, err := n.inventory.PilesFor(context.Background(), n.db.Conn(), "prod-in", model.ConditionLP)
	require.NoError(t, err)
	assert.Empty(t, piles, "buy leg rolled back")
	count, err := n.transactions.Count(context.Background(), n.db.Conn())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestProcessTrade_CreditsCustomer(t *testing.T) {
	n := newTestNode(t, "node-a")
	ctx := context.Background()
	n.seedPile(t, "pile-1", "prod-sell", model.ConditionNM, 2)
	require.NoError(t, n.catalog.UpsertCustomer(ctx, n.db.Conn(), &model.Customer{
		CustomerUUID: "cust-1",
		Name:         "Ada",
		StoreCredit:  1,
	}))

	result, err := n.txService.ProcessTrade(ctx, TradeRequest{
		CustomerUUID: strPtr("cust-1"),
		TradeIn:      []LineItem{{ProductUUID: "prod-in", Condition: model.ConditionLP, Quantity: 2, UnitPrice: 10}},
		Sale:         []LineItem{{ProductUUID: "prod-sell", Condition: model.ConditionNM, Quantity: 1, UnitPrice: 15}},
	})
	require.NoError(t, err)

	assert.Equal(t, model.TransactionTrade, result.TradeIn.TransactionType)
	assert.Equal(t, model.TransactionTrade, result.Sale.TransactionType)
	assert.Equal(t, 5.0, result.CreditIssued)

	c, err := n.catalog.GetCustomer(ctx, n.db.Conn(), "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 6.0, c.StoreCredit)

	changes := n.changes(t)
	last := changes[len(changes)-1]
	assert.Equal(t, model.RecordTypeCustomer, last.RecordType)
	assert.Equal(t, model.OpUpdate, last.Operation)
}

func TestProcessTrade_UnknownCustomerRollsBack(t *testing.T) {
	n := newTestNode(t, "node-a")
	n.seedPile(t, "pile-1", "prod-sell", model.ConditionNM, 2)

	_, err := n.txService.ProcessTrade(context.Background(), TradeRequest{
		CustomerUUID: strPtr("ghost"),
		TradeIn:      []LineItem{{ProductUUID: "prod-in", Condition: model.ConditionLP, Quantity: 1, UnitPrice: 50}},
		Sale:         []LineItem{{ProductUUID: "prod-sell", Condition: model.ConditionNM, Quantity: 1, UnitPrice: 1}},
	})
	assert.True(t, synerrors.Is(err, synerrors.ErrCodeNotFound))
	assert.Equal(t, 0, n.logLength(t))
	assert.Equal(t, int64(2), n.pileQty(t, "pile-1"))
}
