package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/Synaptikal/VaultSync-sub001/internal/metrics"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/Synaptikal/VaultSync-sub001/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testNode wires one node's local stores on a temporary database.
type testNode struct {
	db           *store.DB
	replicated   *store.ReplicatedStore
	inventory    *store.InventoryStore
	catalog      *store.CatalogStore
	transactions *store.TransactionStore
	documents    *store.DocumentStore
	conflicts    *store.ConflictStore
	cursors      *store.PeerCursorStore
	txService    *TransactionService
	applier      *EntityApplier
	resolver     *ConflictResolver
}

func newTestNode(t *testing.T, nodeID string) *testNode {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), nodeID+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	n := &testNode{
		db:           db,
		replicated:   store.NewReplicatedStore(nodeID),
		inventory:    store.NewInventoryStore(),
		catalog:      store.NewCatalogStore(),
		transactions: store.NewTransactionStore(),
		documents:    store.NewDocumentStore(),
		conflicts:    store.NewConflictStore(),
		cursors:      store.NewPeerCursorStore(),
	}
	m := metrics.NewMetrics()
	logger := zap.NewNop()

	n.txService = NewTransactionService(db, n.replicated, n.inventory, n.transactions, n.catalog, m, logger)
	n.applier = NewEntityApplier(n.catalog, n.inventory, n.transactions, n.documents)
	n.resolver = NewConflictResolver(db, n.replicated, n.applier, n.conflicts, m, logger)
	return n
}

// seedPile writes a pile directly, bypassing the change log.
func (n *testNode) seedPile(t *testing.T, id, product string, condition model.Condition, qty int64) {
	t.Helper()
	require.NoError(t, n.inventory.Upsert(context.Background(), n.db.Conn(), &model.InventoryItem{
		InventoryUUID:  id,
		ProductUUID:    product,
		Condition:      condition,
		QuantityOnHand: qty,
		ReceivedDate:   time.Now().UTC(),
	}))
}

func (n *testNode) pileQty(t *testing.T, id string) int64 {
	t.Helper()
	pile, err := n.inventory.Get(context.Background(), n.db.Conn(), id)
	require.NoError(t, err)
	return pile.QuantityOnHand
}

func (n *testNode) logLength(t *testing.T) int {
	t.Helper()
	count, err := n.replicated.LogLength(context.Background(), n.db.Conn())
	require.NoError(t, err)
	return count
}

func (n *testNode) changes(t *testing.T) []model.ChangeRecord {
	t.Helper()
	changes, err := n.replicated.ChangesSince(context.Background(), n.db.Conn(), 0, 1000)
	require.NoError(t, err)
	return changes
}

// mutate performs a local mutation the way the node's own services do: the
// domain write and the change log entry in one transaction.
func (n *testNode) mutate(t *testing.T, recordID string, recordType model.RecordType, op model.SyncOperation, data interface{}) model.ChangeRecord {
	t.Helper()
	ctx := context.Background()
	var rec *model.ChangeRecord
	require.NoError(t, n.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		if rec, err = n.replicated.RecordMutation(ctx, tx, recordID, recordType, op, data); err != nil {
			return err
		}
		return n.applier.Apply(ctx, tx, rec)
	}))
	return *rec
}

func (n *testNode) vector(t *testing.T, recordID string) model.VersionVector {
	t.Helper()
	vv, _, err := n.replicated.GetVector(context.Background(), n.db.Conn(), recordID)
	require.NoError(t, err)
	return vv
}

func strPtr(s string) *string {
	return &s
}
