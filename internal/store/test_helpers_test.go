package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Synaptikal/VaultSync-sub001/internal/model"
)

// createTestDB creates a new file-backed database for testing.
func createTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestPile creates a bulk pile with the given quantity.
func createTestPile(id, product string, condition model.Condition, qty int64) *model.InventoryItem {
	return &model.InventoryItem{
		InventoryUUID:  id,
		ProductUUID:    product,
		Condition:      condition,
		QuantityOnHand: qty,
		LocationTag:    "Front Case",
		ReceivedDate:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}
