package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Synaptikal/VaultSync-sub001/internal/model"
)

// InventoryStore reads and writes inventory piles.
type InventoryStore struct{}

// NewInventoryStore creates a new inventory store
func NewInventoryStore() *InventoryStore {
	return &InventoryStore{}
}

const inventoryColumns = `
	inventory_uuid, product_uuid, condition, quantity_on_hand, location_tag,
	specific_price, serialized_details, cost_basis, supplier_uuid, received_date,
	min_stock_level, max_stock_level, reorder_point, deleted_at`

// PilesFor returns the live piles for (product, condition) ordered by
// inventory_uuid ascending, the deterministic deduction order for sales.
func (s *InventoryStore) PilesFor(ctx context.Context, q DBTX, productUUID string, condition model.Condition) ([]*model.InventoryItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory
		WHERE product_uuid = ? AND condition = ? AND deleted_at IS NULL
		ORDER BY inventory_uuid ASC
	`, productUUID, string(condition))
	if err != nil {
		return nil, fmt.Errorf("failed to query piles: %w", err)
	}
	defer rows.Close()

	piles := make([]*model.InventoryItem, 0)
	for rows.Next() {
		item, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		piles = append(piles, item)
	}
	return piles, rows.Err()
}

// FindBulkPile returns the first live bulk pile for (product, condition):
// no serialized identity and no item-specific price.
func (s *InventoryStore) FindBulkPile(ctx context.Context, q DBTX, productUUID string, condition model.Condition) (*model.InventoryItem, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory
		WHERE product_uuid = ? AND condition = ?
		  AND serialized_details IS NULL
		  AND specific_price IS NULL
		  AND deleted_at IS NULL
		ORDER BY inventory_uuid ASC
		LIMIT 1
	`, productUUID, string(condition))

	item, err := scanInventory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// Get returns a pile by id, including soft-deleted piles.
func (s *InventoryStore) Get(ctx context.Context, q DBTX, inventoryUUID string) (*model.InventoryItem, error) {
	row := q.QueryRowContext(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE inventory_uuid = ?`, inventoryUUID)
	item, err := scanInventory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// SetQuantity overwrites the quantity on hand of a pile.
func (s *InventoryStore) SetQuantity(ctx context.Context, q DBTX, inventoryUUID string, quantity int64) error {
	res, err := q.ExecContext(ctx, `UPDATE inventory SET quantity_on_hand = ? WHERE inventory_uuid = ?`, quantity, inventoryUUID)
	if err != nil {
		return fmt.Errorf("failed to update pile quantity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert inserts a pile or replaces all of its columns.
func (s *InventoryStore) Upsert(ctx context.Context, q DBTX, item *model.InventoryItem) error {
	var serialized interface{}
	if len(item.SerializedDetails) > 0 && string(item.SerializedDetails) != "null" {
		serialized = string(item.SerializedDetails)
	}
	received := item.ReceivedDate
	if received.IsZero() {
		received = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO inventory (`+inventoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(inventory_uuid) DO UPDATE SET
			product_uuid = excluded.product_uuid,
			condition = excluded.condition,
			quantity_on_hand = excluded.quantity_on_hand,
			location_tag = excluded.location_tag,
			specific_price = excluded.specific_price,
			serialized_details = excluded.serialized_details,
			cost_basis = excluded.cost_basis,
			supplier_uuid = excluded.supplier_uuid,
			received_date = excluded.received_date,
			min_stock_level = excluded.min_stock_level,
			max_stock_level = excluded.max_stock_level,
			reorder_point = excluded.reorder_point,
			deleted_at = excluded.deleted_at
	`,
		item.InventoryUUID,
		item.ProductUUID,
		string(item.Condition),
		item.QuantityOnHand,
		item.LocationTag,
		item.SpecificPrice,
		serialized,
		item.CostBasis,
		item.SupplierUUID,
		received,
		item.MinStockLevel,
		item.MaxStockLevel,
		item.ReorderPoint,
		item.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pile: %w", err)
	}
	return nil
}

// Delete removes a pile row.
func (s *InventoryStore) Delete(ctx context.Context, q DBTX, inventoryUUID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM inventory WHERE inventory_uuid = ?`, inventoryUUID); err != nil {
		return fmt.Errorf("failed to delete pile: %w", err)
	}
	return nil
}

// SoftDelete marks a pile deleted, keeping the row.
func (s *InventoryStore) SoftDelete(ctx context.Context, q DBTX, inventoryUUID string, at time.Time) error {
	if _, err := q.ExecContext(ctx, `UPDATE inventory SET deleted_at = ? WHERE inventory_uuid = ?`, at, inventoryUUID); err != nil {
		return fmt.Errorf("failed to soft delete pile: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInventory(row rowScanner) (*model.InventoryItem, error) {
	var (
		item       model.InventoryItem
		condition  string
		serialized sql.NullString
		price      sql.NullFloat64
		costBasis  sql.NullFloat64
		supplier   sql.NullString
		maxStock   sql.NullInt64
		reorder    sql.NullInt64
		deletedAt  sql.NullTime
	)
	err := row.Scan(
		&item.InventoryUUID,
		&item.ProductUUID,
		&condition,
		&item.QuantityOnHand,
		&item.LocationTag,
		&price,
		&serialized,
		&costBasis,
		&supplier,
		&item.ReceivedDate,
		&item.MinStockLevel,
		&maxStock,
		&reorder,
		&deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan pile: %w", err)
	}

	item.Condition = model.Condition(condition)
	if price.Valid {
		item.SpecificPrice = &price.Float64
	}
	if serialized.Valid {
		item.SerializedDetails = json.RawMessage(serialized.String)
	}
	if costBasis.Valid {
		item.CostBasis = &costBasis.Float64
	}
	if supplier.Valid {
		item.SupplierUUID = &supplier.String
	}
	if maxStock.Valid {
		item.MaxStockLevel = &maxStock.Int64
	}
	if reorder.Valid {
		item.ReorderPoint = &reorder.Int64
	}
	if deletedAt.Valid {
		item.DeletedAt = &deletedAt.Time
	}
	return &item, nil
}
