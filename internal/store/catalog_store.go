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

// CatalogStore reads and writes products and customers.
type CatalogStore struct{}

// NewCatalogStore creates a new catalog store
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{}
}

// GetProduct returns a product by id, including soft-deleted products.
func (s *CatalogStore) GetProduct(ctx context.Context, q DBTX, productUUID string) (*model.Product, error) {
	var (
		p               model.Product
		setCode         sql.NullString
		collectorNumber sql.NullString
		barcode         sql.NullString
		releaseYear     sql.NullInt64
		metadata        sql.NullString
		deletedAt       sql.NullTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT product_uuid, name, category, set_code, collector_number, barcode,
		       release_year, metadata, created_at, deleted_at
		FROM products WHERE product_uuid = ?
	`, productUUID).Scan(
		&p.ProductUUID, &p.Name, &p.Category, &setCode, &collectorNumber, &barcode,
		&releaseYear, &metadata, &p.CreatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	if setCode.Valid {
		p.SetCode = &setCode.String
	}
	if collectorNumber.Valid {
		p.CollectorNumber = &collectorNumber.String
	}
	if barcode.Valid {
		p.Barcode = &barcode.String
	}
	if releaseYear.Valid {
		year := int(releaseYear.Int64)
		p.ReleaseYear = &year
	}
	if metadata.Valid {
		p.Metadata = json.RawMessage(metadata.String)
	}
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}
	return &p, nil
}

// UpsertProduct inserts a product or replaces all of its columns.
func (s *CatalogStore) UpsertProduct(ctx context.Context, q DBTX, p *model.Product) error {
	var metadata interface{}
	if len(p.Metadata) > 0 && string(p.Metadata) != "null" {
		metadata = string(p.Metadata)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO products
		(product_uuid, name, category, set_code, collector_number, barcode, release_year, metadata, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(product_uuid) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			set_code = excluded.set_code,
			collector_number = excluded.collector_number,
			barcode = excluded.barcode,
			release_year = excluded.release_year,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			deleted_at = excluded.deleted_at
	`,
		p.ProductUUID, p.Name, p.Category, p.SetCode, p.CollectorNumber, p.Barcode,
		p.ReleaseYear, metadata, createdAt, p.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

// DeleteProduct removes a product row.
func (s *CatalogStore) DeleteProduct(ctx context.Context, q DBTX, productUUID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM products WHERE product_uuid = ?`, productUUID); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return nil
}

// SoftDeleteProduct marks a product deleted.
func (s *CatalogStore) SoftDeleteProduct(ctx context.Context, q DBTX, productUUID string, at time.Time) error {
	if _, err := q.ExecContext(ctx, `UPDATE products SET deleted_at = ? WHERE product_uuid = ?`, at, productUUID); err != nil {
		return fmt.Errorf("failed to soft delete product: %w", err)
	}
	return nil
}

// GetCustomer returns a customer by id.
func (s *CatalogStore) GetCustomer(ctx context.Context, q DBTX, customerUUID string) (*model.Customer, error) {
	var (
		c     model.Customer
		email sql.NullString
		phone sql.NullString
		tier  sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT customer_uuid, name, email, phone, store_credit, tier, created_at
		FROM customers WHERE customer_uuid = ?
	`, customerUUID).Scan(&c.CustomerUUID, &c.Name, &email, &phone, &c.StoreCredit, &tier, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	if email.Valid {
		c.Email = &email.String
	}
	if phone.Valid {
		c.Phone = &phone.String
	}
	if tier.Valid {
		c.Tier = &tier.String
	}
	return &c, nil
}

// UpsertCustomer inserts a customer or replaces all of its columns.
func (s *CatalogStore) UpsertCustomer(ctx context.Context, q DBTX, c *model.Customer) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO customers (customer_uuid, name, email, phone, store_credit, tier, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(customer_uuid) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone,
			store_credit = excluded.store_credit,
			tier = excluded.tier,
			created_at = excluded.created_at
	`, c.CustomerUUID, c.Name, c.Email, c.Phone, c.StoreCredit, c.Tier, createdAt)
	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

// DeleteCustomer removes a customer row.
func (s *CatalogStore) DeleteCustomer(ctx context.Context, q DBTX, customerUUID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM customers WHERE customer_uuid = ?`, customerUUID); err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	return nil
}
