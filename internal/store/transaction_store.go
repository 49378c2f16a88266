package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Synaptikal/VaultSync-sub001/internal/model"
)

// TransactionStore persists transaction headers and their line items.
type TransactionStore struct{}

// NewTransactionStore creates a new transaction store
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{}
}

// Upsert writes the header and replaces its line items.
func (s *TransactionStore) Upsert(ctx context.Context, q DBTX, t *model.Transaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (transaction_uuid, customer_uuid, user_uuid, transaction_type, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(transaction_uuid) DO UPDATE SET
			customer_uuid = excluded.customer_uuid,
			user_uuid = excluded.user_uuid,
			transaction_type = excluded.transaction_type,
			timestamp = excluded.timestamp
	`, t.TransactionUUID, t.CustomerUUID, t.UserUUID, string(t.TransactionType), t.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM transaction_items WHERE transaction_uuid = ?`, t.TransactionUUID); err != nil {
		return fmt.Errorf("failed to clear transaction items: %w", err)
	}

	for _, item := range t.Items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO transaction_items (item_uuid, transaction_uuid, product_uuid, quantity, unit_price, condition)
			VALUES (?, ?, ?, ?, ?, ?)
		`, item.ItemUUID, t.TransactionUUID, item.ProductUUID, item.Quantity, item.UnitPrice, string(item.Condition))
		if err != nil {
			return fmt.Errorf("failed to insert transaction item: %w", err)
		}
	}
	return nil
}

// Get returns a transaction with its items.
func (s *TransactionStore) Get(ctx context.Context, q DBTX, transactionUUID string) (*model.Transaction, error) {
	var (
		t        model.Transaction
		customer sql.NullString
		user     sql.NullString
		txType   string
	)
	err := q.QueryRowContext(ctx, `
		SELECT transaction_uuid, customer_uuid, user_uuid, transaction_type, timestamp
		FROM transactions WHERE transaction_uuid = ?
	`, transactionUUID).Scan(&t.TransactionUUID, &customer, &user, &txType, &t.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	t.TransactionType = model.TransactionType(txType)
	if customer.Valid {
		t.CustomerUUID = &customer.String
	}
	if user.Valid {
		t.UserUUID = &user.String
	}

	rows, err := q.QueryContext(ctx, `
		SELECT item_uuid, product_uuid, quantity, unit_price, condition
		FROM transaction_items WHERE transaction_uuid = ?
		ORDER BY rowid ASC
	`, transactionUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction items: %w", err)
	}
	defer rows.Close()

	t.Items = make([]model.TransactionItem, 0)
	for rows.Next() {
		var (
			item      model.TransactionItem
			condition string
		)
		if err := rows.Scan(&item.ItemUUID, &item.ProductUUID, &item.Quantity, &item.UnitPrice, &condition); err != nil {
			return nil, fmt.Errorf("failed to scan transaction item: %w", err)
		}
		item.Condition = model.Condition(condition)
		t.Items = append(t.Items, item)
	}
	return &t, rows.Err()
}

// Delete removes a transaction and its items.
func (s *TransactionStore) Delete(ctx context.Context, q DBTX, transactionUUID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM transactions WHERE transaction_uuid = ?`, transactionUUID); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

// Count returns the number of transaction headers
func (s *TransactionStore) Count(ctx context.Context, q DBTX) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}
