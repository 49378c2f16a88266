package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/Synaptikal/VaultSync-sub001/internal/store"
)

// EntityApplier writes replicated entity state into the local domain tables.
// Entities without a dedicated table are kept as documents.
type EntityApplier struct {
	catalog      *store.CatalogStore
	inventory    *store.InventoryStore
	transactions *store.TransactionStore
	documents    *store.DocumentStore
	now          func() time.Time
}

// NewEntityApplier creates a new entity applier
func NewEntityApplier(
	catalog *store.CatalogStore,
	inventory *store.InventoryStore,
	transactions *store.TransactionStore,
	documents *store.DocumentStore,
) *EntityApplier {
	return &EntityApplier{
		catalog:      catalog,
		inventory:    inventory,
		transactions: transactions,
		documents:    documents,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Apply writes rec's operation and payload to the domain tables.
func (a *EntityApplier) Apply(ctx context.Context, q store.DBTX, rec *model.ChangeRecord) error {
	switch rec.Operation {
	case model.OpDelete:
		return a.delete(ctx, q, rec.RecordType, rec.RecordID)
	case model.OpSoftDelete:
		return a.softDelete(ctx, q, rec.RecordType, rec.RecordID)
	}

	switch rec.RecordType {
	case model.RecordTypeProduct:
		var p model.Product
		if err := decodeEntity(rec, &p, &p.ProductUUID); err != nil {
			return err
		}
		return a.catalog.UpsertProduct(ctx, q, &p)

	case model.RecordTypeInventoryItem:
		var item model.InventoryItem
		if err := decodeEntity(rec, &item, &item.InventoryUUID); err != nil {
			return err
		}
		if item.QuantityOnHand < 0 {
			return synerrors.InvalidArgument("quantity_on_hand must not be negative", nil).
				WithDetail("record_id", rec.RecordID)
		}
		return a.inventory.Upsert(ctx, q, &item)

	case model.RecordTypeTransaction:
		var t model.Transaction
		if err := decodeEntity(rec, &t, &t.TransactionUUID); err != nil {
			return err
		}
		return a.transactions.Upsert(ctx, q, &t)

	case model.RecordTypeCustomer:
		var c model.Customer
		if err := decodeEntity(rec, &c, &c.CustomerUUID); err != nil {
			return err
		}
		return a.catalog.UpsertCustomer(ctx, q, &c)

	default:
		return a.documents.Put(ctx, q, rec.RecordID, rec.RecordType, rec.Data)
	}
}

// CurrentState returns the local JSON state of an entity, or nil when the
// entity does not exist locally.
func (a *EntityApplier) CurrentState(ctx context.Context, q store.DBTX, recordType model.RecordType, recordID string) (json.RawMessage, error) {
	var (
		entity interface{}
		err    error
	)
	switch recordType {
	case model.RecordTypeProduct:
		entity, err = a.catalog.GetProduct(ctx, q, recordID)
	case model.RecordTypeInventoryItem:
		entity, err = a.inventory.Get(ctx, q, recordID)
	case model.RecordTypeTransaction:
		entity, err = a.transactions.Get(ctx, q, recordID)
	case model.RecordTypeCustomer:
		entity, err = a.catalog.GetCustomer(ctx, q, recordID)
	default:
		doc, docErr := a.documents.Get(ctx, q, recordID)
		if errors.Is(docErr, store.ErrNotFound) {
			return nil, nil
		}
		return doc, docErr
	}

	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(entity)
}

func (a *EntityApplier) delete(ctx context.Context, q store.DBTX, recordType model.RecordType, recordID string) error {
	switch recordType {
	case model.RecordTypeProduct:
		return a.catalog.DeleteProduct(ctx, q, recordID)
	case model.RecordTypeInventoryItem:
		return a.inventory.Delete(ctx, q, recordID)
	case model.RecordTypeTransaction:
		return a.transactions.Delete(ctx, q, recordID)
	case model.RecordTypeCustomer:
		return a.catalog.DeleteCustomer(ctx, q, recordID)
	default:
		return a.documents.Delete(ctx, q, recordID)
	}
}

// softDelete keeps a tombstone where the table has one. Transactions and
// customers have no deleted_at column and are removed.
func (a *EntityApplier) softDelete(ctx context.Context, q store.DBTX, recordType model.RecordType, recordID string) error {
	at := a.now()
	switch recordType {
	case model.RecordTypeProduct:
		return a.catalog.SoftDeleteProduct(ctx, q, recordID, at)
	case model.RecordTypeInventoryItem:
		return a.inventory.SoftDelete(ctx, q, recordID, at)
	case model.RecordTypeTransaction, model.RecordTypeCustomer:
		return a.delete(ctx, q, recordType, recordID)
	default:
		return a.documents.SoftDelete(ctx, q, recordID, at)
	}
}

// decodeEntity unmarshals rec.Data into v and reconciles its id field with
// the record id.
func decodeEntity(rec *model.ChangeRecord, v interface{}, id *string) error {
	if err := json.Unmarshal(rec.Data, v); err != nil {
		return synerrors.Serialization("failed to decode "+string(rec.RecordType), err).
			WithDetail("record_id", rec.RecordID)
	}
	if *id == "" {
		*id = rec.RecordID
	}
	if *id != rec.RecordID {
		return synerrors.InvalidArgument("payload id does not match record_id", nil).
			WithDetail("record_id", rec.RecordID).
			WithDetail("payload_id", *id)
	}
	return nil
}
