package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/Synaptikal/VaultSync-sub001/internal/store"
)

// TxRunner runs fn in one local database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Conn() store.DBTX
}

// MutationLog is the replicated store capability: causal metadata and the
// append-only change log.
type MutationLog interface {
	NodeID() string
	RecordMutation(ctx context.Context, tx store.DBTX, recordID string, recordType model.RecordType, op model.SyncOperation, data interface{}) (*model.ChangeRecord, error)
	ChangesSince(ctx context.Context, q store.DBTX, cursor uint64, limit int) ([]model.ChangeRecord, error)
	GetVector(ctx context.Context, q store.DBTX, recordID string) (model.VersionVector, bool, error)
	SetVector(ctx context.Context, q store.DBTX, recordID string, vv model.VersionVector) error
	LastOperation(ctx context.Context, q store.DBTX, recordID string) (model.SyncOperation, bool, error)
	CountSince(ctx context.Context, q store.DBTX, cursor uint64) (int, error)
}

// InventoryLedger reads and adjusts inventory piles inside a transaction.
type InventoryLedger interface {
	PilesFor(ctx context.Context, q store.DBTX, productUUID string, condition model.Condition) ([]*model.InventoryItem, error)
	FindBulkPile(ctx context.Context, q store.DBTX, productUUID string, condition model.Condition) (*model.InventoryItem, error)
	SetQuantity(ctx context.Context, q store.DBTX, inventoryUUID string, quantity int64) error
	Upsert(ctx context.Context, q store.DBTX, item *model.InventoryItem) error
}

// TransactionRecorder persists transaction headers and lines.
type TransactionRecorder interface {
	Upsert(ctx context.Context, q store.DBTX, t *model.Transaction) error
}

// CustomerLedger reads and writes customers for store credit adjustments.
type CustomerLedger interface {
	GetCustomer(ctx context.Context, q store.DBTX, customerUUID string) (*model.Customer, error)
	UpsertCustomer(ctx context.Context, q store.DBTX, c *model.Customer) error
}

// ConflictRecorder is the local conflict audit trail.
type ConflictRecorder interface {
	Record(ctx context.Context, q store.DBTX, c *model.SyncConflict) error
	SetResolution(ctx context.Context, q store.DBTX, conflictUUID, resolution string) error
	UpdateStatus(ctx context.Context, q store.DBTX, conflictUUID string, status model.ResolutionStatus, at time.Time) error
	Get(ctx context.Context, q store.DBTX, conflictUUID string) (*model.SyncConflict, error)
	List(ctx context.Context, q store.DBTX, status model.ResolutionStatus, limit int) ([]*model.SyncConflict, error)
	ListUnarchived(ctx context.Context, q store.DBTX, limit int) ([]*model.SyncConflict, error)
	MarkArchived(ctx context.Context, q store.DBTX, conflictUUIDs []string) error
}

// CursorStore persists per-peer replication progress.
type CursorStore interface {
	Get(ctx context.Context, q store.DBTX, peerKey string) (*model.PeerCursor, error)
	AdvanceAckedPush(ctx context.Context, q store.DBTX, peerKey string, seq uint64) error
	AdvancePulled(ctx context.Context, q store.DBTX, peerKey string, seq uint64) error
	MinAckedPush(ctx context.Context, q store.DBTX, peerKeys []string) (uint64, error)
}

// PeerDirectory knows which peers exist and how to reach them.
type PeerDirectory interface {
	GetConnectedDevices() []model.Device
	GetAllDevices() []model.Device
	ManualAddDevice(name, address string, port int, nodeID string) (model.Device, error)
}

// PeerClient speaks the peer sync protocol.
type PeerClient interface {
	Push(ctx context.Context, device model.Device, changes []model.ChangeRecord) (*model.PushResult, error)
	Pull(ctx context.Context, device model.Device, sinceClock uint64, limit int) ([]model.ChangeRecord, error)
}
