// Package handler provides the HTTP handlers of a VaultSync node.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/Synaptikal/VaultSync-sub001/internal/service"
	"go.uber.org/zap"
)

// SyncEngine is the replication actor as seen by HTTP.
type SyncEngine interface {
	SyncWithPeers(ctx context.Context) (*service.SyncReport, error)
	ApplyChanges(ctx context.Context, peerID string, changes []model.ChangeRecord) (*service.ApplyReport, error)
	GetStatus(ctx context.Context) (*model.SyncStatus, error)
	ManualPair(ctx context.Context, name, address string, port int, nodeID string) (*model.Device, error)
	GetDevices(ctx context.Context) ([]model.Device, error)
}

// ChangeSource serves the local change log.
type ChangeSource interface {
	ChangesSince(ctx context.Context, sinceClock uint64, limit int) ([]model.ChangeRecord, error)
}

// ConflictManager exposes the conflict audit trail.
type ConflictManager interface {
	ListConflicts(ctx context.Context, status model.ResolutionStatus, limit int) ([]*model.SyncConflict, error)
	GetConflict(ctx context.Context, conflictUUID string) (*model.SyncConflict, error)
	ResolveConflict(ctx context.Context, conflictUUID string, status model.ResolutionStatus) error
}

// TransactionProcessor runs point-of-sale transactions.
type TransactionProcessor interface {
	ProcessSale(ctx context.Context, req service.TransactionRequest) (*model.Transaction, error)
	ProcessBuy(ctx context.Context, req service.TransactionRequest) (*model.Transaction, error)
	ProcessReturn(ctx context.Context, req service.TransactionRequest) (*model.Transaction, error)
	ProcessTrade(ctx context.Context, req service.TradeRequest) (*service.TradeResult, error)
}

func writeJSONResponse(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}
