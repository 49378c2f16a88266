package handler

import (
	"context"
	"encoding/json"
	"net/http"

	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/Synaptikal/VaultSync-sub001/internal/service"
	"go.uber.org/zap"
)

// TransactionHandler serves the point-of-sale transaction API.
type TransactionHandler struct {
	transactions TransactionProcessor
	errorHandler *synerrors.Handler
	logger       *zap.Logger
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(transactions TransactionProcessor, errorHandler *synerrors.Handler, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{
		transactions: transactions,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// Sale handles POST /api/v1/transactions/sale.
func (h *TransactionHandler) Sale(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.transactions.ProcessSale)
}

// Buy handles POST /api/v1/transactions/buy.
func (h *TransactionHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.transactions.ProcessBuy)
}

// Return handles POST /api/v1/transactions/return.
func (h *TransactionHandler) Return(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.transactions.ProcessReturn)
}

// Trade handles POST /api/v1/transactions/trade.
func (h *TransactionHandler) Trade(w http.ResponseWriter, r *http.Request) {
	var req service.TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid JSON body", r.Header.Get("X-Request-ID"))
		return
	}

	result, err := h.transactions.ProcessTrade(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusCreated, result)
}

type singleLegFunc func(ctx context.Context, req service.TransactionRequest) (*model.Transaction, error)

func (h *TransactionHandler) single(w http.ResponseWriter, r *http.Request, process singleLegFunc) {
	var req service.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid JSON body", r.Header.Get("X-Request-ID"))
		return
	}

	txn, err := process(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusCreated, txn)
}
