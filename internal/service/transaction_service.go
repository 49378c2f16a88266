package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/metrics"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/Synaptikal/VaultSync-sub001/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LineItem is one requested line of a sale, buy, trade leg or return.
type LineItem struct {
	ProductUUID string          `json:"product_uuid"`
	Condition   model.Condition `json:"condition"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   float64         `json:"unit_price"`
}

// TransactionRequest is a single-leg transaction.
type TransactionRequest struct {
	CustomerUUID *string    `json:"customer_uuid,omitempty"`
	UserUUID     *string    `json:"user_uuid,omitempty"`
	Items        []LineItem `json:"items"`
}

// TradeRequest takes TradeIn into stock and sells Sale out of it.
type TradeRequest struct {
	CustomerUUID *string    `json:"customer_uuid,omitempty"`
	UserUUID     *string    `json:"user_uuid,omitempty"`
	TradeIn      []LineItem `json:"trade_in"`
	Sale         []LineItem `json:"sale"`
}

// TradeResult holds both legs of a committed trade.
type TradeResult struct {
	TradeIn      *model.Transaction `json:"trade_in"`
	Sale         *model.Transaction `json:"sale"`
	CreditIssued float64            `json:"credit_issued"`
}

type pileKey struct {
	product   string
	condition model.Condition
}

// TransactionService executes inventory-affecting transactions. Every
// domain write and its change log entry commit in one local transaction.
type TransactionService struct {
	db        TxRunner
	log       MutationLog
	inventory InventoryLedger
	records   TransactionRecorder
	customers CustomerLedger
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewTransactionService creates a new transaction service
func NewTransactionService(
	db TxRunner,
	log MutationLog,
	inventory InventoryLedger,
	records TransactionRecorder,
	customers CustomerLedger,
	m *metrics.Metrics,
	logger *zap.Logger,
) *TransactionService {
	return &TransactionService{
		db:        db,
		log:       log,
		inventory: inventory,
		records:   records,
		customers: customers,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessSale deducts stock across piles and records a Sale. Availability of
// every line is checked before anything is written; a shortfall fails the
// whole sale with no durable change.
func (s *TransactionService) ProcessSale(ctx context.Context, req TransactionRequest) (*model.Transaction, error) {
	if err := validateLines(req.Items); err != nil {
		return nil, s.fail(model.TransactionSale, err)
	}

	var result *model.Transaction
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = s.sellLeg(ctx, tx, model.TransactionSale, req.CustomerUUID, req.UserUUID, req.Items)
		return err
	})
	if err != nil {
		return nil, s.fail(model.TransactionSale, err)
	}

	s.succeed(result)
	return result, nil
}

// ProcessBuy adds purchased stock, aggregating bulk lines into an existing
// pile when one exists, and records a Buy.
func (s *TransactionService) ProcessBuy(ctx context.Context, req TransactionRequest) (*model.Transaction, error) {
	return s.restock(ctx, model.TransactionBuy, req)
}

// ProcessReturn puts returned stock back on the shelf like a buy and records
// a Return.
func (s *TransactionService) ProcessReturn(ctx context.Context, req TransactionRequest) (*model.Transaction, error) {
	return s.restock(ctx, model.TransactionReturn, req)
}

// ProcessTrade runs a buy leg and a sell leg atomically. Both legs are
// recorded as Trade transactions. When the trade-in is worth more than the
// sale and a customer is named, the difference is credited to the customer.
func (s *TransactionService) ProcessTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	if err := validateLines(req.TradeIn); err != nil {
		return nil, s.fail(model.TransactionTrade, err)
	}
	if err := validateLines(req.Sale); err != nil {
		return nil, s.fail(model.TransactionTrade, err)
	}

	result := &TradeResult{}
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		if result.TradeIn, err = s.buyLeg(ctx, tx, model.TransactionTrade, req.CustomerUUID, req.UserUUID, req.TradeIn); err != nil {
			return err
		}
		if result.Sale, err = s.sellLeg(ctx, tx, model.TransactionTrade, req.CustomerUUID, req.UserUUID, req.Sale); err != nil {
			return err
		}

		credit := result.TradeIn.Total() - result.Sale.Total()
		if req.CustomerUUID != nil && credit > 0 {
			if err := s.creditCustomer(ctx, tx, *req.CustomerUUID, credit); err != nil {
				return err
			}
			result.CreditIssued = credit
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(model.TransactionTrade, err)
	}

	s.succeed(result.TradeIn)
	s.succeed(result.Sale)
	return result, nil
}

func (s *TransactionService) restock(ctx context.Context, txType model.TransactionType, req TransactionRequest) (*model.Transaction, error) {
	if err := validateLines(req.Items); err != nil {
		return nil, s.fail(txType, err)
	}

	var result *model.Transaction
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = s.buyLeg(ctx, tx, txType, req.CustomerUUID, req.UserUUID, req.Items)
		return err
	})
	if err != nil {
		return nil, s.fail(txType, err)
	}

	s.succeed(result)
	return result, nil
}

// sellLeg validates availability for all lines, then deducts across piles in
// inventory_uuid order. Drained piles stay at zero.
func (s *TransactionService) sellLeg(ctx context.Context, tx *sql.Tx, txType model.TransactionType, customer, user *string, items []LineItem) (*model.Transaction, error) {
	demand := make(map[pileKey]int64)
	order := make([]pileKey, 0, len(items))
	for _, item := range items {
		key := pileKey{item.ProductUUID, item.Condition}
		if _, seen := demand[key]; !seen {
			order = append(order, key)
		}
		demand[key] += item.Quantity
	}

	piles := make(map[pileKey][]*model.InventoryItem, len(order))
	for _, key := range order {
		found, err := s.inventory.PilesFor(ctx, tx, key.product, key.condition)
		if err != nil {
			return nil, err
		}
		var available int64
		for _, p := range found {
			available += p.QuantityOnHand
		}
		if available < demand[key] {
			s.logger.Warn("Insufficient inventory",
				zap.String("product_uuid", key.product),
				zap.String("condition", string(key.condition)),
				zap.Int64("requested", demand[key]),
				zap.Int64("available", available))
			return nil, synerrors.InsufficientInventory(key.product, demand[key], available)
		}
		piles[key] = found
	}

	for _, item := range items {
		remaining := item.Quantity
		for _, pile := range piles[pileKey{item.ProductUUID, item.Condition}] {
			if remaining == 0 {
				break
			}
			if pile.QuantityOnHand == 0 {
				continue
			}
			take := remaining
			if pile.QuantityOnHand < take {
				take = pile.QuantityOnHand
			}
			pile.QuantityOnHand -= take
			remaining -= take

			if err := s.inventory.SetQuantity(ctx, tx, pile.InventoryUUID, pile.QuantityOnHand); err != nil {
				return nil, err
			}
			if err := s.logMutation(ctx, tx, pile.InventoryUUID, model.RecordTypeInventoryItem, model.OpUpdate, pile); err != nil {
				return nil, err
			}
		}
	}

	return s.insertTransaction(ctx, tx, txType, customer, user, items)
}

// buyLeg adds each line to the bulk pile for its product and condition,
// creating the pile when none exists.
func (s *TransactionService) buyLeg(ctx context.Context, tx *sql.Tx, txType model.TransactionType, customer, user *string, items []LineItem) (*model.Transaction, error) {
	for _, item := range items {
		pile, err := s.inventory.FindBulkPile(ctx, tx, item.ProductUUID, item.Condition)
		switch {
		case err == nil:
			pile.QuantityOnHand += item.Quantity
			if err := s.inventory.SetQuantity(ctx, tx, pile.InventoryUUID, pile.QuantityOnHand); err != nil {
				return nil, err
			}
			if err := s.logMutation(ctx, tx, pile.InventoryUUID, model.RecordTypeInventoryItem, model.OpUpdate, pile); err != nil {
				return nil, err
			}
		case errors.Is(err, store.ErrNotFound):
			cost := item.UnitPrice
			pile = &model.InventoryItem{
				InventoryUUID:  uuid.NewString(),
				ProductUUID:    item.ProductUUID,
				Condition:      item.Condition,
				QuantityOnHand: item.Quantity,
				LocationTag:    model.DefaultIntakeLocation,
				CostBasis:      &cost,
				ReceivedDate:   s.now(),
			}
			if err := s.inventory.Upsert(ctx, tx, pile); err != nil {
				return nil, err
			}
			if err := s.logMutation(ctx, tx, pile.InventoryUUID, model.RecordTypeInventoryItem, model.OpInsert, pile); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}

	return s.insertTransaction(ctx, tx, txType, customer, user, items)
}

func (s *TransactionService) insertTransaction(ctx context.Context, tx *sql.Tx, txType model.TransactionType, customer, user *string, items []LineItem) (*model.Transaction, error) {
	t := &model.Transaction{
		TransactionUUID: uuid.NewString(),
		Items:           make([]model.TransactionItem, 0, len(items)),
		CustomerUUID:    customer,
		UserUUID:        user,
		Timestamp:       s.now(),
		TransactionType: txType,
	}
	for _, item := range items {
		t.Items = append(t.Items, model.TransactionItem{
			ItemUUID:    uuid.NewString(),
			ProductUUID: item.ProductUUID,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Condition:   item.Condition,
		})
	}

	if err := s.records.Upsert(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := s.logMutation(ctx, tx, t.TransactionUUID, model.RecordTypeTransaction, model.OpInsert, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TransactionService) creditCustomer(ctx context.Context, tx *sql.Tx, customerUUID string, amount float64) error {
	c, err := s.customers.GetCustomer(ctx, tx, customerUUID)
	if errors.Is(err, store.ErrNotFound) {
		return synerrors.NotFound("customer", customerUUID)
	}
	if err != nil {
		return err
	}

	c.StoreCredit += amount
	if err := s.customers.UpsertCustomer(ctx, tx, c); err != nil {
		return err
	}
	return s.logMutation(ctx, tx, c.CustomerUUID, model.RecordTypeCustomer, model.OpUpdate, c)
}

func (s *TransactionService) logMutation(ctx context.Context, tx *sql.Tx, recordID string, recordType model.RecordType, op model.SyncOperation, data interface{}) error {
	if _, err := s.log.RecordMutation(ctx, tx, recordID, recordType, op, data); err != nil {
		return err
	}
	s.metrics.RecordMutation(string(recordType), string(op))
	return nil
}

func (s *TransactionService) succeed(t *model.Transaction) {
	s.metrics.RecordTransaction(string(t.TransactionType), "success")
	s.logger.Info("Transaction committed",
		zap.String("transaction_uuid", t.TransactionUUID),
		zap.String("type", string(t.TransactionType)),
		zap.Int("items", len(t.Items)),
		zap.Float64("total", t.Total()))
}

// fail maps non-domain errors to a durability failure.
func (s *TransactionService) fail(txType model.TransactionType, err error) error {
	s.metrics.RecordTransaction(string(txType), "failure")
	if synerrors.IsSyncError(err) {
		return err
	}
	s.logger.Error("Transaction failed",
		zap.String("type", string(txType)),
		zap.Error(err))
	return synerrors.Durability("failed to commit transaction", err)
}

func validateLines(items []LineItem) error {
	if len(items) == 0 {
		return synerrors.EmptyTransaction()
	}
	for _, item := range items {
		if item.ProductUUID == "" {
			return synerrors.InvalidArgument("product_uuid is required", nil)
		}
		if _, err := model.ParseCondition(string(item.Condition)); err != nil {
			return synerrors.InvalidArgument("invalid condition", err)
		}
		if item.Quantity <= 0 {
			return synerrors.InvalidArgument("quantity must be positive", nil).
				WithDetail("product_uuid", item.ProductUUID)
		}
		if item.UnitPrice < 0 {
			return synerrors.InvalidArgument("unit_price must not be negative", nil).
				WithDetail("product_uuid", item.ProductUUID)
		}
	}
	return nil
}
