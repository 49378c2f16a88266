package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Condition grades an inventory item
type Condition string

const (
	ConditionNM           Condition = "NM"
	ConditionLP           Condition = "LP"
	ConditionMP           Condition = "MP"
	ConditionHP           Condition = "HP"
	ConditionDMG          Condition = "DMG"
	ConditionNew          Condition = "New"
	ConditionOpenBox      Condition = "OpenBox"
	ConditionUsed         Condition = "Used"
	ConditionGemMint      Condition = "GemMint"
	ConditionMint         Condition = "Mint"
	ConditionNearMintMint Condition = "NearMintMint"
	ConditionVeryFine     Condition = "VeryFine"
	ConditionFine         Condition = "Fine"
	ConditionGood         Condition = "Good"
	ConditionPoor         Condition = "Poor"
)

var validConditions = map[Condition]struct{}{
	ConditionNM: {}, ConditionLP: {}, ConditionMP: {}, ConditionHP: {}, ConditionDMG: {},
	ConditionNew: {}, ConditionOpenBox: {}, ConditionUsed: {}, ConditionGemMint: {},
	ConditionMint: {}, ConditionNearMintMint: {}, ConditionVeryFine: {}, ConditionFine: {},
	ConditionGood: {}, ConditionPoor: {},
}

// ParseCondition parses a condition grade
func ParseCondition(s string) (Condition, error) {
	if _, ok := validConditions[Condition(s)]; !ok {
		return "", fmt.Errorf("unknown condition %q", s)
	}
	return Condition(s), nil
}

// TransactionType classifies a transaction header
type TransactionType string

const (
	TransactionSale   TransactionType = "Sale"
	TransactionBuy    TransactionType = "Buy"
	TransactionTrade  TransactionType = "Trade"
	TransactionReturn TransactionType = "Return"
)

// DefaultIntakeLocation tags piles created by purchases
const DefaultIntakeLocation = "Purchased"

// Product is a catalog entry.
type Product struct {
	ProductUUID     string          `json:"product_uuid"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	SetCode         *string         `json:"set_code,omitempty"`
	CollectorNumber *string         `json:"collector_number,omitempty"`
	Barcode         *string         `json:"barcode,omitempty"`
	ReleaseYear     *int            `json:"release_year,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`
}

// InventoryItem is one pile of stock for a product in a given condition.
// A pile without serialized details or a specific price is a bulk pile.
type InventoryItem struct {
	InventoryUUID     string          `json:"inventory_uuid"`
	ProductUUID       string          `json:"product_uuid"`
	Condition         Condition       `json:"condition"`
	QuantityOnHand    int64           `json:"quantity_on_hand"`
	LocationTag       string          `json:"location_tag"`
	SpecificPrice     *float64        `json:"specific_price,omitempty"`
	SerializedDetails json.RawMessage `json:"serialized_details,omitempty"`
	CostBasis         *float64        `json:"cost_basis,omitempty"`
	SupplierUUID      *string         `json:"supplier_uuid,omitempty"`
	ReceivedDate      time.Time       `json:"received_date"`
	MinStockLevel     int64           `json:"min_stock_level"`
	MaxStockLevel     *int64          `json:"max_stock_level,omitempty"`
	ReorderPoint      *int64          `json:"reorder_point,omitempty"`
	DeletedAt         *time.Time      `json:"deleted_at,omitempty"`
}

// IsBulk reports whether the pile holds fungible stock
func (i *InventoryItem) IsBulk() bool {
	return len(i.SerializedDetails) == 0 && i.SpecificPrice == nil
}

// TransactionItem is one line of a transaction.
type TransactionItem struct {
	ItemUUID    string    `json:"item_uuid"`
	ProductUUID string    `json:"product_uuid"`
	Quantity    int64     `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	Condition   Condition `json:"condition"`
}

// Transaction is a committed sale, buy, trade leg or return.
type Transaction struct {
	TransactionUUID string            `json:"transaction_uuid"`
	Items           []TransactionItem `json:"items"`
	CustomerUUID    *string           `json:"customer_uuid,omitempty"`
	UserUUID        *string           `json:"user_uuid,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	TransactionType TransactionType   `json:"transaction_type"`
}

// Total sums quantity * unit price across lines
func (t *Transaction) Total() float64 {
	var total float64
	for _, item := range t.Items {
		total += float64(item.Quantity) * item.UnitPrice
	}
	return total
}

// Customer carries store credit that trades may adjust.
type Customer struct {
	CustomerUUID string    `json:"customer_uuid"`
	Name         string    `json:"name"`
	Email        *string   `json:"email,omitempty"`
	Phone        *string   `json:"phone,omitempty"`
	StoreCredit  float64   `json:"store_credit"`
	Tier         *string   `json:"tier,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// WantsListItem is a product a customer is looking for.
type WantsListItem struct {
	ItemUUID     string    `json:"item_uuid"`
	ProductUUID  string    `json:"product_uuid"`
	MinCondition Condition `json:"min_condition"`
	MaxPrice     *float64  `json:"max_price,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// WantsList groups a customer's wanted items.
type WantsList struct {
	WantsListUUID string          `json:"wants_list_uuid"`
	CustomerUUID  string          `json:"customer_uuid"`
	Items         []WantsListItem `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Event is an in-store event such as a tournament.
type Event struct {
	EventUUID       string    `json:"event_uuid"`
	Name            string    `json:"name"`
	EventType       string    `json:"event_type"`
	Date            time.Time `json:"date"`
	EntryFee        float64   `json:"entry_fee"`
	MaxParticipants *int      `json:"max_participants,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// EventParticipant registers a customer or walk-in for an event.
type EventParticipant struct {
	ParticipantUUID string    `json:"participant_uuid"`
	EventUUID       string    `json:"event_uuid"`
	CustomerUUID    *string   `json:"customer_uuid,omitempty"`
	Name            string    `json:"name"`
	Paid            bool      `json:"paid"`
	Placement       *int      `json:"placement,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
