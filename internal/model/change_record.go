package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Synaptikal/VaultSync-sub001/internal/util"
)

// RecordType identifies the kind of replicated entity a change applies to.
type RecordType string

const (
	RecordTypeProduct          RecordType = "Product"
	RecordTypeInventoryItem    RecordType = "InventoryItem"
	RecordTypePriceInfo        RecordType = "PriceInfo"
	RecordTypeTransaction      RecordType = "Transaction"
	RecordTypeCustomer         RecordType = "Customer"
	RecordTypeWantsList        RecordType = "WantsList"
	RecordTypeEvent            RecordType = "Event"
	RecordTypeEventParticipant RecordType = "EventParticipant"
)

// AllRecordTypes lists every replicated entity kind
var AllRecordTypes = []RecordType{
	RecordTypeProduct,
	RecordTypeInventoryItem,
	RecordTypePriceInfo,
	RecordTypeTransaction,
	RecordTypeCustomer,
	RecordTypeWantsList,
	RecordTypeEvent,
	RecordTypeEventParticipant,
}

// ParseRecordType parses a wire record type. Unknown values are an error.
func ParseRecordType(s string) (RecordType, error) {
	for _, rt := range AllRecordTypes {
		if string(rt) == s {
			return rt, nil
		}
	}
	return "", fmt.Errorf("unknown record type %q", s)
}

// UnmarshalJSON rejects record types outside the closed set
func (rt *RecordType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRecordType(s)
	if err != nil {
		return err
	}
	*rt = parsed
	return nil
}

// SyncOperation is the kind of mutation a change record describes.
type SyncOperation string

const (
	OpInsert     SyncOperation = "Insert"
	OpUpdate     SyncOperation = "Update"
	OpDelete     SyncOperation = "Delete"
	OpSoftDelete SyncOperation = "SoftDelete"
)

// ParseSyncOperation parses a wire operation. Unknown values are an error.
func ParseSyncOperation(s string) (SyncOperation, error) {
	switch SyncOperation(s) {
	case OpInsert, OpUpdate, OpDelete, OpSoftDelete:
		return SyncOperation(s), nil
	}
	return "", fmt.Errorf("unknown sync operation %q", s)
}

// UnmarshalJSON rejects operations outside the closed set
func (op *SyncOperation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSyncOperation(s)
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

// IsDelete reports whether the operation removes the entity, hard or soft.
func (op SyncOperation) IsDelete() bool {
	return op == OpDelete || op == OpSoftDelete
}

// ChangeRecord is one immutable entry of the replication log.
type ChangeRecord struct {
	RecordID        string          `json:"record_id"`
	RecordType      RecordType      `json:"record_type"`
	Operation       SyncOperation   `json:"operation"`
	Data            json.RawMessage `json:"data"`
	VectorTimestamp VersionVector   `json:"vector_timestamp"`
	Timestamp       time.Time       `json:"timestamp"`
	SequenceNumber  uint64          `json:"sequence_number"`
	Checksum        string          `json:"checksum,omitempty"`
	NodeID          string          `json:"node_id,omitempty"`
}

// ComputeChecksum hashes the identifying fields, payload and causal metadata
// of the record. Vector entries are hashed in node id order.
func (c *ChangeRecord) ComputeChecksum() string {
	parts := [][]byte{
		[]byte(c.RecordID),
		[]byte(c.RecordType),
		[]byte(c.Operation),
		c.Data,
		[]byte(strconv.FormatUint(c.SequenceNumber, 10)),
	}
	for _, nodeID := range c.VectorTimestamp.Nodes() {
		parts = append(parts, []byte(nodeID), []byte(strconv.FormatUint(c.VectorTimestamp[nodeID], 10)))
	}
	return util.ChecksumHex(util.ComputeChecksum(parts...))
}

// VerifyChecksum reports whether the carried checksum matches. Records
// without a checksum pass.
func (c *ChangeRecord) VerifyChecksum() bool {
	if c.Checksum == "" {
		return true
	}
	return c.Checksum == c.ComputeChecksum()
}

// Validate checks the structural invariants of a record received from a peer.
func (c *ChangeRecord) Validate() error {
	if c.RecordID == "" {
		return fmt.Errorf("record_id is required")
	}
	if _, err := ParseRecordType(string(c.RecordType)); err != nil {
		return err
	}
	if _, err := ParseSyncOperation(string(c.Operation)); err != nil {
		return err
	}
	if len(c.VectorTimestamp) == 0 {
		return fmt.Errorf("vector_timestamp is required")
	}
	if len(c.Data) == 0 || !json.Valid(c.Data) {
		return fmt.Errorf("data is not a valid JSON document")
	}
	return nil
}
