package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MalformedRecord is a batch element that could not be read as a change
// record at all.
type MalformedRecord struct {
	Index    int
	RecordID string
	Sequence uint64
	Err      error
}

// wireChangeRecord mirrors ChangeRecord with plain string enums so an
// unknown record type or operation does not fail the decode. Validate
// rejects those values later.
type wireChangeRecord struct {
	RecordID        string          `json:"record_id"`
	RecordType      string          `json:"record_type"`
	Operation       string          `json:"operation"`
	Data            json.RawMessage `json:"data"`
	VectorTimestamp VersionVector   `json:"vector_timestamp"`
	Timestamp       time.Time       `json:"timestamp"`
	SequenceNumber  uint64          `json:"sequence_number"`
	Checksum        string          `json:"checksum"`
	NodeID          string          `json:"node_id"`
}

// DecodeChangeBatch decodes a JSON array of change records element by
// element. Only a body that is not a JSON array is an error; elements that
// cannot be decoded are returned separately, in order, and never hide the
// elements around them.
func DecodeChangeBatch(body []byte) ([]ChangeRecord, []MalformedRecord, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, fmt.Errorf("batch is not a JSON array: %w", err)
	}

	records := make([]ChangeRecord, 0, len(raw))
	var malformed []MalformedRecord
	for i, elem := range raw {
		var w wireChangeRecord
		if err := json.Unmarshal(elem, &w); err != nil {
			malformed = append(malformed, malformedFrom(i, elem, err))
			continue
		}
		records = append(records, ChangeRecord{
			RecordID:        w.RecordID,
			RecordType:      RecordType(w.RecordType),
			Operation:       SyncOperation(w.Operation),
			Data:            w.Data,
			VectorTimestamp: w.VectorTimestamp,
			Timestamp:       w.Timestamp,
			SequenceNumber:  w.SequenceNumber,
			Checksum:        w.Checksum,
			NodeID:          w.NodeID,
		})
	}
	return records, malformed, nil
}

// malformedFrom salvages what identity it can from a broken element so the
// caller can log it and move its cursor past it.
func malformedFrom(index int, elem json.RawMessage, err error) MalformedRecord {
	m := MalformedRecord{Index: index, Err: err}
	var fields map[string]json.RawMessage
	if json.Unmarshal(elem, &fields) != nil {
		return m
	}
	if v, ok := fields["record_id"]; ok {
		_ = json.Unmarshal(v, &m.RecordID)
	}
	if v, ok := fields["sequence_number"]; ok {
		_ = json.Unmarshal(v, &m.Sequence)
	}
	return m
}
