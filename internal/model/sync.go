package model

import (
	"encoding/json"
	"net"
	"strconv"
	"time"
)

// ResolutionStatus tracks the audit state of a recorded conflict
type ResolutionStatus string

const (
	ResolutionPending  ResolutionStatus = "Pending"
	ResolutionResolved ResolutionStatus = "Resolved"
	ResolutionIgnored  ResolutionStatus = "Ignored"
)

// ConflictTypeConcurrentMod marks two concurrent edits of one entity
const ConflictTypeConcurrentMod = "Concurrent_Mod"

// SyncConflict is the audit row written whenever two nodes edited the same
// entity without seeing each other's change.
type SyncConflict struct {
	ConflictUUID string             `json:"conflict_uuid"`
	ResourceType RecordType         `json:"resource_type"`
	ResourceUUID string             `json:"resource_uuid"`
	ConflictType string             `json:"conflict_type"`
	PeerNodeID   string             `json:"peer_node_id"`
	Status       ResolutionStatus   `json:"status"`
	Resolution   string             `json:"resolution,omitempty"`
	DetectedAt   time.Time          `json:"detected_at"`
	ResolvedAt   *time.Time         `json:"resolved_at,omitempty"`
	Snapshots    []ConflictSnapshot `json:"snapshots,omitempty"`
}

// ConflictSnapshot captures one side of a conflict.
type ConflictSnapshot struct {
	SnapshotUUID string          `json:"snapshot_uuid"`
	ConflictUUID string          `json:"conflict_uuid"`
	NodeID       string          `json:"node_id"`
	StateData    json.RawMessage `json:"state_data"`
	VectorClock  VersionVector   `json:"vector_clock"`
}

// DeviceStatus is the liveness of a known peer
type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "Online"
	DeviceOffline DeviceStatus = "Offline"
	DeviceUnknown DeviceStatus = "Unknown"
)

// Device is a peer terminal known to the directory.
type Device struct {
	Name        string       `json:"name"`
	Address     string       `json:"address"`
	Port        int          `json:"port"`
	NodeID      string       `json:"node_id,omitempty"`
	ServiceType string       `json:"service_type"`
	Status      DeviceStatus `json:"status"`
	LastSeen    time.Time    `json:"last_seen"`
	Manual      bool         `json:"manual"`
}

// PeerKey identifies a peer for cursor bookkeeping. Node id when known,
// otherwise address:port.
func (d *Device) PeerKey() string {
	if d.NodeID != "" {
		return d.NodeID
	}
	return d.Endpoint()
}

// Endpoint returns host:port
func (d *Device) Endpoint() string {
	return joinHostPort(d.Address, d.Port)
}

// PeerCursor records how far replication has progressed with one peer.
// AckedPush is the highest local sequence the peer acknowledged; Pulled is
// the highest peer sequence applied locally.
type PeerCursor struct {
	PeerKey   string    `json:"peer_key"`
	AckedPush uint64    `json:"acked_push"`
	Pulled    uint64    `json:"pulled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncStatus is the externally visible replication status.
type SyncStatus struct {
	LastSync       *time.Time `json:"last_sync"`
	ConnectedPeers int        `json:"connected_peers"`
	PendingChanges int        `json:"pending_changes"`
	IsSynced       bool       `json:"is_synced"`
}

// PairRequest asks a node to add a peer by address.
type PairRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	NodeID  string `json:"node_id,omitempty"`
}

// PeerNodeHeader carries the sending node id on peer-to-peer requests.
const PeerNodeHeader = "X-VaultSync-Node"

// PushResult is a peer's acknowledgement of a pushed batch.
type PushResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
