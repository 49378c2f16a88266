package service

import (
	"encoding/json"
	"testing"
	"time"

	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/metrics"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestDirectory(clock *fakeClock) *GossipPeerDirectory {
	d := NewGossipPeerDirectory(PeerDirectoryConfig{
		NodeID:      "node-a",
		Name:        "register-1",
		SyncPort:    3000,
		ServiceName: "_vaultsync._tcp",
	}, metrics.NewMetrics(), zap.NewNop())
	d.now = clock.now
	return d
}

func gossipMeta(t *testing.T, nodeID string, port int) []byte {
	t.Helper()
	data, err := json.Marshal(GossipMeta{Version: 1, NodeID: nodeID, SyncPort: port, Service: "_vaultsync._tcp"})
	require.NoError(t, err)
	return data
}

func TestPeerDirectory_ManualAddDedupesByEndpoint(t *testing.T) {
	d := newTestDirectory(&fakeClock{t: time.Unix(1000, 0)})

	first, err := d.ManualAddDevice("register-2", "10.0.0.2", 3000, "node-b")
	require.NoError(t, err)
	assert.Equal(t, model.DeviceOnline, first.Status)
	assert.True(t, first.Manual)

	_, err = d.ManualAddDevice("back-office", "10.0.0.2", 3000, "")
	require.NoError(t, err)

	all := d.GetAllDevices()
	require.Len(t, all, 1)
	assert.Equal(t, "back-office", all[0].Name)
	assert.Equal(t, "node-b", all[0].NodeID, "node id kept when re-paired without one")
}

func TestPeerDirectory_ManualAddValidation(t *testing.T) {
	d := newTestDirectory(&fakeClock{t: time.Unix(1000, 0)})

	tests := []struct {
		name    string
		address string
		port    int
		nodeID  string
	}{
		{"empty address", " ", 3000, ""},
		{"zero port", "10.0.0.2", 0, ""},
		{"port out of range", "10.0.0.2", 70000, ""},
		{"self", "10.0.0.9", 3000, "node-a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.ManualAddDevice("x", tt.address, tt.port, tt.nodeID)
			require.Error(t, err)
			assert.True(t, synerrors.Is(err, synerrors.ErrCodeInvalidArgument))
		})
	}
	assert.Empty(t, d.GetAllDevices())
}

func TestPeerDirectory_GossipObservation(t *testing.T) {
	d := newTestDirectory(&fakeClock{t: time.Unix(1000, 0)})

	d.observe("register-2", "10.0.0.2", gossipMeta(t, "node-b", 3000))
	d.observe("register-1", "10.0.0.1", gossipMeta(t, "node-a", 3000))
	d.observe("printer", "10.0.0.5", []byte("not json"))

	other, err := json.Marshal(GossipMeta{Version: 1, NodeID: "node-x", SyncPort: 80, Service: "_other._tcp"})
	require.NoError(t, err)
	d.observe("other", "10.0.0.6", other)

	connected := d.GetConnectedDevices()
	require.Len(t, connected, 1)
	assert.Equal(t, "node-b", connected[0].NodeID)
	assert.Equal(t, "10.0.0.2:3000", connected[0].Endpoint())
	assert.False(t, connected[0].Manual)
}

func TestPeerDirectory_StaleGossipPeersGoOffline(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	d := newTestDirectory(clock)

	d.observe("register-2", "10.0.0.2", gossipMeta(t, "node-b", 3000))
	_, err := d.ManualAddDevice("register-3", "10.0.0.3", 3000, "node-c")
	require.NoError(t, err)

	clock.t = clock.t.Add(60 * time.Second)
	d.markStale()
	assert.Len(t, d.GetConnectedDevices(), 2)

	clock.t = clock.t.Add(31 * time.Second)
	d.markStale()

	connected := d.GetConnectedDevices()
	require.Len(t, connected, 1)
	assert.Equal(t, "node-c", connected[0].NodeID, "manual peers are not aged out")
	assert.Len(t, d.GetAllDevices(), 2)

	d.observe("register-2", "10.0.0.2", gossipMeta(t, "node-b", 3000))
	assert.Len(t, d.GetConnectedDevices(), 2, "seen again")
}

func TestPeerDirectory_LeaveAndRemove(t *testing.T) {
	d := newTestDirectory(&fakeClock{t: time.Unix(1000, 0)})

	d.observe("register-2", "10.0.0.2", gossipMeta(t, "node-b", 3000))
	d.forget("node-b")
	assert.Empty(t, d.GetConnectedDevices())

	assert.True(t, d.RemoveDevice("10.0.0.2", 3000))
	assert.False(t, d.RemoveDevice("10.0.0.2", 3000))
	assert.Empty(t, d.GetAllDevices())
}

func TestPeerDirectory_NodeMetaRespectsLimit(t *testing.T) {
	d := newTestDirectory(&fakeClock{t: time.Unix(1000, 0)})
	delegate := &gossipDelegate{directory: d}

	var meta GossipMeta
	require.NoError(t, json.Unmarshal(delegate.NodeMeta(512), &meta))
	assert.Equal(t, "node-a", meta.NodeID)
	assert.Equal(t, 3000, meta.SyncPort)

	assert.Nil(t, delegate.NodeMeta(4))
}
