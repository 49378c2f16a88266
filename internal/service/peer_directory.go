package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/metrics"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

const gossipMetaVersion = 1

// GossipMeta is the node metadata advertised to other terminals.
type GossipMeta struct {
	Version  int    `json:"version"`
	NodeID   string `json:"node_id"`
	SyncPort int    `json:"sync_port"`
	Service  string `json:"service"`
}

// PeerDirectoryConfig holds peer discovery configuration
type PeerDirectoryConfig struct {
	NodeID           string
	Name             string
	SyncPort         int
	ServiceName      string
	StaleThreshold   time.Duration
	StaleCheckPeriod time.Duration
}

// GossipConfig holds the memberlist transport settings
type GossipConfig struct {
	BindAddr      string
	BindPort      int
	AdvertiseAddr string
	SeedNodes     []string
}

// GossipPeerDirectory tracks peer terminals found through gossip or added by
// hand. Devices are keyed by address:port.
type GossipPeerDirectory struct {
	cfg        PeerDirectoryConfig
	memberlist *memberlist.Memberlist
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.RWMutex
	devices map[string]*model.Device
}

// NewGossipPeerDirectory creates a directory without gossip. Call
// StartGossip to join the LAN membership.
func NewGossipPeerDirectory(cfg PeerDirectoryConfig, m *metrics.Metrics, logger *zap.Logger) *GossipPeerDirectory {
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 90 * time.Second
	}
	if cfg.StaleCheckPeriod <= 0 {
		cfg.StaleCheckPeriod = 30 * time.Second
	}
	return &GossipPeerDirectory{
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		devices: make(map[string]*model.Device),
	}
}

// StartGossip creates the memberlist and joins any seed nodes.
func (d *GossipPeerDirectory) StartGossip(gc GossipConfig) error {
	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = d.cfg.NodeID
	if gc.BindAddr != "" {
		mlConfig.BindAddr = gc.BindAddr
	}
	mlConfig.BindPort = gc.BindPort
	mlConfig.AdvertisePort = gc.BindPort
	if gc.AdvertiseAddr != "" {
		mlConfig.AdvertiseAddr = gc.AdvertiseAddr
	}
	mlConfig.Delegate = &gossipDelegate{directory: d}
	mlConfig.Events = &gossipEventDelegate{directory: d}
	mlConfig.Logger = zap.NewStdLog(d.logger.Named("memberlist"))

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return fmt.Errorf("failed to create memberlist: %w", err)
	}
	d.memberlist = ml

	if len(gc.SeedNodes) > 0 {
		joined, err := ml.Join(gc.SeedNodes)
		if err != nil {
			d.logger.Warn("Failed to join some seed nodes",
				zap.Strings("seeds", gc.SeedNodes),
				zap.Error(err))
		}
		d.logger.Info("Joined gossip cluster", zap.Int("contacted", joined))
	}
	return nil
}

// Run marks silent gossip peers offline every StaleCheckPeriod until ctx is
// cancelled.
func (d *GossipPeerDirectory) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.StaleCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.refreshMembers()
			d.markStale()
		}
	}
}

// Shutdown leaves the gossip cluster.
func (d *GossipPeerDirectory) Shutdown() error {
	if d.memberlist == nil {
		return nil
	}
	if err := d.memberlist.Leave(time.Second); err != nil {
		d.logger.Warn("Failed to leave gossip cluster", zap.Error(err))
	}
	return d.memberlist.Shutdown()
}

// ManualAddDevice adds or refreshes a peer by address. Manual devices are
// treated as online and are not aged out by the stale check.
func (d *GossipPeerDirectory) ManualAddDevice(name, address string, port int, nodeID string) (model.Device, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return model.Device{}, synerrors.InvalidArgument("address is required", nil)
	}
	if port <= 0 || port > 65535 {
		return model.Device{}, synerrors.InvalidArgument(fmt.Sprintf("invalid port: %d", port), nil)
	}
	if nodeID != "" && nodeID == d.cfg.NodeID {
		return model.Device{}, synerrors.InvalidArgument("cannot pair with self", nil)
	}
	if name == "" {
		name = address
	}

	device := model.Device{
		Name:        name,
		Address:     address,
		Port:        port,
		NodeID:      nodeID,
		ServiceType: d.cfg.ServiceName,
		Status:      model.DeviceOnline,
		LastSeen:    d.now(),
		Manual:      true,
	}

	d.mu.Lock()
	if existing, ok := d.devices[device.Endpoint()]; ok && device.NodeID == "" {
		device.NodeID = existing.NodeID
	}
	d.devices[device.Endpoint()] = &device
	d.mu.Unlock()

	d.logger.Info("Device paired manually",
		zap.String("name", name),
		zap.String("endpoint", device.Endpoint()),
		zap.String("node_id", nodeID))
	d.updateMetrics()
	return device, nil
}

// RemoveDevice forgets a peer. It reports whether the peer was known.
func (d *GossipPeerDirectory) RemoveDevice(address string, port int) bool {
	key := (&model.Device{Address: address, Port: port}).Endpoint()

	d.mu.Lock()
	_, ok := d.devices[key]
	delete(d.devices, key)
	d.mu.Unlock()

	if ok {
		d.updateMetrics()
	}
	return ok
}

// GetConnectedDevices returns online peers ordered by endpoint.
func (d *GossipPeerDirectory) GetConnectedDevices() []model.Device {
	return d.list(func(dev *model.Device) bool { return dev.Status == model.DeviceOnline })
}

// GetAllDevices returns every known peer ordered by endpoint.
func (d *GossipPeerDirectory) GetAllDevices() []model.Device {
	return d.list(func(*model.Device) bool { return true })
}

func (d *GossipPeerDirectory) list(keep func(*model.Device) bool) []model.Device {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]model.Device, 0, len(d.devices))
	for _, dev := range d.devices {
		if keep(dev) {
			out = append(out, *dev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint() < out[j].Endpoint() })
	return out
}

// observe records a gossip sighting of a peer.
func (d *GossipPeerDirectory) observe(name, address string, meta []byte) {
	var m GossipMeta
	if err := json.Unmarshal(meta, &m); err != nil {
		d.logger.Debug("Ignoring member without sync metadata",
			zap.String("name", name),
			zap.Error(err))
		return
	}
	if m.Service != d.cfg.ServiceName || m.NodeID == "" || m.NodeID == d.cfg.NodeID || m.SyncPort <= 0 {
		return
	}

	device := model.Device{
		Name:        name,
		Address:     address,
		Port:        m.SyncPort,
		NodeID:      m.NodeID,
		ServiceType: m.Service,
		Status:      model.DeviceOnline,
		LastSeen:    d.now(),
	}

	d.mu.Lock()
	existing, known := d.devices[device.Endpoint()]
	if known && existing.Manual {
		existing.NodeID = m.NodeID
		existing.Status = model.DeviceOnline
		existing.LastSeen = device.LastSeen
	} else {
		d.devices[device.Endpoint()] = &device
	}
	d.mu.Unlock()

	if !known {
		d.logger.Info("Discovered peer",
			zap.String("node_id", m.NodeID),
			zap.String("endpoint", device.Endpoint()))
	}
	d.updateMetrics()
}

// forget marks a departed gossip peer offline.
func (d *GossipPeerDirectory) forget(nodeID string) {
	d.mu.Lock()
	for _, dev := range d.devices {
		if dev.NodeID == nodeID && !dev.Manual {
			dev.Status = model.DeviceOffline
		}
	}
	d.mu.Unlock()
	d.updateMetrics()
}

func (d *GossipPeerDirectory) refreshMembers() {
	if d.memberlist == nil {
		return
	}
	for _, node := range d.memberlist.Members() {
		if node.Name == d.cfg.NodeID {
			continue
		}
		d.observe(node.Name, node.Addr.String(), node.Meta)
	}
}

// markStale moves gossip peers not seen within StaleThreshold to Offline.
func (d *GossipPeerDirectory) markStale() {
	cutoff := d.now().Add(-d.cfg.StaleThreshold)

	d.mu.Lock()
	for _, dev := range d.devices {
		if dev.Manual || dev.Status == model.DeviceOffline {
			continue
		}
		if dev.LastSeen.Before(cutoff) {
			dev.Status = model.DeviceOffline
			d.logger.Info("Peer marked offline",
				zap.String("node_id", dev.NodeID),
				zap.String("endpoint", dev.Endpoint()),
				zap.Time("last_seen", dev.LastSeen))
		}
	}
	d.mu.Unlock()
	d.updateMetrics()
}

func (d *GossipPeerDirectory) updateMetrics() {
	counts := map[model.DeviceStatus]int{
		model.DeviceOnline:  0,
		model.DeviceOffline: 0,
		model.DeviceUnknown: 0,
	}
	d.mu.RLock()
	for _, dev := range d.devices {
		counts[dev.Status]++
	}
	d.mu.RUnlock()

	for status, n := range counts {
		d.metrics.SetPeers(string(status), n)
	}
}

func (d *GossipPeerDirectory) localMeta() []byte {
	data, _ := json.Marshal(GossipMeta{
		Version:  gossipMetaVersion,
		NodeID:   d.cfg.NodeID,
		SyncPort: d.cfg.SyncPort,
		Service:  d.cfg.ServiceName,
	})
	return data
}

// gossipDelegate implements memberlist.Delegate
type gossipDelegate struct {
	directory *GossipPeerDirectory
}

func (g *gossipDelegate) NodeMeta(limit int) []byte {
	data := g.directory.localMeta()
	if len(data) > limit {
		g.directory.logger.Error("Gossip metadata exceeds limit", zap.Int("limit", limit))
		return nil
	}
	return data
}

func (g *gossipDelegate) NotifyMsg([]byte) {}

func (g *gossipDelegate) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

func (g *gossipDelegate) LocalState(join bool) []byte {
	return nil
}

func (g *gossipDelegate) MergeRemoteState(buf []byte, join bool) {}

// gossipEventDelegate implements memberlist.EventDelegate
type gossipEventDelegate struct {
	directory *GossipPeerDirectory
}

func (e *gossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	e.directory.observe(node.Name, node.Addr.String(), node.Meta)
}

func (e *gossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	e.directory.logger.Info("Peer left", zap.String("node_id", node.Name))
	e.directory.forget(node.Name)
}

func (e *gossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	e.directory.observe(node.Name, node.Addr.String(), node.Meta)
}
