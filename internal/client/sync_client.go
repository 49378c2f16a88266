// Package client implements the HTTP side of the peer sync protocol.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// SyncClient pushes to and pulls from peer terminals.
type SyncClient struct {
	http        *resty.Client
	nodeID      string
	pushTimeout time.Duration
	pullTimeout time.Duration
	logger      *zap.Logger
}

// NewSyncClient creates a new sync client
func NewSyncClient(nodeID string, pushTimeout, pullTimeout time.Duration, logger *zap.Logger) *SyncClient {
	return &SyncClient{
		http: resty.New().
			SetHeader("Content-Type", "application/json").
			SetHeader(model.PeerNodeHeader, nodeID),
		nodeID:      nodeID,
		pushTimeout: pushTimeout,
		pullTimeout: pullTimeout,
		logger:      logger,
	}
}

// Push sends changes to the peer's /sync/push endpoint.
func (c *SyncClient) Push(ctx context.Context, device model.Device, changes []model.ChangeRecord) (*model.PushResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pushTimeout)
	defer cancel()

	var result model.PushResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(changes).
		SetResult(&result).
		Post(baseURL(device) + "/sync/push")
	if err != nil {
		return nil, synerrors.PeerUnreachable(device.PeerKey(), err)
	}
	if resp.StatusCode() != http.StatusAccepted && resp.StatusCode() != http.StatusOK {
		return nil, unexpectedStatus(device, "push", resp)
	}

	c.logger.Debug("Pushed changes",
		zap.String("peer", device.PeerKey()),
		zap.Int("sent", len(changes)),
		zap.Int("accepted", result.Accepted),
		zap.Int("rejected", result.Rejected))
	return &result, nil
}

// Pull fetches records above sinceClock from the peer's /sync/pull endpoint.
// The page is decoded element by element. An element that cannot be decoded
// is logged; if its sequence number is readable it is returned as a bare
// placeholder, which fails validation, so the pull cursor still moves past it.
func (c *SyncClient) Pull(ctx context.Context, device model.Device, sinceClock uint64, limit int) ([]model.ChangeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pullTimeout)
	defer cancel()

	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("since_clock", strconv.FormatUint(sinceClock, 10))
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}

	resp, err := req.Get(baseURL(device) + "/sync/pull")
	if err != nil {
		return nil, synerrors.PeerUnreachable(device.PeerKey(), err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, unexpectedStatus(device, "pull", resp)
	}

	records, malformed, err := model.DecodeChangeBatch(resp.Body())
	if err != nil {
		return nil, synerrors.Serialization(fmt.Sprintf("peer %s sent an unreadable pull page", device.PeerKey()), err)
	}
	for _, m := range malformed {
		c.logger.Warn("Dropped undecodable pulled change",
			zap.String("peer", device.PeerKey()),
			zap.Int("index", m.Index),
			zap.String("record_id", m.RecordID),
			zap.Uint64("sequence", m.Sequence),
			zap.Error(m.Err))
		if m.Sequence > 0 {
			records = append(records, model.ChangeRecord{RecordID: m.RecordID, SequenceNumber: m.Sequence})
		}
	}
	if len(malformed) > 0 {
		sort.SliceStable(records, func(i, j int) bool { return records[i].SequenceNumber < records[j].SequenceNumber })
	}
	return records, nil
}

// Status reads the sync status of the node at baseURL.
func (c *SyncClient) Status(ctx context.Context, baseURL string) (*model.SyncStatus, error) {
	var status model.SyncStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&status).
		Get(baseURL + "/sync/status")
	if err != nil {
		return nil, synerrors.Unavailable("node unreachable", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /sync/status: %d %s", resp.StatusCode(), resp.String())
	}
	return &status, nil
}

// Pair asks the node at baseURL to add a peer by address.
func (c *SyncClient) Pair(ctx context.Context, baseURL string, pair model.PairRequest) (*model.Device, error) {
	var device model.Device
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(pair).
		SetResult(&device).
		Post(baseURL + "/sync/pair")
	if err != nil {
		return nil, synerrors.Unavailable("node unreachable", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("POST /sync/pair: %d %s", resp.StatusCode(), resp.String())
	}
	return &device, nil
}

func baseURL(device model.Device) string {
	return "http://" + device.Endpoint()
}

func unexpectedStatus(device model.Device, op string, resp *resty.Response) error {
	cause := fmt.Errorf("%s returned %d: %s", op, resp.StatusCode(), resp.String())
	if resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests {
		return synerrors.PeerUnreachable(device.PeerKey(), cause)
	}
	return synerrors.InternalError(fmt.Sprintf("peer %s rejected %s", device.PeerKey(), op), cause).
		WithDetail("status", resp.StatusCode())
}
