package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/Synaptikal/VaultSync-sub001/internal/service"
	"github.com/Synaptikal/VaultSync-sub001/internal/store"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxPushBodyBytes = 16 << 20

// SyncHandler serves the peer sync protocol and the replication admin API.
type SyncHandler struct {
	engine       SyncEngine
	changes      ChangeSource
	conflicts    ConflictManager
	dedupe       store.PushDedupeStore
	dedupeTTL    time.Duration
	errorHandler *synerrors.Handler
	logger       *zap.Logger
}

// NewSyncHandler creates a new sync handler. dedupe may be nil.
func NewSyncHandler(
	engine SyncEngine,
	changes ChangeSource,
	conflicts ConflictManager,
	dedupe store.PushDedupeStore,
	dedupeTTL time.Duration,
	errorHandler *synerrors.Handler,
	logger *zap.Logger,
) *SyncHandler {
	return &SyncHandler{
		engine:       engine,
		changes:      changes,
		conflicts:    conflicts,
		dedupe:       dedupe,
		dedupeTTL:    dedupeTTL,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// Push handles POST /sync/push. The batch is applied through the actor and
// acknowledged with 202. A batch already seen from the same peer is
// acknowledged without being applied again.
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBodyBytes))
	if err != nil {
		h.errorHandler.WriteValidationError(w, "failed to read request body", requestID)
		return
	}

	changes, malformed, err := model.DecodeChangeBatch(body)
	if err != nil {
		h.errorHandler.WriteValidationError(w, "body must be a JSON array of change records", requestID)
		return
	}

	peerID := senderOf(r)
	for _, m := range malformed {
		h.logger.Warn("Rejected undecodable change",
			zap.String("peer", peerID),
			zap.Int("index", m.Index),
			zap.String("record_id", m.RecordID),
			zap.Uint64("sequence", m.Sequence),
			zap.Error(m.Err))
	}

	key := batchKey(peerID, body)
	if h.dedupe != nil {
		fresh, err := h.dedupe.MarkSeen(r.Context(), key, h.dedupeTTL)
		if err != nil {
			h.logger.Warn("Push dedupe unavailable, applying batch",
				zap.String("peer", peerID),
				zap.Error(err))
		} else if !fresh {
			h.logger.Debug("Duplicate push batch acknowledged",
				zap.String("peer", peerID),
				zap.Int("records", len(changes)))
			writeJSONResponse(w, h.logger, http.StatusAccepted, model.PushResult{
				Accepted: len(changes),
				Rejected: len(malformed),
			})
			return
		}
	}

	report := &service.ApplyReport{}
	if len(changes) > 0 {
		report, err = h.engine.ApplyChanges(r.Context(), peerID, changes)
	}
	if err == nil && report.Failed > 0 {
		err = synerrors.Unavailable("some changes could not be applied, retry the batch", nil).
			WithDetail("failed", report.Failed)
	}
	if err != nil {
		h.forget(r, key)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	writeJSONResponse(w, h.logger, http.StatusAccepted, model.PushResult{
		Accepted: report.Accepted(),
		Rejected: report.Rejected + len(malformed),
	})
}

// forget drops the dedupe mark of a batch that must be re-sent.
func (h *SyncHandler) forget(r *http.Request, key string) {
	if h.dedupe == nil {
		return
	}
	if err := h.dedupe.Forget(r.Context(), key); err != nil {
		h.logger.Warn("Failed to forget push batch", zap.Error(err))
	}
}

// Pull handles GET /sync/pull?since_clock=N&limit=M.
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	query := r.URL.Query()

	var since uint64
	if raw := query.Get("since_clock"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.errorHandler.WriteValidationError(w, "since_clock must be a non-negative integer", requestID)
			return
		}
		since = v
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			h.errorHandler.WriteValidationError(w, "limit must be a non-negative integer", requestID)
			return
		}
		limit = v
	}

	changes, err := h.changes.ChangesSince(r.Context(), since, limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, changes)
}

// Status handles GET /sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.GetStatus(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, status)
}

// SyncNow handles POST /sync/now and runs one replication round.
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.SyncWithPeers(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, report)
}

// Devices handles GET /sync/devices.
func (h *SyncHandler) Devices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.engine.GetDevices(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, devices)
}

// Pair handles POST /sync/pair.
func (h *SyncHandler) Pair(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req model.PairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid JSON body", requestID)
		return
	}

	device, err := h.engine.ManualPair(r.Context(), req.Name, req.Address, req.Port, req.NodeID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusCreated, device)
}

// ListConflicts handles GET /sync/conflicts?status=Pending&limit=N.
func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			h.errorHandler.WriteValidationError(w, "limit must be a non-negative integer", requestID)
			return
		}
		limit = v
	}

	status := model.ResolutionStatus(r.URL.Query().Get("status"))
	conflicts, err := h.conflicts.ListConflicts(r.Context(), status, limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, conflicts)
}

// GetConflict handles GET /sync/conflicts/{id}.
func (h *SyncHandler) GetConflict(w http.ResponseWriter, r *http.Request) {
	conflict, err := h.conflicts.GetConflict(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, conflict)
}

// ResolveConflictRequest is the body of POST /sync/conflicts/{id}/resolve.
type ResolveConflictRequest struct {
	Status model.ResolutionStatus `json:"status"`
}

// ResolveConflict handles POST /sync/conflicts/{id}/resolve.
func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	id := mux.Vars(r)["id"]

	req := ResolveConflictRequest{Status: model.ResolutionResolved}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.errorHandler.WriteValidationError(w, "invalid JSON body", requestID)
		return
	}

	if err := h.conflicts.ResolveConflict(r.Context(), id, req.Status); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, map[string]string{
		"conflict_uuid": id,
		"status":        string(req.Status),
	})
}

// senderOf names the pushing peer: its node header, else its address.
func senderOf(r *http.Request) string {
	if id := r.Header.Get(model.PeerNodeHeader); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func batchKey(peerID string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(peerID))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}
