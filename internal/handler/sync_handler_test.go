package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/Synaptikal/VaultSync-sub001/internal/service"
	"github.com/Synaptikal/VaultSync-sub001/internal/store"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) SyncWithPeers(ctx context.Context) (*service.SyncReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SyncReport), args.Error(1)
}

func (m *mockEngine) ApplyChanges(ctx context.Context, peerID string, changes []model.ChangeRecord) (*service.ApplyReport, error) {
	args := m.Called(ctx, peerID, changes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ApplyReport), args.Error(1)
}

func (m *mockEngine) GetStatus(ctx context.Context) (*model.SyncStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SyncStatus), args.Error(1)
}

func (m *mockEngine) ManualPair(ctx context.Context, name, address string, port int, nodeID string) (*model.Device, error) {
	args := m.Called(ctx, name, address, port, nodeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockEngine) GetDevices(ctx context.Context) ([]model.Device, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.Device), args.Error(1)
}

type mockChangeSource struct {
	mock.Mock
}

func (m *mockChangeSource) ChangesSince(ctx context.Context, sinceClock uint64, limit int) ([]model.ChangeRecord, error) {
	args := m.Called(ctx, sinceClock, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ChangeRecord), args.Error(1)
}

type mockConflicts struct {
	mock.Mock
}

func (m *mockConflicts) ListConflicts(ctx context.Context, status model.ResolutionStatus, limit int) ([]*model.SyncConflict, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.SyncConflict), args.Error(1)
}

func (m *mockConflicts) GetConflict(ctx context.Context, conflictUUID string) (*model.SyncConflict, error) {
	args := m.Called(ctx, conflictUUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SyncConflict), args.Error(1)
}

func (m *mockConflicts) ResolveConflict(ctx context.Context, conflictUUID string, status model.ResolutionStatus) error {
	return m.Called(ctx, conflictUUID, status).Error(0)
}

type syncFixture struct {
	engine    *mockEngine
	changes   *mockChangeSource
	conflicts *mockConflicts
	handler   *SyncHandler
}

func newSyncFixture(dedupe store.PushDedupeStore) *syncFixture {
	logger := zap.NewNop()
	f := &syncFixture{
		engine:    new(mockEngine),
		changes:   new(mockChangeSource),
		conflicts: new(mockConflicts),
	}
	f.handler = NewSyncHandler(f.engine, f.changes, f.conflicts, dedupe, time.Hour, synerrors.NewHandler(logger), logger)
	return f
}

func pushRequest(t *testing.T, peer string, changes []model.ChangeRecord) *http.Request {
	t.Helper()
	body, err := json.Marshal(changes)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/sync/push", bytes.NewReader(body))
	req.Header.Set(model.PeerNodeHeader, peer)
	return req
}

var pushedBatch = []model.ChangeRecord{
	{RecordID: "prod-1", RecordType: model.RecordTypeProduct, Operation: model.OpInsert, Data: json.RawMessage(`{}`), VectorTimestamp: model.VersionVector{"node-b": 1}, SequenceNumber: 1},
	{RecordID: "prod-2", RecordType: model.RecordTypeProduct, Operation: model.OpInsert, Data: json.RawMessage(`{}`), VectorTimestamp: model.VersionVector{"node-b": 2}, SequenceNumber: 2},
}

func TestSyncHandler_Push(t *testing.T) {
	f := newSyncFixture(nil)
	f.engine.On("ApplyChanges", mock.Anything, "node-b", mock.MatchedBy(func(c []model.ChangeRecord) bool {
		return len(c) == 2
	})).Return(&service.ApplyReport{Applied: 1, Rejected: 1}, nil)

	w := httptest.NewRecorder()
	f.handler.Push(w, pushRequest(t, "node-b", pushedBatch))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"accepted":1,"rejected":1}`, w.Body.String())
}

func TestSyncHandler_PushInvalidBody(t *testing.T) {
	f := newSyncFixture(nil)

	req := httptest.NewRequest(http.MethodPost, "/sync/push", bytes.NewBufferString(`{"record_id":"x"}`))
	w := httptest.NewRecorder()
	f.handler.Push(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.engine.AssertNotCalled(t, "ApplyChanges", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncHandler_PushDuplicateBatchAcknowledged(t *testing.T) {
	f := newSyncFixture(store.NewInMemoryPushDedupeStore(100, zap.NewNop()))
	f.engine.On("ApplyChanges", mock.Anything, "node-b", mock.Anything).
		Return(&service.ApplyReport{Applied: 2}, nil).Once()

	w := httptest.NewRecorder()
	f.handler.Push(w, pushRequest(t, "node-b", pushedBatch))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	f.handler.Push(w, pushRequest(t, "node-b", pushedBatch))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"accepted":2,"rejected":0}`, w.Body.String())

	f.engine.AssertNumberOfCalls(t, "ApplyChanges", 1)
}

func TestSyncHandler_PushOverloadedIsRetryable(t *testing.T) {
	f := newSyncFixture(store.NewInMemoryPushDedupeStore(100, zap.NewNop()))
	f.engine.On("ApplyChanges", mock.Anything, "node-b", mock.Anything).
		Return(nil, synerrors.Overloaded("sync mailbox", 64)).Once()
	f.engine.On("ApplyChanges", mock.Anything, "node-b", mock.Anything).
		Return(&service.ApplyReport{Applied: 2}, nil).Once()

	w := httptest.NewRecorder()
	f.handler.Push(w, pushRequest(t, "node-b", pushedBatch))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = httptest.NewRecorder()
	f.handler.Push(w, pushRequest(t, "node-b", pushedBatch))
	assert.Equal(t, http.StatusAccepted, w.Code, "failed batch is forgotten so the retry applies")
	f.engine.AssertNumberOfCalls(t, "ApplyChanges", 2)
}

func TestSyncHandler_PushMixedBatchAppliesValidRecords(t *testing.T) {
	f := newSyncFixture(nil)
	f.engine.On("ApplyChanges", mock.Anything, "node-b", mock.MatchedBy(func(c []model.ChangeRecord) bool {
		return len(c) == 2 && c[0].RecordID == "prod-1" && c[1].RecordID == "widget-1"
	})).Return(&service.ApplyReport{Applied: 1, Rejected: 1}, nil)

	body := `[
		{"record_id":"prod-1","record_type":"Product","operation":"Insert","data":{},"vector_timestamp":{"node-b":1},"sequence_number":1},
		{"record_id":"widget-1","record_type":"Widget","operation":"Insert","data":{},"vector_timestamp":{"node-b":2},"sequence_number":2},
		{"record_id":"bad-vv","record_type":"Product","operation":"Insert","data":{},"vector_timestamp":[1],"sequence_number":3}
	]`
	req := httptest.NewRequest(http.MethodPost, "/sync/push", bytes.NewBufferString(body))
	req.Header.Set(model.PeerNodeHeader, "node-b")
	w := httptest.NewRecorder()
	f.handler.Push(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"accepted":1,"rejected":2}`, w.Body.String())
	f.engine.AssertExpectations(t)
}

func TestSyncHandler_PushWithFailedRecordIsRetried(t *testing.T) {
	f := newSyncFixture(store.NewInMemoryPushDedupeStore(100, zap.NewNop()))
	f.engine.On("ApplyChanges", mock.Anything, "node-b", mock.Anything).
		Return(&service.ApplyReport{Applied: 1, Failed: 1}, nil).Once()
	f.engine.On("ApplyChanges", mock.Anything, "node-b", mock.Anything).
		Return(&service.ApplyReport{Applied: 1, Ignored: 1}, nil).Once()

	w := httptest.NewRecorder()
	f.handler.Push(w, pushRequest(t, "node-b", pushedBatch))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp synerrors.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.EqualValues(t, 1, resp.Details["failed"])

	w = httptest.NewRecorder()
	f.handler.Push(w, pushRequest(t, "node-b", pushedBatch))
	assert.Equal(t, http.StatusAccepted, w.Code, "the batch is not remembered as delivered")
	assert.JSONEq(t, `{"accepted":2,"rejected":0}`, w.Body.String())
	f.engine.AssertNumberOfCalls(t, "ApplyChanges", 2)
}

func TestSyncHandler_Pull(t *testing.T) {
	f := newSyncFixture(nil)
	f.changes.On("ChangesSince", mock.Anything, uint64(5), 20).Return(pushedBatch, nil)

	w := httptest.NewRecorder()
	f.handler.Pull(w, httptest.NewRequest(http.MethodGet, "/sync/pull?since_clock=5&limit=20", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var got []model.ChangeRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 2)
}

func TestSyncHandler_PullValidation(t *testing.T) {
	f := newSyncFixture(nil)

	for _, url := range []string{
		"/sync/pull?since_clock=abc",
		"/sync/pull?since_clock=-1",
		"/sync/pull?since_clock=1&limit=x",
	} {
		t.Run(url, func(t *testing.T) {
			w := httptest.NewRecorder()
			f.handler.Pull(w, httptest.NewRequest(http.MethodGet, url, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	f.changes.AssertNotCalled(t, "ChangesSince", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncHandler_PullDefaultsToZero(t *testing.T) {
	f := newSyncFixture(nil)
	f.changes.On("ChangesSince", mock.Anything, uint64(0), 0).Return([]model.ChangeRecord{}, nil)

	w := httptest.NewRecorder()
	f.handler.Pull(w, httptest.NewRequest(http.MethodGet, "/sync/pull", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestSyncHandler_StatusActorUnavailable(t *testing.T) {
	f := newSyncFixture(nil)
	f.engine.On("GetStatus", mock.Anything).Return(nil, synerrors.ActorUnavailable())

	w := httptest.NewRecorder()
	f.handler.Status(w, httptest.NewRequest(http.MethodGet, "/sync/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSyncHandler_Pair(t *testing.T) {
	f := newSyncFixture(nil)
	f.engine.On("ManualPair", mock.Anything, "register-2", "10.0.0.2", 3000, "").
		Return(&model.Device{Name: "register-2", Address: "10.0.0.2", Port: 3000, Manual: true}, nil)
	f.engine.On("ManualPair", mock.Anything, "bad", "", 3000, "").
		Return(nil, synerrors.InvalidArgument("address is required", nil))

	w := httptest.NewRecorder()
	f.handler.Pair(w, httptest.NewRequest(http.MethodPost, "/sync/pair",
		bytes.NewBufferString(`{"name":"register-2","address":"10.0.0.2","port":3000}`)))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	f.handler.Pair(w, httptest.NewRequest(http.MethodPost, "/sync/pair",
		bytes.NewBufferString(`{"name":"bad","address":"","port":3000}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "address is required")
}

func TestSyncHandler_ResolveConflict(t *testing.T) {
	f := newSyncFixture(nil)
	f.conflicts.On("ResolveConflict", mock.Anything, "c-1", model.ResolutionIgnored).Return(nil)
	f.conflicts.On("ResolveConflict", mock.Anything, "missing", model.ResolutionResolved).
		Return(synerrors.NotFound("conflict", "missing"))

	req := httptest.NewRequest(http.MethodPost, "/sync/conflicts/c-1/resolve", bytes.NewBufferString(`{"status":"Ignored"}`))
	req = mux.SetURLVars(req, map[string]string{"id": "c-1"})
	w := httptest.NewRecorder()
	f.handler.ResolveConflict(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/sync/conflicts/missing/resolve", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "missing"})
	w = httptest.NewRecorder()
	f.handler.ResolveConflict(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncHandler_ListConflicts(t *testing.T) {
	f := newSyncFixture(nil)
	f.conflicts.On("ListConflicts", mock.Anything, model.ResolutionPending, 10).
		Return([]*model.SyncConflict{{ConflictUUID: "c-1", Status: model.ResolutionPending}}, nil)

	w := httptest.NewRecorder()
	f.handler.ListConflicts(w, httptest.NewRequest(http.MethodGet, "/sync/conflicts?status=Pending&limit=10", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"conflict_uuid":"c-1"`)
}
