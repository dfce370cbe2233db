package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepulse-systems/storepulse/common/envelope"
	"github.com/storepulse-systems/storepulse/ingest/internal/auth"
	"github.com/storepulse-systems/storepulse/ingest/internal/handlers"
	"github.com/storepulse-systems/storepulse/ingest/internal/models"
	"github.com/storepulse-systems/storepulse/ingest/internal/notifier"
	"github.com/storepulse-systems/storepulse/ingest/internal/repository"
	"github.com/storepulse-systems/storepulse/ingest/internal/server"
	"github.com/storepulse-systems/storepulse/ingest/internal/service"
	"github.com/storepulse-systems/storepulse/ingest/internal/tick"
)

const (
	testEdgeSecret = "fleet-secret"
	testJWTSecret  = "signing-key"
)

type testServer struct {
	handler http.Handler
	repo    *repository.InMemoryRepository
	store   *models.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := repository.NewInMemoryRepository()
	store := repo.SeedStore("org-1", "store-001", "Downtown")

	authn := auth.NewAuthenticator(testEdgeSecret, testJWTSecret)
	n := notifier.New(repo, notifier.NewLogChannel(nil), notifier.DefaultCooldowns(), nil)
	gateway := service.NewGateway(repo, authn, nil, n, nil, nil, nil, nil)
	ticker := tick.NewDriver(repo, nil, n, nil)
	h := handlers.NewEventsHandler(gateway, authn, nil, ticker, repo, nil)

	return &testServer{
		handler: server.NewRouter(h, nil),
		repo:    repo,
		store:   store,
	}
}

func heartbeatBody(t *testing.T, storeID string, occurredAt time.Time) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"event_name": "edge_heartbeat",
		"source":     "edge",
		"data": map[string]interface{}{
			"store_id":    storeID,
			"occurred_at": occurredAt.UTC().Format(time.RFC3339),
			"cameras": []map[string]interface{}{
				{"camera_id": "cam-entrance", "alive": true},
			},
			"camera_count": 1,
		},
	})
	require.NoError(t, err)
	return body
}

func (ts *testServer) post(t *testing.T, path string, body []byte, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func asEdge(req *http.Request) {
	req.Header.Set(auth.EdgeTokenHeader, testEdgeSecret)
}

func TestHandleEventRequiresCredentials(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.post(t, "/events", heartbeatBody(t, "store-001", time.Now()), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "missing_credentials", body["code"])
}

func TestHandleEventUnconfiguredSecretIsExplicit(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	repo.SeedStore("org-1", "store-001", "Downtown")
	authn := auth.NewAuthenticator("", testJWTSecret)
	n := notifier.New(repo, notifier.NewLogChannel(nil), notifier.DefaultCooldowns(), nil)
	gateway := service.NewGateway(repo, authn, nil, n, nil, nil, nil, nil)
	h := handlers.NewEventsHandler(gateway, authn, nil, tick.NewDriver(repo, nil, n, nil), repo, nil)
	router := server.NewRouter(h, nil)

	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(heartbeatBody(t, "store-001", time.Now())))
	req.Header.Set(auth.EdgeTokenHeader, "anything")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "edge_token_not_configured", body["code"])
}

func TestHandleEventNewAndReplayed(t *testing.T) {
	ts := newTestServer(t)
	body := heartbeatBody(t, "store-001", time.Now())

	rec := ts.post(t, "/events", body, asEdge)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var first handlers.IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.True(t, first.OK)
	assert.True(t, first.Stored)
	assert.False(t, first.Deduped)
	assert.NotEmpty(t, first.ReceiptID)

	rec = ts.post(t, "/events", body, asEdge)
	require.Equal(t, http.StatusOK, rec.Code)

	var second handlers.IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.True(t, second.Deduped)
	assert.Equal(t, first.ReceiptID, second.ReceiptID)
}

func TestHandleEventTopLevelReceiptID(t *testing.T) {
	ts := newTestServer(t)

	makeBody := func(msg string) []byte {
		body, err := json.Marshal(map[string]interface{}{
			"event_name": "edge_heartbeat",
			"receipt_id": "rcp_client_chosen",
			"data": map[string]interface{}{
				"store_id": "store-001",
				"note":     msg,
			},
		})
		require.NoError(t, err)
		return body
	}

	rec := ts.post(t, "/events", makeBody("first"), asEdge)
	require.Equal(t, http.StatusCreated, rec.Code)

	var first handlers.IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, "rcp_client_chosen", first.ReceiptID)

	// Different payload, same producer-asserted receipt: still a dup.
	rec = ts.post(t, "/events", makeBody("second"), asEdge)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleEventValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name     string
		body     map[string]interface{}
		wantCode string
	}{
		{
			name:     "missing event name",
			body:     map[string]interface{}{"data": map[string]interface{}{"store_id": "store-001"}},
			wantCode: "missing_event_name",
		},
		{
			name:     "missing store id",
			body:     map[string]interface{}{"event_name": "edge_heartbeat", "data": map[string]interface{}{}},
			wantCode: "invalid_store_id",
		},
		{
			name:     "unknown store",
			body:     map[string]interface{}{"event_name": "edge_heartbeat", "data": map[string]interface{}{"store_id": "store-999"}},
			wantCode: "unknown_store",
		},
		{
			name: "alert for unknown camera",
			body: map[string]interface{}{
				"event_name": "alert",
				"data": map[string]interface{}{
					"store_id":  "store-001",
					"camera_id": "cam-ghost",
					"kind":      "motion_after_hours",
					"severity":  "high",
					"message":   "movement",
				},
			},
			wantCode: "camera_not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.body)
			require.NoError(t, err)

			rec := ts.post(t, "/events", raw, asEdge)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body["code"])
			assert.NotEmpty(t, body["detail"])
		})
	}
}

func TestHandleEventStorageFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.repo.FailWrites = true
	ts.repo.WriteErr = context.DeadlineExceeded

	rec := ts.post(t, "/events", heartbeatBody(t, "store-001", time.Now()), asEdge)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body handlers.StorageFailureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.OK)
	assert.False(t, body.Stored)
	assert.Equal(t, "db_write_failed", body.Reason)
}

func TestHandleEventOrgMismatch(t *testing.T) {
	ts := newTestServer(t)

	token, err := auth.SignBearer(testJWTSecret, "org-2", time.Hour)
	require.NoError(t, err)

	rec := ts.post(t, "/events", heartbeatBody(t, "store-001", time.Now()), func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleStoreLiveness(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.post(t, "/events", heartbeatBody(t, "store-001", time.Now()), asEdge)
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stores/store-001/liveness", nil)
	asEdge(req)
	get := httptest.NewRecorder()
	ts.handler.ServeHTTP(get, req)
	require.Equal(t, http.StatusOK, get.Code)

	var snap struct {
		Status  string `json:"status"`
		Reason  string `json:"reason"`
		Cameras []struct {
			ExternalID string `json:"external_id"`
			Status     string `json:"status"`
		} `json:"cameras"`
	}
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &snap))
	assert.Equal(t, "online", snap.Status)
	assert.Equal(t, "all_cameras_online", snap.Reason)
	require.Len(t, snap.Cameras, 1)
	assert.Equal(t, "cam-entrance", snap.Cameras[0].ExternalID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stores/store-404/liveness", nil)
	asEdge(req)
	miss := httptest.NewRecorder()
	ts.handler.ServeHTTP(miss, req)
	assert.Equal(t, http.StatusNotFound, miss.Code)
}

func TestHandleLivenessOverviewFiltersByOrg(t *testing.T) {
	ts := newTestServer(t)
	ts.repo.SeedStore("org-2", "store-777", "Elsewhere")

	token, err := auth.SignBearer(testJWTSecret, "org-2", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/liveness", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count  int `json:"count"`
		Stores []struct {
			ExternalID string `json:"external_id"`
		} `json:"stores"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "store-777", body.Stores[0].ExternalID)
}

func TestHandleTick(t *testing.T) {
	ts := newTestServer(t)

	// One heartbeat, then a long silence; the sweep must announce the
	// store offline even though no further request arrives.
	rec := ts.post(t, "/events", heartbeatBody(t, "store-001", time.Now().Add(-61*time.Minute)), asEdge)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.post(t, "/internal/tick", nil, asEdge)
	require.Equal(t, http.StatusOK, rec.Code)

	var result tick.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.StoresChecked)
	assert.GreaterOrEqual(t, result.Transitions, 1)

	var sawOffline bool
	for _, entry := range ts.repo.LedgerEntries() {
		if entry.Direction == models.DirectionOut &&
			entry.EventName == envelope.EventStoreStatusChanged &&
			entry.CurrentStatus == models.StatusOffline {
			sawOffline = true
		}
	}
	assert.True(t, sawOffline)
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
