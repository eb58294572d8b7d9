package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"workshop/internal/errors"
	"workshop/internal/events"
	"workshop/internal/healer"
	"workshop/internal/health"
	"workshop/internal/heartbeat"
	"workshop/internal/incident"
	"workshop/internal/operations"
	"workshop/internal/service"
	"workshop/internal/testutil"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	server   *Server
	ops      *operations.Workshop
	launcher *testutil.FakeLauncher
	healthy  *atomic.Bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	healthy := &atomic.Bool{}
	healthy.Store(true)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(upstream.Close)

	reg := testutil.NewRegistry(t,
		testutil.Svc("elaine").Group("Core").HealthURL(upstream.URL),
		testutil.Svc("foreperson", "elaine").Group("Core").HealthURL(upstream.URL),
		testutil.Svc("sophia").Group("Ghost").Ghost(),
	)
	launcher := testutil.NewFakeLauncher()
	checker := health.NewHTTPChecker(time.Second)
	mgr := service.NewManager(reg, launcher, checker, service.Config{
		StartTimeout:      time.Second,
		ReadyPollInterval: 10 * time.Millisecond,
		StopGrace:         100 * time.Millisecond,
	})
	incidents := incident.NewLogger(testutil.NewIncidentDB(t))
	h := healer.New(mgr, incidents, nil, healer.Config{FailureThreshold: 1, SuccessThreshold: 1, ActionTimeout: 5 * time.Second})
	hb := heartbeat.NewEngine(50, nil)
	loop := health.NewLoop(reg, mgr, checker, hb, h, time.Hour)

	ops := operations.NewWorkshop(operations.Deps{
		Registry:  reg,
		Manager:   mgr,
		Loop:      loop,
		Heartbeat: hb,
		Healer:    h,
		Incidents: incidents,
		Hub:       events.NewHub(),
	})
	return &testServer{server: New(DefaultConfig(), ops), ops: ops, launcher: launcher, healthy: healthy}
}

func (ts *testServer) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req, err := testutil.NewJSONRequest(method, target, body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SystemStatusResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 3, resp.Services)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestServiceEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/services", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string]interface{}](t, rec)
	assert.EqualValues(t, 3, list["total"])

	rec = ts.do(t, http.MethodPost, "/api/services/foreperson/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	info := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "foreperson", info["id"])
	assert.Equal(t, "healthy", info["state"].(map[string]interface{})["status"])
	assert.Equal(t, []string{"elaine", "foreperson"}, ts.launcher.Launches())

	rec = ts.do(t, http.MethodPost, "/api/services/foreperson/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/services/foreperson/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info = decode[map[string]interface{}](t, rec)
	assert.Equal(t, "stopped", info["state"].(map[string]interface{})["status"])

	rec = ts.do(t, http.MethodPost, "/api/services/foreperson/restart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServiceErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/services/nobody", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := testutil.ParseErrorResponse(rec.Body)
	assert.Equal(t, errors.ErrUnknownService, body.Error.Code)

	rec = ts.do(t, http.MethodPost, "/api/services/sophia/start", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	body = testutil.ParseErrorResponse(rec.Body)
	assert.Equal(t, errors.ErrGhostService, body.Error.Code)

	rec = ts.do(t, http.MethodGet, "/api/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/groups/Ghost/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[GroupResponse](t, rec)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, service.ResultSkippedGhost, resp.Results[0].Result)
	assert.Empty(t, ts.launcher.Launches())

	rec = ts.do(t, http.MethodPost, "/api/groups/Core/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[GroupResponse](t, rec)
	assert.Len(t, resp.Results, 2)

	rec = ts.do(t, http.MethodPost, "/api/groups/Core/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/groups/Nope/start", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndHeartbeatEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/services/elaine/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	check := decode[HealthCheckResponse](t, rec)
	assert.True(t, check.Success)
	assert.Equal(t, http.StatusOK, check.StatusCode)

	rec = ts.do(t, http.MethodPost, "/api/health/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	refresh := decode[RefreshResponse](t, rec)
	assert.Equal(t, 2, refresh.Checked)
	assert.Zero(t, refresh.Failing)

	rec = ts.do(t, http.MethodGet, "/api/services/elaine/heartbeat?window=1h&points=4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hb := decode[operations.Heartbeat](t, rec)
	assert.Equal(t, 2, hb.Samples)
	assert.Equal(t, 1.0, hb.Uptime)
	assert.Equal(t, 50, hb.Capacity)

	rec = ts.do(t, http.MethodGet, "/api/services/elaine/heartbeat?window=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/services/elaine/heartbeat?points=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/services/sophia/health", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIncidentEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.healthy.Store(false)

	rec := ts.do(t, http.MethodPost, "/api/health/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/incidents?status=open&service=elaine", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[IncidentsResponse](t, rec)
	require.Equal(t, 1, list.Total)
	id := list.Incidents[0].ID

	rec = ts.do(t, http.MethodPost, "/api/incidents/"+id+"/annotations", AnnotateRequest{Author: "ops", Text: "on it"})
	require.Equal(t, http.StatusCreated, rec.Code)
	inc := decode[incident.Incident](t, rec)
	assert.Equal(t, "on it", inc.Annotations[len(inc.Annotations)-1].Text)

	rec = ts.do(t, http.MethodPost, "/api/incidents/"+id+"/annotations", AnnotateRequest{Text: " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/incidents/INC-9999/annotations", AnnotateRequest{Text: "x"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := testutil.ParseErrorResponse(rec.Body)
	assert.Equal(t, errors.ErrUnknownIncident, body.Error.Code)

	rec = ts.do(t, http.MethodPost, "/api/incidents/"+id+"/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inc = decode[incident.Incident](t, rec)
	assert.NotNil(t, inc.ResolvedAt)

	rec = ts.do(t, http.MethodGet, "/api/incidents/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/incidents?status=weird", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/incidents?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConstellationAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/constellation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	graph := decode[map[string]interface{}](t, rec)
	assert.Len(t, graph["nodes"], 3)
	edges := graph["edges"].([]interface{})
	require.Len(t, edges, 1)
	assert.Equal(t, map[string]interface{}{"source": "elaine", "target": "foreperson", "type": "hard"}, edges[0])

	rec = ts.do(t, http.MethodPost, "/api/health/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "workshop_health_checks_total")
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return ts.ops.Hub().Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	rec := ts.do(t, http.MethodPost, "/api/health/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.Event
	require.NoError(t, ws.ReadJSON(&ev))
	assert.NotEmpty(t, ev.ID)
	assert.Contains(t, []events.Type{events.TypeHealth, events.TypeStatus}, ev.Type)

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: "ping"}))
	for {
		var msg map[string]interface{}
		require.NoError(t, ws.ReadJSON(&msg))
		if msg["type"] == "pong" {
			break
		}
	}
}
