package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driver-analytics/internal/auth"
	"driver-analytics/internal/config"
	"driver-analytics/internal/detect"
	"driver-analytics/internal/replay"
	"driver-analytics/internal/ws"
)

type emptySource struct{}

func (emptySource) Load(ctx context.Context) ([]replay.Point, error) {
	return nil, nil
}

func testServer(t *testing.T, a *auth.Authenticator) *Server {
	t.Helper()
	cfg := &config.Config{APIDefaultLimit: 100, APIMaxLimit: 1000, AuthCacheTTLSeconds: 300}

	states := detect.NewStateStore()
	detector := detect.NewDetector(detect.Thresholds{OverspeedKph: 50, HarshBrakeKphS: -5, SuddenAccelKphS: 5, IdleSeconds: 30}, states)
	scorer := detect.NewScorer(detect.Weights{Base: 100, Overspeed: 2, HarshBrake: 3, Idle: 1}, states)
	hub := ws.NewHub()
	replayer := replay.NewReplayer(emptySource{}, detector, scorer, states, hub, nil, 0, 3)

	return NewServer(cfg, replayer, hub, nil, a)
}

func doRequest(handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router := testServer(t, nil).Router()

	rec := doRequest(router, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReplayControlFlow(t *testing.T) {
	router := testServer(t, nil).Router()

	rec := doRequest(router, http.MethodGet, "/api/replay/status", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"is_running":false}`, rec.Body.String())

	rec = doRequest(router, http.MethodPost, "/api/replay/start", `{"driver_id":"driver_1"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "started", resp["status"])

	rec = doRequest(router, http.MethodPost, "/api/replay/stop", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"stopped"}`, rec.Body.String())

	// The empty source drains immediately; status settles back to idle.
	require.Eventually(t, func() bool {
		rec := doRequest(router, http.MethodGet, "/api/replay/status", "", nil)
		return strings.Contains(rec.Body.String(), "false")
	}, time.Second, 10*time.Millisecond)
}

func TestReplayStartWithoutBody(t *testing.T) {
	router := testServer(t, nil).Router()

	rec := doRequest(router, http.MethodPost, "/api/replay/start", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestControlEndpointsRequireAPIKey(t *testing.T) {
	cfg := &config.Config{ValidAPIKeys: []string{"secret"}, AuthCacheTTLSeconds: 300}
	router := testServer(t, auth.NewAuthenticator(cfg, nil)).Router()

	rec := doRequest(router, http.MethodPost, "/api/replay/start", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(router, http.MethodPost, "/api/replay/start", "", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(router, http.MethodPost, "/api/replay/start", "", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Status stays open for dashboards.
	rec = doRequest(router, http.MethodGet, "/api/replay/status", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueryEndpointsWithoutStorage(t *testing.T) {
	router := testServer(t, nil).Router()

	for _, path := range []string{
		"/api/drivers",
		"/api/events",
		"/api/events/stats",
		"/api/drivers/1/events",
		"/api/drivers/1/trips",
		"/api/drivers/1/scores",
	} {
		rec := doRequest(router, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestDriverParamValidation(t *testing.T) {
	// Param validation runs before the storage check only for parse
	// errors; with nil storage the handler still rejects cleanly.
	router := testServer(t, nil).Router()

	rec := doRequest(router, http.MethodGet, "/api/drivers/abc/events", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := testServer(t, nil).Router()

	rec := doRequest(router, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "replay_points_total")
}
