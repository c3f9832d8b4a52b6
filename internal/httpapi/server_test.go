package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/metrics"
)

func testServer(status StatusProvider) *Server {
	return NewServer(config.ServerConfig{Addr: "127.0.0.1:0"}, status, metrics.NewRegistry())
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(StatusFunc(func() EngineStatus {
		return EngineStatus{Healthy: true}
	}))

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.Healthy)
}

func TestHealthEndpointDegraded(t *testing.T) {
	s := testServer(StatusFunc(func() EngineStatus {
		return EngineStatus{Healthy: false}
	}))

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	s := testServer(StatusFunc(func() EngineStatus {
		return EngineStatus{
			Healthy:      true,
			LastRunID:    "run-42",
			CyclesRun:    3,
			RewardBriefs: 2,
			VectorSum:    1.0,
		}
	}))

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status EngineStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "run-42", status.LastRunID)
	assert.EqualValues(t, 3, status.CyclesRun)
	assert.Equal(t, 2, status.RewardBriefs)
}

func TestStatusEndpointWithoutProvider(t *testing.T) {
	s := testServer(nil)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.CyclesTotal.Inc()
	s := NewServer(config.ServerConfig{Addr: "127.0.0.1:0"}, nil, reg)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pulserank_cycles_total 1")
}

func TestNotFoundIsJSON(t *testing.T) {
	s := testServer(nil)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/nope", body["path"])
}

func TestEventStreamDeliversPublishedEvents(t *testing.T) {
	s := testServer(nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool {
		return s.Events().Subscribers() == 1
	}, time.Second, 10*time.Millisecond)

	s.Events().Publish(Event{Type: EventCycleFinished, Data: map[string]string{"run_id": "run-1"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, EventCycleFinished, event.Type)
	assert.False(t, event.At.IsZero())
}

func TestEventHubDropsDeadSubscribers(t *testing.T) {
	s := testServer(nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	require.Eventually(t, func() bool {
		return s.Events().Subscribers() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return s.Events().Subscribers() == 0
	}, time.Second, 10*time.Millisecond)

	// Publishing into an empty hub is a no-op.
	s.Events().Publish(Event{Type: EventFallback})
}
