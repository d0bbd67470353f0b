package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeGateway struct{ connected bool }

func (f fakeGateway) IsConnected() bool { return f.connected }

type fakeStats map[string]interface{}

func (f fakeStats) GetStats() map[string]interface{} { return f }

func newTestServer(deps Dependencies) *Server {
	return NewServer(DefaultConfig(), deps)
}

func doRequest(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.buildMiddlewareChain(s.router).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealthAllComponentsUp(t *testing.T) {
	s := newTestServer(Dependencies{
		Database: fakePinger{},
		Cache:    fakePinger{},
		Gateway:  fakeGateway{connected: true},
	})

	rec, body := doRequest(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestHealthDegradedOnDatabaseFailure(t *testing.T) {
	s := newTestServer(Dependencies{
		Database: fakePinger{err: errors.New("connection refused")},
		Cache:    fakePinger{},
		Gateway:  fakeGateway{connected: true},
	})

	rec, body := doRequest(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])

	components := body["components"].(map[string]interface{})
	db := components["database"].(map[string]interface{})
	assert.Equal(t, false, db["healthy"])
	assert.Contains(t, db["error"], "connection refused")
}

func TestReadyFailsWhenGatewayDisconnected(t *testing.T) {
	s := newTestServer(Dependencies{
		Database: fakePinger{},
		Gateway:  fakeGateway{connected: false},
	})

	rec, _ := doRequest(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveAlwaysOK(t *testing.T) {
	s := newTestServer(Dependencies{Gateway: fakeGateway{}})

	rec, body := doRequest(t, s, "/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", body["status"])
}

func TestStatsAggregatesSources(t *testing.T) {
	s := newTestServer(Dependencies{
		StatsSources: map[string]StatsSource{
			"bot": fakeStats{"events_seen": 42},
		},
	})

	rec, body := doRequest(t, s, "/api/v1/stats")
	assert.Equal(t, http.StatusOK, rec.Code)

	bot := body["bot"].(map[string]interface{})
	assert.EqualValues(t, 42, bot["events_seen"])
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(Dependencies{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	s.buildMiddlewareChain(s.router).ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
