package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabsync/internal/coordinator"
	"collabsync/internal/models"
	"collabsync/internal/netmon"
	"collabsync/internal/platform"
	"collabsync/internal/scheduler"
)

type stubSampler struct{}

func (stubSampler) Probe(context.Context) models.QualityReport {
	return models.QualityReport{LatencyMs: 42, DownloadMbpsEstimate: 12, IsStable: true}
}

type stubSubs struct{}

func (stubSubs) Create(context.Context, string, map[string]any) (string, error) { return "sub-1", nil }
func (stubSubs) Cancel(context.Context, string) error                           { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *platform.Hub, *coordinator.Coordinator) {
	t.Helper()

	hub := platform.NewHub()
	sched := scheduler.NewManual()
	monitor := netmon.New(hub, stubSampler{}, sched, netmon.Options{})
	monitor.Initialize(nil)
	t.Cleanup(monitor.Destroy)

	coord := coordinator.New(coordinator.Config{CurrentUserID: "me"}, coordinator.Deps{
		States:  monitor,
		Signals: hub,
		Subs:    stubSubs{},
		Sched:   sched,
	})
	coord.Start()
	t.Cleanup(coord.Stop)

	s := New(":0", monitor, coord, hub)
	srv := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(srv.Close)
	return srv, hub, coord
}

func getJSON(t *testing.T, url string, dest any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func TestStateEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var payload struct {
		State models.ConnectivityState `json:"state"`
		Score int                      `json:"score"`
		Band  string                   `json:"band"`
	}
	getJSON(t, srv.URL+"/api/state", &payload)

	assert.True(t, payload.State.IsOnline)
	assert.Equal(t, 100, payload.Score)
	assert.Equal(t, netmon.BandGood, payload.Band)
}

func TestQualityEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var report models.QualityReport
	getJSON(t, srv.URL+"/api/quality", &report)

	assert.True(t, report.IsStable)
	assert.Equal(t, int64(42), report.LatencyMs)
}

func TestPhaseEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var state models.CoordinatorState
	getJSON(t, srv.URL+"/api/phase", &state)
	assert.Equal(t, models.PhaseActive, state.Phase)
}

func TestVisibilityEndpoint(t *testing.T) {
	srv, hub, coord := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/visibility", "application/json",
		strings.NewReader(`{"visible": false}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.False(t, hub.LastVisible())
	assert.Equal(t, models.PhaseBackgroundSyncing, coord.State().Phase)
}

func TestVisibilityEndpointRejectsBadPayload(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/visibility", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/visibility")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHistoryEndpointRejectsBadSince(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/history?since=not-a-time")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var stats netmon.Stats
	getJSON(t, srv.URL+"/api/stats", &stats)
	assert.Equal(t, 1, stats.Samples)
	assert.Equal(t, 100.0, stats.OnlinePercent)
}

func TestStateFeedPushesInitialFrame(t *testing.T) {
	srv, hub, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/state"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Immediate replay delivers a frame without waiting for a change.
	var first statePayload
	require.NoError(t, conn.ReadJSON(&first))
	assert.True(t, first.State.IsOnline)
	assert.Equal(t, netmon.BandGood, first.Band)

	hub.ReportConnectivity(false, nil)

	var second statePayload
	require.NoError(t, conn.ReadJSON(&second))
	assert.False(t, second.State.IsOnline)
	assert.Zero(t, second.Score)
}
