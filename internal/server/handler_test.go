package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeoffload/dispatch/internal/core"
	"github.com/edgeoffload/dispatch/internal/dispatch"
	"github.com/edgeoffload/dispatch/internal/network"
)

var (
	stationEP = core.Endpoint{Address: "10.0.1.1", Port: 9001}
	peerEP    = core.Endpoint{Address: "10.0.1.2", Port: 9001}
	cloudEP   = core.Endpoint{Address: "10.0.0.1", Port: 9000}
	deviceEP  = core.Endpoint{Address: "10.0.2.1", Port: 9100}
)

func newTestRouter(t *testing.T) (http.Handler, *dispatch.MemoryLedger, *network.MemoryTransport) {
	t.Helper()
	transport := network.NewMemoryTransport(nil)
	ledger := dispatch.NewMemoryLedger()
	reg := prometheus.NewRegistry()
	metrics := dispatch.NewMetrics(reg)

	offers := core.StaticOffers{{Endpoint: deviceEP, FreeCPUCycles: 20, FreeMemory: 10, Price: 50}}
	c, err := dispatch.NewContainer([]dispatch.StationSpec{
		{Endpoint: stationEP, Offers: offers},
		{Endpoint: peerEP},
	}, ledger, transport, dispatch.WithContainerMetrics(metrics))
	require.NoError(t, err)

	cloud := dispatch.NewCloudServer(cloudEP)
	require.NoError(t, transport.Handle(cloudEP, cloud.Handle))
	require.NoError(t, transport.Handle(deviceEP, func(context.Context, core.Message) error { return nil }))
	require.NoError(t, c.LinkCloud(cloudEP))
	require.NoError(t, c.Attach())

	h := NewHandler(c, ledger, time.Minute, nil)
	return h.Router(reg), ledger, transport
}

// ========== Handler Tests ==========

func TestSubmitTaskPlacedLocally(t *testing.T) {
	router, ledger, transport := newTestRouter(t)

	body := `{"id":"t1","neededCpuCycles":5,"neededMemory":2,"budget":60}`
	req := httptest.NewRequest(http.MethodPost, "/v1/stations/0/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	transport.Wait()

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp SubmitTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t1", resp.TaskID)
	assert.Equal(t, "local", resp.Outcome)
	assert.Equal(t, deviceEP.String(), resp.Target)
	assert.Equal(t, 0, ledger.Len())
}

func TestSubmitTaskGeneratesID(t *testing.T) {
	router, _, transport := newTestRouter(t)

	body := `{"neededCpuCycles":500,"neededMemory":2,"budget":60}`
	req := httptest.NewRequest(http.MethodPost, "/v1/stations/1/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	transport.Wait()

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp SubmitTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, "peer", resp.Outcome)
}

func TestSubmitTaskErrors(t *testing.T) {
	router, _, transport := newTestRouter(t)
	defer transport.Wait()

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"station out of range", "/v1/stations/2/tasks", `{"id":"t"}`, http.StatusNotFound},
		{"malformed body", "/v1/stations/0/tasks", `{`, http.StatusBadRequest},
		{"unknown field", "/v1/stations/0/tasks", `{"cpu":1}`, http.StatusBadRequest},
		{"negative budget", "/v1/stations/0/tasks", `{"budget":-1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestListStations(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stations", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []StationInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, stationEP.String(), infos[0].Endpoint)
	assert.Equal(t, []string{peerEP.String()}, infos[0].Peers)
	assert.Equal(t, cloudEP.String(), infos[1].Cloud)
	assert.Zero(t, infos[0].Received)
}

func TestListStationsCountsReceivedTasks(t *testing.T) {
	router, _, transport := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/stations/0/tasks", strings.NewReader(`{"id":"t1","neededCpuCycles":5,"neededMemory":2,"budget":60}`))
	router.ServeHTTP(httptest.NewRecorder(), req)
	transport.Wait()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stations", nil))
	var infos []StationInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, uint64(1), infos[0].Received)
	assert.Zero(t, infos[1].Received)
}

func TestLedgerEndpoint(t *testing.T) {
	router, ledger, _ := newTestRouter(t)
	ledger.Record("stuck", stationEP.String())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ledger", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info LedgerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 1, info.Entries)
	assert.Empty(t, info.Stale)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _, transport := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/stations/0/tasks", strings.NewReader(`{"id":"t1","neededCpuCycles":5,"neededMemory":2,"budget":60}`))
	router.ServeHTTP(httptest.NewRecorder(), req)
	transport.Wait()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `offload_dispatch_decisions_total{outcome="local"} 1`)
}

func TestHealth(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartHttpServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StartHttpServer(ctx, "127.0.0.1:0", http.NotFoundHandler(), newDiscardLogger())
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
