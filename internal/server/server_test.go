package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/schedule-live/internal/broadcast"
	"github.com/dgnsrekt/schedule-live/internal/data"
	"github.com/dgnsrekt/schedule-live/internal/live"
	"github.com/dgnsrekt/schedule-live/internal/metrics"
	"github.com/dgnsrekt/schedule-live/internal/ws"
)

type testEnv struct {
	dir      string
	clock    *clockwork.FakeClock
	registry *live.Registry
	batcher  *live.Batcher
	cache    *data.CachedSource
	reloader *ReloadManager
	server   *httptest.Server
}

func writeTenantFile(t *testing.T, dir, tenantID string, appointments ...data.Appointment) {
	t.Helper()
	var buf bytes.Buffer
	for _, a := range appointments {
		line, err := json.Marshal(a)
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, tenantID+".jsonl"), buf.Bytes(), 0o644))
}

func appointment(id string, day, hour int) data.Appointment {
	return data.Appointment{
		ID:       id,
		PetName:  "pet-" + id,
		Status:   "scheduled",
		StartsAt: time.Date(2025, 1, day, hour, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2025, 1, day, hour+1, 0, 0, 0, time.UTC),
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	dir := t.TempDir()
	writeTenantFile(t, dir, "t1", appointment("a1", 4, 10), appointment("a2", 5, 10))
	writeTenantFile(t, dir, "t2", appointment("b1", 4, 12))

	store, err := data.LoadMemoryStore(dir, time.UTC, logger)
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 4, 9, 0, 0, 0, time.UTC))
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	registry := live.NewRegistry(clock, m, logger)
	batcher := live.NewBatcher(registry, clock, 2*time.Second, 4, m, logger)

	reloadable := data.NewReloadableSource(store)
	cache, err := data.NewCachedSource(reloadable, 1000, time.Minute)
	require.NoError(t, err)

	sessions := ws.NewHandler(registry, cache, clock, ws.Options{}, m, logger)
	reloader := NewReloadManager(reloadable, cache, dir, time.UTC, clock, logger)

	router := NewRouter(Deps{
		Registry:    registry,
		Sessions:    sessions,
		Broadcaster: broadcast.New(batcher, cache, clock, logger),
		Source:      cache,
		Reloader:    reloader,
		Gatherer:    promReg,
		Clock:       clock,
		Location:    time.UTC,
		DataMode:    "memory",
	}, logger)

	env := &testEnv{
		dir:      dir,
		clock:    clock,
		registry: registry,
		batcher:  batcher,
		cache:    cache,
		reloader: reloader,
		server:   httptest.NewServer(router),
	}
	t.Cleanup(func() {
		sessions.CloseAll(websocket.CloseGoingAway, "test done")
		env.server.Close()
		batcher.Stop()
		cache.Close()
	})
	return env
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (e *testEnv) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health healthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "memory", health.DataMode)
	assert.Equal(t, 0, health.Connections)
}

func TestSnapshotDefaultsToToday(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/api/v1/tenants/t1/snapshot")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap data.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "2025-01-04", snap.Date)
	require.Len(t, snap.Appointments, 1)
	assert.Equal(t, "a1", snap.Appointments[0].ID)
}

func TestSnapshotExplicitDate(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/api/v1/tenants/t1/snapshot?date=2025-01-05")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap data.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Len(t, snap.Appointments, 1)
	assert.Equal(t, "a2", snap.Appointments[0].ID)
}

func TestSnapshotInvalidDate(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.get(t, "/api/v1/tenants/t1/snapshot?date=tomorrow")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMutationAccepted(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/v1/tenants/t1/mutations",
		`{"kind":"status_change","entityId":"a1","payload":{"status":"checked_in"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var out mutationResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, out.Accepted)
	assert.Equal(t, "t1", out.TenantID)
	assert.Equal(t, 1, env.batcher.Pending())
}

func TestMutationRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"kind":`},
		{"missing entity", `{"kind":"created"}`},
		{"unknown kind", `{"kind":"exploded","entityId":"a1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			resp, _ := env.post(t, "/api/v1/tenants/t1/mutations", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, 0, env.batcher.Pending())
		})
	}
}

func TestStatsCountsLiveConnections(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?tenantId=t1&userId=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first struct {
		Type string `json:"type"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, live.MsgInitialData, first.Type)

	resp, body := env.get(t, "/api/v1/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats live.Stats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.PerTenantCounts["t1"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "schedule_live_active_connections")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodOptions, env.server.URL+"/api/v1/stats", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestReloadEndpointSwapsData(t *testing.T) {
	env := newTestEnv(t)

	// warm the cache with the old data
	_, _ = env.get(t, "/api/v1/tenants/t1/snapshot")
	env.cache.Wait()

	writeTenantFile(t, env.dir, "t1", appointment("a1", 4, 10), appointment("a9", 4, 16))
	writeTenantFile(t, env.dir, "t3", appointment("c1", 4, 8))
	env.clock.Advance(time.Minute)

	resp, body := env.post(t, "/admin/reload", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out reloadResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 3, out.Tenants)
	assert.True(t, out.LoadedAt.After(out.PreviousLoadedAt))

	_, body = env.get(t, "/api/v1/tenants/t1/snapshot")
	var snap data.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Len(t, snap.Appointments, 2)
	assert.Equal(t, "a9", snap.Appointments[1].ID)
}

func TestReloadRejectsEmptyDirectory(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.Remove(filepath.Join(env.dir, "t1.jsonl")))
	require.NoError(t, os.Remove(filepath.Join(env.dir, "t2.jsonl")))

	_, err := env.reloader.Reload(context.Background())
	require.Error(t, err)

	// previous data still served
	_, body := env.get(t, "/api/v1/tenants/t2/snapshot")
	var snap data.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Len(t, snap.Appointments, 1)
}

func TestReloadInProgress(t *testing.T) {
	env := newTestEnv(t)

	env.reloader.reloadMu.Lock()
	defer env.reloader.reloadMu.Unlock()

	_, err := env.reloader.Reload(context.Background())
	assert.ErrorIs(t, err, ErrReloadInProgress)

	resp, _ := env.post(t, "/admin/reload", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
