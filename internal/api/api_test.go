package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-rodalies-3d/transitpipe/internal/cache"
	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/config"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
	"github.com/mini-rodalies-3d/transitpipe/internal/logging"
	"github.com/mini-rodalies-3d/transitpipe/internal/metrics"
)

var now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func vehicles(feedID string, n int) *canonical.FeedData {
	d := &canonical.FeedData{}
	for i := 0; i < n; i++ {
		d.Vehicles = append(d.Vehicles, canonical.VehiclePosition{VehicleID: fmt.Sprintf("%s-%d", feedID, i), SourceFeedID: feedID})
	}
	return d
}

func setup(t *testing.T) (http.Handler, *cache.Cache, *metrics.Metrics) {
	t.Helper()

	c := cache.New()
	c.Register("rodalies", "metro", "bus")
	m := metrics.New()

	router := NewRouter(Deps{
		Cache:   c,
		Metrics: m,
		Realtime: config.RealtimeConfig{
			PollingIntervalSeconds: 30,
			Feeds: []config.RealtimeFeed{
				{ID: "rodalies", Type: "gtfs-rt", URL: "https://x/r"},
				{ID: "metro", Type: "siri", URL: "https://x/m", PollingIntervalSeconds: 10},
				{ID: "bus", Type: "gtfs-rt", URL: "https://x/b"},
			},
		},
		Logger: logging.Discard(),
		Now:    func() time.Time { return now },
	})
	return router, c, m
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestListRealtime(t *testing.T) {
	h, c, _ := setup(t)
	c.Put("rodalies", vehicles("rodalies", 2), now)
	c.Put("metro", vehicles("metro", 1), now)

	rec := get(t, h, "/api/realtime")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode[RealtimeResponse](t, rec)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "metro", resp.Feeds[0].FeedID)
	assert.Equal(t, "rodalies", resp.Feeds[1].FeedID)
	assert.Len(t, resp.Feeds[1].Vehicles, 2)
}

func TestListRealtimeFiltered(t *testing.T) {
	h, c, _ := setup(t)
	c.Put("rodalies", vehicles("rodalies", 2), now)
	c.Put("metro", vehicles("metro", 1), now)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantFeeds []string
	}{
		{"one", "?feed=metro", http.StatusOK, []string{"metro"}},
		{"two with spaces", "?feed=rodalies,%20metro", http.StatusOK, []string{"rodalies", "metro"}},
		{"known without data", "?feed=bus", http.StatusOK, nil},
		{"unknown", "?feed=metro,ferry", http.StatusNotFound, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, "/api/realtime"+tt.query)
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				body := decode[ErrorResponse](t, rec)
				assert.Equal(t, "Unknown feed", body.Error)
				assert.Equal(t, []any{"ferry"}, body.Details["feeds"])
				return
			}
			resp := decode[RealtimeResponse](t, rec)
			var ids []string
			for _, f := range resp.Feeds {
				ids = append(ids, f.FeedID)
			}
			assert.Equal(t, tt.wantFeeds, ids)
			assert.NotNil(t, resp.Feeds)
		})
	}
}

func TestGetRealtime(t *testing.T) {
	h, c, _ := setup(t)
	c.Put("rodalies", vehicles("rodalies", 3), now)
	c.RecordFailure("metro", failure.Unreachable("fetch", errors.New("timeout")), now)

	rec := get(t, h, "/api/realtime/rodalies")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[cache.Snapshot](t, rec)
	assert.Len(t, snap.Vehicles, 3)
	assert.True(t, now.Equal(snap.LastUpdated))

	rec = get(t, h, "/api/realtime/metro")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Contains(t, body.Details["lastError"], "timeout")

	rec = get(t, h, "/api/realtime/ferry")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body = decode[ErrorResponse](t, rec)
	assert.Equal(t, "Feed not found", body.Error)
	assert.Equal(t, "ferry", body.Details["feedId"])
}

func TestHealth(t *testing.T) {
	h, c, m := setup(t)
	c.Put("rodalies", vehicles("rodalies", 2), now.Add(-45*time.Second))
	c.Put("metro", vehicles("metro", 1), now.Add(-50*time.Second))
	c.RecordFailure("metro", failure.Malformed("parse", errors.New("bad xml")), now.Add(-5*time.Second))
	m.FetchSucceeded("rodalies", 120*time.Millisecond, 2, 0)

	rec := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)

	assert.Equal(t, StatusDegraded, resp.Status)
	require.Len(t, resp.Feeds, 3)

	byID := map[string]FeedHealth{}
	for _, f := range resp.Feeds {
		byID[f.FeedID] = f
	}

	bus := byID["bus"]
	assert.Equal(t, FreshnessDown, bus.Freshness)
	assert.Nil(t, bus.AgeSeconds)

	// 45s against a 30s interval.
	rod := byID["rodalies"]
	assert.Equal(t, FreshnessHealthy, rod.Freshness)
	require.NotNil(t, rod.AgeSeconds)
	assert.Equal(t, 45, *rod.AgeSeconds)
	assert.Equal(t, 2, rod.VehicleCount)
	require.NotNil(t, rod.Latency)
	assert.Equal(t, 1, rod.Latency.Count)
	assert.InDelta(t, 120, rod.Latency.MeanMS, 0.001)

	// 50s against a 10s interval.
	metro := byID["metro"]
	assert.Equal(t, FreshnessStale, metro.Freshness)
	assert.Equal(t, 1, metro.ConsecutiveFailures)
	assert.Equal(t, "malformed_payload", metro.LastErrorKind)
	assert.Nil(t, metro.Latency)
}

func TestHealthOutage(t *testing.T) {
	h, c, _ := setup(t)
	c.Put("rodalies", vehicles("rodalies", 1), now)

	rec := get(t, h, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, StatusOutage, decode[HealthResponse](t, rec).Status)
}

func TestClassifyFreshness(t *testing.T) {
	tests := []struct {
		age      time.Duration
		interval time.Duration
		want     string
	}{
		{-1, 30 * time.Second, FreshnessDown},
		{0, 30 * time.Second, FreshnessHealthy},
		{60 * time.Second, 30 * time.Second, FreshnessHealthy},
		{61 * time.Second, 30 * time.Second, FreshnessStale},
		{300 * time.Second, 30 * time.Second, FreshnessStale},
		{301 * time.Second, 30 * time.Second, FreshnessDown},
		{50 * time.Second, 0, FreshnessHealthy},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.age, tt.interval), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyFreshness(tt.age, tt.interval))
		})
	}
}

func TestOverallStatus(t *testing.T) {
	fh := func(fs ...string) []FeedHealth {
		var out []FeedHealth
		for _, f := range fs {
			out = append(out, FeedHealth{Freshness: f})
		}
		return out
	}
	assert.Equal(t, StatusUnknown, OverallStatus(nil))
	assert.Equal(t, StatusOperational, OverallStatus(fh(FreshnessHealthy, FreshnessHealthy)))
	assert.Equal(t, StatusDegraded, OverallStatus(fh(FreshnessHealthy, FreshnessStale)))
	assert.Equal(t, StatusDegraded, OverallStatus(fh(FreshnessHealthy, FreshnessDown)))
	assert.Equal(t, StatusOutage, OverallStatus(fh(FreshnessHealthy, FreshnessDown, FreshnessDown)))
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, m := setup(t)
	m.FetchSucceeded("rodalies", time.Second, 4, 1)

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "transitpipe_")
}

func TestMetricsDisabled(t *testing.T) {
	router := NewRouter(Deps{Cache: cache.New(), Logger: logging.Discard()})
	assert.Equal(t, http.StatusNotFound, get(t, router, "/metrics").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/api/realtime").Code)
}

func TestCORS(t *testing.T) {
	h, _, _ := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/api/realtime", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthFlagsVehicleCountAnomaly(t *testing.T) {
	h, c, m := setup(t)
	for i, n := range []int{20, 22, 18, 20, 22, 18} {
		m.ObserveVehicles("rodalies", n, now.Add(time.Duration(i)*time.Second))
	}
	c.Put("rodalies", vehicles("rodalies", 2), now)

	resp := decode[HealthResponse](t, get(t, h, "/health"))
	var rod FeedHealth
	for _, f := range resp.Feeds {
		if f.FeedID == "rodalies" {
			rod = f
		}
	}
	require.NotNil(t, rod.Expected)
	assert.InDelta(t, 20, rod.Expected.Mean, 1e-9)
	require.NotNil(t, rod.ZScore)
	assert.Less(t, *rod.ZScore, -AnomalyZScore)
	assert.True(t, rod.Anomaly)
}
