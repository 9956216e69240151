package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWelford(t *testing.T) {
	var w WelfordState
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		w.Update(v)
	}
	assert.Equal(t, 8, w.Count)
	assert.InDelta(t, 5.0, w.Mean, 1e-9)
	assert.InDelta(t, 2.0, w.StdDev(), 1e-9)

	var one WelfordState
	one.Update(3)
	assert.Zero(t, one.StdDev())
}

func TestLatencyTracker(t *testing.T) {
	lt := NewLatencyTracker()
	_, ok := lt.Stats("a")
	assert.False(t, ok)

	lt.Observe("a", 100*time.Millisecond)
	lt.Observe("a", 300*time.Millisecond)

	s, ok := lt.Stats("a")
	require.True(t, ok)
	assert.Equal(t, 2, s.Count)
	assert.InDelta(t, 200, s.MeanMS, 1e-9)
	assert.InDelta(t, 100, s.StdDevMS, 1e-9)
	assert.InDelta(t, 300, s.LastMS, 1e-9)
}

func TestCollectors(t *testing.T) {
	m := New()
	m.StaticFeed("rod", "success", time.Second, map[string]int{"stops": 5, "routes": 2}, 3)
	m.FetchSucceeded("rt", 50*time.Millisecond, 12, 1)
	m.FetchFailed("rt", "source_unreachable", 10*time.Millisecond, 2)
	m.SkippedInFlight("rt")
	m.TablesCreated([]string{"fares"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.staticRuns.WithLabelValues("rod", "success")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.staticRows.WithLabelValues("rod", "stops")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.staticWarnings.WithLabelValues("rod")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.vehicles.WithLabelValues("rt")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.failureStreak.WithLabelValues("rt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skippedInFlight.WithLabelValues("rt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tablesCreated.WithLabelValues("fares")))

	s, ok := m.LatencyStats("rt")
	require.True(t, ok)
	assert.Equal(t, 1, s.Count, "only successful cycles feed latency stats")
}

func TestHandler(t *testing.T) {
	m := New()
	m.FetchSucceeded("rt", time.Millisecond, 1, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `transitpipe_realtime_vehicles{feed="rt"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.StaticFeed("a", "failed", time.Second, nil, 0)
		m.FetchSucceeded("a", time.Second, 0, 0)
		m.FetchFailed("a", "", time.Second, 1)
		m.SkippedInFlight("a")
		m.TablesCreated([]string{"x"})
	})
	_, ok := m.LatencyStats("a")
	assert.False(t, ok)
}

func TestBaselineLearner(t *testing.T) {
	l := NewBaselineLearner(time.UTC)
	mon9 := time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)

	for i, n := range []int{10, 12, 0, 14, 10, 14} {
		l.Observe("a", n, mon9.Add(time.Duration(i)*time.Minute))
	}

	b, ok := l.Expected("a", mon9.Add(30*time.Minute))
	require.True(t, ok)
	assert.Equal(t, 5, b.SampleCount, "zero counts are skipped")
	assert.Equal(t, 9, b.HourOfDay)
	assert.Equal(t, int(time.Monday), b.DayOfWeek)
	assert.InDelta(t, 12, b.Mean, 1e-9)
	assert.InDelta(t, 1.79, b.StdDev, 0.01)
	assert.InDelta(t, -6.7, b.ZScore(0), 0.1)

	_, ok = l.Expected("a", mon9.Add(time.Hour))
	assert.False(t, ok, "other hour has no samples")
	_, ok = l.Expected("b", mon9)
	assert.False(t, ok)

	assert.Zero(t, Baseline{Mean: 3}.ZScore(10))
}

func TestBaselineLearnerUsesLocalTime(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	l := NewBaselineLearner(cet)

	// 23:30 UTC on a Sunday is 00:30 on Monday in CET.
	sun := time.Date(2024, 3, 3, 23, 30, 0, 0, time.UTC)
	for i := 0; i < MinBaselineSamples; i++ {
		l.Observe("a", 20, sun.Add(time.Duration(i)*time.Second))
	}

	b, ok := l.Expected("a", time.Date(2024, 3, 4, 0, 45, 0, 0, cet))
	require.True(t, ok)
	assert.Equal(t, 0, b.HourOfDay)
	assert.Equal(t, int(time.Monday), b.DayOfWeek)
}
