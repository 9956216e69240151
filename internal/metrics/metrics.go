// Package metrics holds the prometheus collectors of the pipeline on a
// private registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "transitpipe"

type Metrics struct {
	registry *prometheus.Registry

	staticRuns     *prometheus.CounterVec
	staticDuration *prometheus.HistogramVec
	staticRows     *prometheus.CounterVec
	staticWarnings *prometheus.CounterVec
	tablesCreated  *prometheus.CounterVec

	fetches         *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	vehicles        *prometheus.GaugeVec
	alerts          *prometheus.GaugeVec
	failureStreak   *prometheus.GaugeVec
	skippedInFlight *prometheus.CounterVec

	Latency   *LatencyTracker
	Baselines *BaselineLearner
}

// New creates and registers every collector, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		staticRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "static",
			Name:      "feed_runs_total",
			Help:      "Static feed runs by outcome",
		}, []string{"feed", "status"}),

		staticDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "static",
			Name:      "feed_duration_seconds",
			Help:      "Duration of one static feed run",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"feed"}),

		staticRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "static",
			Name:      "rows_loaded_total",
			Help:      "Rows written per canonical table",
		}, []string{"feed", "table"}),

		staticWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "static",
			Name:      "record_warnings_total",
			Help:      "Records dropped or repaired during transform",
		}, []string{"feed"}),

		tablesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schema",
			Name:      "tables_created_total",
			Help:      "Canonical tables created on demand",
		}, []string{"table"}),

		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "fetches_total",
			Help:      "Real-time fetch+parse cycles by outcome",
		}, []string{"feed", "status"}),

		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of one real-time fetch+parse",
			Buckets:   prometheus.DefBuckets,
		}, []string{"feed"}),

		vehicles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "vehicles",
			Help:      "Vehicles in the current snapshot",
		}, []string{"feed"}),

		alerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "alerts",
			Help:      "Service alerts in the current snapshot",
		}, []string{"feed"}),

		failureStreak: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "consecutive_failures",
			Help:      "Consecutive failed cycles since the last success",
		}, []string{"feed"}),

		skippedInFlight: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "skipped_in_flight_total",
			Help:      "Dispatches skipped because the previous task was still running",
		}, []string{"feed"}),

		Latency:   NewLatencyTracker(),
		Baselines: NewBaselineLearner(nil),
	}

	m.registry.MustRegister(
		m.staticRuns, m.staticDuration, m.staticRows, m.staticWarnings, m.tablesCreated,
		m.fetches, m.fetchDuration, m.vehicles, m.alerts, m.failureStreak, m.skippedInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StaticFeed records the outcome of one static feed run.
func (m *Metrics) StaticFeed(feedID, status string, d time.Duration, rows map[string]int, warnings int) {
	if m == nil {
		return
	}
	m.staticRuns.WithLabelValues(feedID, status).Inc()
	m.staticDuration.WithLabelValues(feedID).Observe(d.Seconds())
	for table, n := range rows {
		m.staticRows.WithLabelValues(feedID, table).Add(float64(n))
	}
	if warnings > 0 {
		m.staticWarnings.WithLabelValues(feedID).Add(float64(warnings))
	}
}

func (m *Metrics) TablesCreated(tables []string) {
	if m == nil {
		return
	}
	for _, t := range tables {
		m.tablesCreated.WithLabelValues(t).Inc()
	}
}

// FetchSucceeded records a successful real-time cycle.
func (m *Metrics) FetchSucceeded(feedID string, d time.Duration, vehicles, alerts int) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(feedID, "success").Inc()
	m.fetchDuration.WithLabelValues(feedID).Observe(d.Seconds())
	m.vehicles.WithLabelValues(feedID).Set(float64(vehicles))
	m.alerts.WithLabelValues(feedID).Set(float64(alerts))
	m.failureStreak.WithLabelValues(feedID).Set(0)
	m.Latency.Observe(feedID, d)
}

// FetchFailed records a failed real-time cycle with the current streak.
func (m *Metrics) FetchFailed(feedID, kind string, d time.Duration, streak int) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "error"
	}
	m.fetches.WithLabelValues(feedID, kind).Inc()
	m.fetchDuration.WithLabelValues(feedID).Observe(d.Seconds())
	m.failureStreak.WithLabelValues(feedID).Set(float64(streak))
}

func (m *Metrics) SkippedInFlight(feedID string) {
	if m == nil {
		return
	}
	m.skippedInFlight.WithLabelValues(feedID).Inc()
}

// LatencyStats is nil-safe access to the fetch latency tracker.
func (m *Metrics) LatencyStats(feedID string) (LatencyStats, bool) {
	if m == nil {
		return LatencyStats{}, false
	}
	return m.Latency.Stats(feedID)
}

// ObserveVehicles feeds the vehicle count of a successful cycle to the
// baseline learner.
func (m *Metrics) ObserveVehicles(feedID string, count int, at time.Time) {
	if m == nil {
		return
	}
	m.Baselines.Observe(feedID, count, at)
}

// Baseline is nil-safe access to the learned vehicle count baseline.
func (m *Metrics) Baseline(feedID string, at time.Time) (Baseline, bool) {
	if m == nil {
		return Baseline{}, false
	}
	return m.Baselines.Expected(feedID, at)
}
