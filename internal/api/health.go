package api

import (
	"math"
	"net/http"
	"time"

	"github.com/mini-rodalies-3d/transitpipe/internal/cache"
	"github.com/mini-rodalies-3d/transitpipe/internal/metrics"
)

// Freshness of a feed, relative to its own polling interval.
const (
	FreshnessHealthy = "healthy" // within 2 intervals
	FreshnessStale   = "stale"   // within 10 intervals
	FreshnessDown    = "down"    // older, or never succeeded
)

// Overall status.
const (
	StatusOperational = "operational"
	StatusDegraded    = "degraded"
	StatusOutage      = "outage"
	StatusUnknown     = "unknown"
)

const defaultInterval = 30 * time.Second

// AnomalyZScore is the distance from the learned baseline, in standard
// deviations, past which a vehicle count is flagged.
const AnomalyZScore = 3.0

// FeedHealth is the health of one real-time feed.
type FeedHealth struct {
	FeedID              string                `json:"feedId"`
	Freshness           string                `json:"freshness"`
	AgeSeconds          *int                  `json:"ageSeconds,omitempty"`
	LastSuccess         *time.Time            `json:"lastSuccess,omitempty"`
	LastError           string                `json:"lastError,omitempty"`
	LastErrorKind       string                `json:"lastErrorKind,omitempty"`
	LastErrorAt         *time.Time            `json:"lastErrorAt,omitempty"`
	ConsecutiveFailures int                   `json:"consecutiveFailures"`
	VehicleCount        int                   `json:"vehicleCount"`
	AlertCount          int                   `json:"alertCount"`
	Latency             *metrics.LatencyStats `json:"latency,omitempty"`
	Expected            *metrics.Baseline     `json:"expected,omitempty"`
	ZScore              *float64              `json:"zScore,omitempty"`
	Anomaly             bool                  `json:"anomaly"`
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string       `json:"status"`
	Feeds     []FeedHealth `json:"feeds"`
	CheckedAt time.Time    `json:"checkedAt"`
}

// ClassifyFreshness maps the age of the last successful cycle to a
// freshness status. A negative age means there never was one.
func ClassifyFreshness(age, interval time.Duration) string {
	if interval <= 0 {
		interval = defaultInterval
	}
	switch {
	case age < 0:
		return FreshnessDown
	case age <= 2*interval:
		return FreshnessHealthy
	case age <= 10*interval:
		return FreshnessStale
	default:
		return FreshnessDown
	}
}

// OverallStatus is operational when every feed is healthy, an outage when
// more than half are down, and degraded otherwise.
func OverallStatus(feeds []FeedHealth) string {
	if len(feeds) == 0 {
		return StatusUnknown
	}
	down, unhealthy := 0, 0
	for _, f := range feeds {
		if f.Freshness != FreshnessHealthy {
			unhealthy++
		}
		if f.Freshness == FreshnessDown {
			down++
		}
	}
	switch {
	case down > len(feeds)/2:
		return StatusOutage
	case unhealthy > 0:
		return StatusDegraded
	default:
		return StatusOperational
	}
}

func (h *handler) feedHealth(st cache.Status, now time.Time) FeedHealth {
	fh := FeedHealth{
		FeedID:              st.FeedID,
		LastSuccess:         st.LastSuccess,
		LastError:           st.LastError,
		LastErrorKind:       st.LastErrorKind,
		LastErrorAt:         st.LastErrorAt,
		ConsecutiveFailures: st.ConsecutiveFailures,
	}

	age := time.Duration(-1)
	if st.LastSuccess != nil {
		age = now.Sub(*st.LastSuccess)
		if age < 0 {
			age = 0
		}
		secs := int(age / time.Second)
		fh.AgeSeconds = &secs
	}
	fh.Freshness = ClassifyFreshness(age, h.intervals[st.FeedID])

	if snap, ok := h.deps.Cache.Get(st.FeedID); ok {
		fh.VehicleCount = len(snap.Vehicles)
		fh.AlertCount = len(snap.Alerts)
	}
	if b, ok := h.deps.Metrics.Baseline(st.FeedID, now); ok {
		z := math.Round(b.ZScore(fh.VehicleCount)*100) / 100
		fh.Expected = &b
		fh.ZScore = &z
		fh.Anomaly = math.Abs(z) >= AnomalyZScore
	}
	if stats, ok := h.deps.Metrics.LatencyStats(st.FeedID); ok {
		fh.Latency = &stats
	}
	return fh
}

// health handles GET /health. An outage answers 503 so that load balancers
// take the instance out.
func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	now := h.deps.Now().UTC()

	statuses := h.deps.Cache.Statuses()
	feeds := make([]FeedHealth, 0, len(statuses))
	for _, st := range statuses {
		feeds = append(feeds, h.feedHealth(st, now))
	}

	resp := HealthResponse{
		Status:    OverallStatus(feeds),
		Feeds:     feeds,
		CheckedAt: now,
	}
	code := http.StatusOK
	if resp.Status == StatusOutage {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, resp)
}
