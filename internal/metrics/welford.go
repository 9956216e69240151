package metrics

import (
	"math"
	"sync"
	"time"
)

// WelfordState holds running statistics using Welford's online algorithm:
// mean and variance in O(1) space without storing observations.
type WelfordState struct {
	Count int
	Mean  float64
	M2    float64 // sum of squared differences from the mean
}

// Update adds an observation.
func (w *WelfordState) Update(v float64) {
	w.Count++
	delta := v - w.Mean
	w.Mean += delta / float64(w.Count)
	w.M2 += delta * (v - w.Mean)
}

// StdDev returns the population standard deviation, 0 below two
// observations.
func (w *WelfordState) StdDev() float64 {
	if w.Count < 2 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.Count))
}

// LatencyStats is a point-in-time view of one feed's fetch latency.
type LatencyStats struct {
	Count    int     `json:"count"`
	MeanMS   float64 `json:"meanMs"`
	StdDevMS float64 `json:"stddevMs"`
	LastMS   float64 `json:"lastMs"`
}

// LatencyTracker keeps running fetch latency statistics per feed.
type LatencyTracker struct {
	mu    sync.Mutex
	feeds map[string]*latency
}

type latency struct {
	state WelfordState
	last  float64
}

func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{feeds: make(map[string]*latency)}
}

// Observe records one fetch duration for feedID.
func (t *LatencyTracker) Observe(feedID string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.feeds[feedID]
	if !ok {
		l = &latency{}
		t.feeds[feedID] = l
	}
	l.state.Update(ms)
	l.last = ms
}

// Stats returns the statistics of feedID; ok is false before the first
// observation.
func (t *LatencyTracker) Stats(feedID string) (LatencyStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.feeds[feedID]
	if !ok {
		return LatencyStats{}, false
	}
	return LatencyStats{
		Count:    l.state.Count,
		MeanMS:   l.state.Mean,
		StdDevMS: l.state.StdDev(),
		LastMS:   l.last,
	}, true
}
