package metrics

import (
	"math"
	"sync"
	"time"
)

// MinBaselineSamples is the number of observations a slot needs before its
// baseline is reported.
const MinBaselineSamples = 5

// Baseline is the learned vehicle count of one feed for one hour of one
// weekday.
type Baseline struct {
	HourOfDay   int     `json:"hourOfDay"`
	DayOfWeek   int     `json:"dayOfWeek"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"stddev"`
	SampleCount int     `json:"sampleCount"`
}

// ZScore is how many standard deviations count lies from the mean. It is 0
// while the slot has no spread.
func (b Baseline) ZScore(count int) float64 {
	if b.StdDev == 0 {
		return 0
	}
	return (float64(count) - b.Mean) / b.StdDev
}

type slot struct {
	feedID string
	hour   int
	day    int
}

// BaselineLearner learns the expected vehicle count per feed, hour and
// weekday from successful cycles. Hours and weekdays are those of loc.
type BaselineLearner struct {
	mu    sync.Mutex
	loc   *time.Location
	slots map[slot]*WelfordState
}

// NewBaselineLearner creates a learner keyed on local time in loc. A nil loc
// means time.Local.
func NewBaselineLearner(loc *time.Location) *BaselineLearner {
	if loc == nil {
		loc = time.Local
	}
	return &BaselineLearner{loc: loc, slots: make(map[slot]*WelfordState)}
}

func (l *BaselineLearner) slotOf(feedID string, at time.Time) slot {
	at = at.In(l.loc)
	return slot{feedID: feedID, hour: at.Hour(), day: int(at.Weekday())}
}

// Observe adds count to the slot of at. Zero counts are skipped so that an
// outage does not drag the baseline down.
func (l *BaselineLearner) Observe(feedID string, count int, at time.Time) {
	if count == 0 {
		return
	}
	k := l.slotOf(feedID, at)

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.slots[k]
	if !ok {
		w = &WelfordState{}
		l.slots[k] = w
	}
	w.Update(float64(count))
}

// Expected returns the baseline of the slot of at; ok is false until it has
// MinBaselineSamples observations.
func (l *BaselineLearner) Expected(feedID string, at time.Time) (Baseline, bool) {
	k := l.slotOf(feedID, at)

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.slots[k]
	if !ok || w.Count < MinBaselineSamples {
		return Baseline{}, false
	}
	return Baseline{
		HourOfDay:   k.hour,
		DayOfWeek:   k.day,
		Mean:        math.Round(w.Mean*100) / 100,
		StdDev:      math.Round(w.StdDev()*100) / 100,
		SampleCount: w.Count,
	}, true
}
