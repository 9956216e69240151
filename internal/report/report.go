// Package report is the structured summary of a static pipeline run.
package report

import (
	"time"
)

// Status is the outcome of one feed.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusUnchanged Status = "unchanged"
)

// MaxWarnings caps the record-level warnings kept per feed.
const MaxWarnings = 50

// FeedOutcome is the per-feed line of a run report.
type FeedOutcome struct {
	FeedID        string         `json:"feedId"`
	Type          string         `json:"type"`
	Status        Status         `json:"status"`
	Stage         string         `json:"stage,omitempty"`
	ErrorKind     string         `json:"errorKind,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Rows          map[string]int `json:"rows,omitempty"`
	TablesCreated []string       `json:"tablesCreated,omitempty"`
	Hooks         []string       `json:"hooks,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	WarningCount  int            `json:"warningCount,omitempty"`
	Duration      time.Duration  `json:"durationNs"`
}

// AddWarnings keeps the first MaxWarnings warnings and counts all of them.
func (o *FeedOutcome) AddWarnings(ws []string) {
	o.WarningCount += len(ws)
	room := MaxWarnings - len(o.Warnings)
	if room <= 0 {
		return
	}
	if len(ws) > room {
		ws = ws[:room]
	}
	o.Warnings = append(o.Warnings, ws...)
}

// Run is the report of one static orchestrator run.
type Run struct {
	RunID      string        `json:"runId"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Feeds      []FeedOutcome `json:"feeds"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
}

// Tally recomputes the aggregate counters from Feeds. Unchanged feeds count
// as succeeded.
func (r *Run) Tally() {
	r.Succeeded, r.Failed, r.Skipped = 0, 0, 0
	for _, f := range r.Feeds {
		switch f.Status {
		case StatusSuccess, StatusUnchanged:
			r.Succeeded++
		case StatusFailed:
			r.Failed++
		case StatusSkipped:
			r.Skipped++
		}
	}
}

// Feed returns the outcome for feedID.
func (r *Run) Feed(feedID string) (FeedOutcome, bool) {
	for _, f := range r.Feeds {
		if f.FeedID == feedID {
			return f, true
		}
	}
	return FeedOutcome{}, false
}
