// Package cache holds the latest real-time snapshot of every feed.
//
// The entries map is only locked to find or add an entry. Each entry
// publishes its snapshot and status through atomic pointers, so a writer
// replacing one feed never blocks readers of another, and a reader never
// sees half of a snapshot.
package cache

import (
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
)

// Snapshot is the complete payload of one successful cycle. It is never
// modified after it is published; callers must treat it as read-only.
type Snapshot struct {
	FeedID      string                      `json:"feedId"`
	Vehicles    []canonical.VehiclePosition `json:"vehicles"`
	Alerts      []canonical.ServiceAlert    `json:"alerts"`
	LastUpdated time.Time                   `json:"lastUpdated"`
}

// Status is the poll history of one feed.
type Status struct {
	FeedID              string     `json:"feedId"`
	LastAttempt         *time.Time `json:"lastAttempt,omitempty"`
	LastSuccess         *time.Time `json:"lastSuccess,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastErrorKind       string     `json:"lastErrorKind,omitempty"`
	LastErrorAt         *time.Time `json:"lastErrorAt,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
}

type entry struct {
	snapshot atomic.Pointer[Snapshot]
	status   atomic.Pointer[Status]
}

// Cache holds the latest snapshot and poll status of every real-time feed.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Register creates empty entries so that feeds show up in Statuses before
// their first cycle.
func (c *Cache) Register(feedIDs ...string) {
	for _, id := range feedIDs {
		c.entry(id)
	}
}

func (c *Cache) lookup(feedID string) (*entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[feedID]
	return e, ok
}

func (c *Cache) entry(feedID string) *entry {
	if e, ok := c.lookup(feedID); ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[feedID]; ok {
		return e
	}
	e := &entry{}
	e.status.Store(&Status{FeedID: feedID})
	c.entries[feedID] = e
	return e
}

// Put replaces the feed's snapshot wholesale and resets its failure streak.
// The slices of data are copied; data may be reused by the caller.
func (c *Cache) Put(feedID string, data *canonical.FeedData, at time.Time) {
	snap := &Snapshot{
		FeedID:      feedID,
		Vehicles:    []canonical.VehiclePosition{},
		Alerts:      []canonical.ServiceAlert{},
		LastUpdated: at,
	}
	if data != nil {
		if data.Vehicles != nil {
			snap.Vehicles = slices.Clone(data.Vehicles)
		}
		if data.Alerts != nil {
			snap.Alerts = slices.Clone(data.Alerts)
		}
	}

	e := c.entry(feedID)
	e.snapshot.Store(snap)
	e.updateStatus(func(s *Status) {
		s.LastAttempt = &at
		s.LastSuccess = &at
		s.ConsecutiveFailures = 0
	})
}

// RecordFailure notes a failed cycle. The snapshot is left untouched.
func (c *Cache) RecordFailure(feedID string, err error, at time.Time) {
	e := c.entry(feedID)
	e.updateStatus(func(s *Status) {
		s.LastAttempt = &at
		s.LastErrorAt = &at
		s.ConsecutiveFailures++
		if err != nil {
			s.LastError = err.Error()
			s.LastErrorKind = failure.Kind(err)
		}
	})
}

func (e *entry) updateStatus(fn func(*Status)) {
	for {
		old := e.status.Load()
		next := *old
		fn(&next)
		if e.status.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Get returns the feed's latest snapshot; ok is false until the first
// successful cycle.
func (c *Cache) Get(feedID string) (*Snapshot, bool) {
	e, ok := c.lookup(feedID)
	if !ok {
		return nil, false
	}
	snap := e.snapshot.Load()
	return snap, snap != nil
}

// GetAll returns every published snapshot ordered by feed id.
func (c *Cache) GetAll() []*Snapshot {
	c.mu.RLock()
	snaps := make([]*Snapshot, 0, len(c.entries))
	for _, e := range c.entries {
		if snap := e.snapshot.Load(); snap != nil {
			snaps = append(snaps, snap)
		}
	}
	c.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].FeedID < snaps[j].FeedID })
	return snaps
}

// Known reports whether the feed has an entry, with or without a snapshot.
func (c *Cache) Known(feedID string) bool {
	_, ok := c.lookup(feedID)
	return ok
}

// Status returns the poll status of one feed.
func (c *Cache) Status(feedID string) (Status, bool) {
	e, ok := c.lookup(feedID)
	if !ok {
		return Status{}, false
	}
	return *e.status.Load(), true
}

// Statuses returns the status of every known feed ordered by feed id.
func (c *Cache) Statuses() []Status {
	c.mu.RLock()
	out := make([]Status, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e.status.Load())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FeedID < out[j].FeedID })
	return out
}
