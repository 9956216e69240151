// Package realtime runs the polling loop that keeps the cache filled with
// the latest snapshot of every real-time feed.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mini-rodalies-3d/transitpipe/internal/cache"
	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/config"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
	"github.com/mini-rodalies-3d/transitpipe/internal/metrics"
	"github.com/mini-rodalies-3d/transitpipe/internal/processor"
	"github.com/mini-rodalies-3d/transitpipe/internal/registry"
)

const minTick = time.Second

// Deps are the collaborators of a Loop.
type Deps struct {
	Config   config.RealtimeConfig
	Registry *registry.Registry[processor.RealtimeProcessor]
	Cache    *cache.Cache
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

// Loop polls the enabled real-time feeds. Each feed has at most one task
// in flight; tasks share a bounded pool.
type Loop struct {
	deps  Deps
	log   *slog.Logger
	feeds []config.RealtimeFeed

	mu       sync.Mutex
	inFlight map[string]bool
	nextDue  map[string]time.Time

	// gate guards cache writes against shutdown: once closed is set no
	// task writes, even one that finished after the hard cancel.
	gate   sync.RWMutex
	closed bool
}

// New validates every configured feed type and registers the enabled feeds
// with the cache.
func New(deps Deps) (*Loop, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.Workers < 1 {
		deps.Config.Workers = 1
	}
	if deps.Config.FetchTimeout <= 0 {
		deps.Config.FetchTimeout = 10 * time.Second
	}

	l := &Loop{
		deps:     deps,
		log:      deps.Logger.With("component", "realtime"),
		inFlight: make(map[string]bool),
		nextDue:  make(map[string]time.Time),
	}
	for _, f := range deps.Config.Feeds {
		if !deps.Registry.Has(f.Type) {
			return nil, fmt.Errorf("feed %s: %w", f.ID, failure.Lookup(f.Type))
		}
		if !f.IsEnabled() {
			l.log.Info("feed disabled", "feed", f.ID)
			continue
		}
		l.feeds = append(l.feeds, f)
		deps.Cache.Register(f.ID)
	}
	return l, nil
}

// tick is the shortest feed interval, so that every feed is dispatched on
// time.
func (l *Loop) tick() time.Duration {
	global := l.deps.Config.PollInterval()
	d := global
	for _, f := range l.feeds {
		if iv := f.Interval(global); d <= 0 || iv < d {
			d = iv
		}
	}
	if d < minTick {
		d = minTick
	}
	return d
}

// Run polls until ctx is cancelled, then waits up to the shutdown timeout
// for in-flight tasks before cancelling them.
func (l *Loop) Run(ctx context.Context) error {
	if len(l.feeds) == 0 {
		l.log.Warn("no real-time feeds enabled")
	}

	hardCtx, hardCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer hardCancel()

	var g errgroup.Group
	g.SetLimit(l.deps.Config.Workers)

	interval := l.tick()
	l.log.Info("polling started", "feeds", len(l.feeds), "tick", interval, "workers", l.deps.Config.Workers)

	l.dispatch(hardCtx, &g)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.dispatch(hardCtx, &g)
		case <-ctx.Done():
			l.shutdown(&g, hardCancel)
			return nil
		}
	}
}

func (l *Loop) shutdown(g *errgroup.Group, hardCancel context.CancelFunc) {
	l.log.Info("polling stopping, waiting for in-flight tasks", "timeout", l.deps.Config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(l.deps.Config.ShutdownTimeout):
		l.gate.Lock()
		l.closed = true
		l.gate.Unlock()
		hardCancel()
		l.log.Warn("shutdown timeout reached, cancelled in-flight tasks")
		<-done
	}
	l.log.Info("polling stopped")
}

// dispatch starts a task for every due feed that is not already running.
// A full pool leaves the feed due for the next tick.
func (l *Loop) dispatch(ctx context.Context, g *errgroup.Group) {
	now := l.deps.Now()
	global := l.deps.Config.PollInterval()

	for _, f := range l.feeds {
		l.mu.Lock()
		if l.inFlight[f.ID] {
			l.mu.Unlock()
			if !now.Before(l.dueAt(f.ID)) {
				l.log.Debug("previous task still running, skipping", "feed", f.ID)
				l.deps.Metrics.SkippedInFlight(f.ID)
			}
			continue
		}
		if now.Before(l.nextDue[f.ID]) {
			l.mu.Unlock()
			continue
		}
		l.inFlight[f.ID] = true
		l.mu.Unlock()

		f := f
		started := g.TryGo(func() error {
			defer l.finish(f.ID)
			l.poll(ctx, f)
			return nil
		})
		if !started {
			l.finish(f.ID)
			l.log.Debug("worker pool full, feed stays due", "feed", f.ID)
			continue
		}

		l.mu.Lock()
		l.nextDue[f.ID] = now.Add(f.Interval(global))
		l.mu.Unlock()
	}
}

func (l *Loop) dueAt(feedID string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextDue[feedID]
}

func (l *Loop) finish(feedID string) {
	l.mu.Lock()
	l.inFlight[feedID] = false
	l.mu.Unlock()
}

// PollOnce polls every enabled feed once, regardless of schedule, and
// waits for all of them.
func (l *Loop) PollOnce(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(l.deps.Config.Workers)
	for _, f := range l.feeds {
		f := f
		g.Go(func() error {
			l.poll(ctx, f)
			return nil
		})
	}
	_ = g.Wait()
}

// poll runs fetch and parse for one feed and publishes the outcome. It
// never panics.
func (l *Loop) poll(ctx context.Context, feed config.RealtimeFeed) {
	log := l.log.With("feed", feed.ID, "type", feed.Type)
	start := time.Now()
	stage := "resolve"

	defer func() {
		if r := recover(); r != nil {
			log.Error("feed task panicked", "stage", stage, "panic", r, "stack", string(debug.Stack()))
			l.recordFailure(log, feed.ID, stage, fmt.Errorf("panic: %v", r), time.Since(start))
		}
	}()

	p, err := l.deps.Registry.Resolve(feed.Type)
	if err != nil {
		l.recordFailure(log, feed.ID, stage, err, time.Since(start))
		return
	}

	fctx, cancel := context.WithTimeout(ctx, l.deps.Config.FetchTimeout)
	defer cancel()

	stage = "fetch"
	raw, err := p.Fetch(fctx, processor.RealtimeFeed{
		ID:      feed.ID,
		URL:     feed.URL,
		Headers: feed.Headers,
		Params:  feed.Params,
	})
	if err != nil {
		l.recordFailure(log, feed.ID, stage, err, time.Since(start))
		return
	}

	stage = "parse"
	data, err := p.Parse(fctx, raw)
	if err != nil {
		l.recordFailure(log, feed.ID, stage, err, time.Since(start))
		return
	}

	if data == nil {
		data = &canonical.FeedData{}
	}
	l.publish(log, feed.ID, data, time.Since(start))
}

func (l *Loop) publish(log *slog.Logger, feedID string, data *canonical.FeedData, d time.Duration) {
	l.gate.RLock()
	defer l.gate.RUnlock()
	if l.closed {
		log.Debug("shut down, result discarded", "stage", "publish")
		return
	}

	now := l.deps.Now().UTC()
	l.deps.Cache.Put(feedID, data, now)
	l.deps.Metrics.FetchSucceeded(feedID, d, len(data.Vehicles), len(data.Alerts))
	l.deps.Metrics.ObserveVehicles(feedID, len(data.Vehicles), now)
	log.Debug("snapshot published", "stage", "publish",
		"vehicles", len(data.Vehicles), "alerts", len(data.Alerts), "duration", d)
}

func (l *Loop) recordFailure(log *slog.Logger, feedID, stage string, err error, d time.Duration) {
	l.gate.RLock()
	defer l.gate.RUnlock()
	if l.closed {
		return
	}

	l.deps.Cache.RecordFailure(feedID, err, l.deps.Now().UTC())
	streak := 0
	if st, ok := l.deps.Cache.Status(feedID); ok {
		streak = st.ConsecutiveFailures
	}
	kind := failure.Kind(err)
	l.deps.Metrics.FetchFailed(feedID, kind, d, streak)
	log.Warn("feed cycle failed, keeping previous snapshot",
		"stage", stage,
		"error_kind", kind,
		"retryable", failure.Retryable(err),
		"consecutive_failures", streak,
		"error", err)
}
