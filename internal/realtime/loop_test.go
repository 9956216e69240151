package realtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mini-rodalies-3d/transitpipe/internal/cache"
	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/config"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
	"github.com/mini-rodalies-3d/transitpipe/internal/logging"
	"github.com/mini-rodalies-3d/transitpipe/internal/metrics"
	"github.com/mini-rodalies-3d/transitpipe/internal/processor"
	"github.com/mini-rodalies-3d/transitpipe/internal/registry"
)

type fetchFunc func(ctx context.Context) (string, error)

// script drives the fake processor per feed id. The body returned by a
// fetch is the number of vehicles to parse, or "panic".
type script struct {
	mu    sync.Mutex
	fetch map[string]fetchFunc
	calls map[string]int
}

func newScript() *script {
	return &script{fetch: make(map[string]fetchFunc), calls: make(map[string]int)}
}

func (s *script) set(feedID string, fn fetchFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetch[feedID] = fn
}

func (s *script) returns(feedID, body string, err error) {
	s.set(feedID, func(context.Context) (string, error) { return body, err })
}

func (s *script) callCount(feedID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[feedID]
}

type fakeRT struct{ s *script }

func (fakeRT) Metadata() processor.Metadata {
	return processor.Metadata{FormatType: "fake", Kind: processor.KindRealtime}
}

func (f fakeRT) Fetch(ctx context.Context, feed processor.RealtimeFeed) (*processor.RawPayload, error) {
	f.s.mu.Lock()
	fn := f.s.fetch[feed.ID]
	f.s.calls[feed.ID]++
	f.s.mu.Unlock()

	if fn == nil {
		return nil, failure.Unreachable("fetch", errors.New("no script"))
	}
	body, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	return &processor.RawPayload{FeedID: feed.ID, Format: "fake", Body: []byte(body)}, nil
}

func (fakeRT) Parse(_ context.Context, raw *processor.RawPayload) (*canonical.FeedData, error) {
	body := string(raw.Body)
	if body == "panic" {
		panic("decoder exploded")
	}
	n, err := strconv.Atoi(body)
	if err != nil {
		return nil, failure.Malformed("parse", err)
	}
	data := &canonical.FeedData{}
	for i := 0; i < n; i++ {
		data.Vehicles = append(data.Vehicles, canonical.VehiclePosition{
			VehicleID:    fmt.Sprintf("%s-%d", raw.FeedID, i),
			SourceFeedID: raw.FeedID,
		})
	}
	return data, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	loop   *Loop
	cache  *cache.Cache
	script *script
	clock  *clock
}

func feed(id string) config.RealtimeFeed {
	return config.RealtimeFeed{ID: id, Type: "fake", URL: "https://example.com/" + id}
}

func newHarness(t *testing.T, cfg config.RealtimeConfig, pinned bool) *harness {
	t.Helper()

	s := newScript()
	reg := registry.New[processor.RealtimeProcessor]()
	require.NoError(t, reg.Register("fake", func() processor.RealtimeProcessor { return fakeRT{s: s} }))

	if cfg.PollingIntervalSeconds == 0 {
		cfg.PollingIntervalSeconds = 1
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}

	h := &harness{cache: cache.New(), script: s}
	deps := Deps{
		Config:   cfg,
		Registry: reg,
		Cache:    h.cache,
		Logger:   logging.Discard(),
		Metrics:  metrics.New(),
	}
	if pinned {
		h.clock = &clock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
		deps.Now = h.clock.Now
	}

	l, err := New(deps)
	require.NoError(t, err)
	h.loop = l
	return h
}

func TestNewRejectsUnknownType(t *testing.T) {
	reg := registry.New[processor.RealtimeProcessor]()
	_, err := New(Deps{
		Config:   config.RealtimeConfig{Feeds: []config.RealtimeFeed{{ID: "x", Type: "nope", URL: "https://x"}}},
		Registry: reg,
		Cache:    cache.New(),
		Logger:   logging.Discard(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrRegistryLookup)
}

func TestNewSkipsDisabledFeeds(t *testing.T) {
	off := false
	disabled := feed("off")
	disabled.Enabled = &off

	h := newHarness(t, config.RealtimeConfig{Feeds: []config.RealtimeFeed{feed("on"), disabled}}, true)

	assert.True(t, h.cache.Known("on"))
	assert.False(t, h.cache.Known("off"))

	h.script.returns("on", "1", nil)
	h.script.returns("off", "1", nil)
	h.loop.PollOnce(context.Background())
	assert.Equal(t, 0, h.script.callCount("off"))
}

func TestFailureKeepsPreviousSnapshot(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantKind string
	}{
		{"unreachable", "", failure.Unreachable("fetch", errors.New("connection refused")), "source_unreachable"},
		{"malformed", "not-a-number", nil, "malformed_payload"},
		{"panic", "panic", nil, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, config.RealtimeConfig{Feeds: []config.RealtimeFeed{feed("a")}}, true)
			ctx := context.Background()

			h.script.returns("a", "3", nil)
			h.loop.PollOnce(ctx)
			first := h.clock.Now()

			h.clock.Advance(30 * time.Second)
			h.script.returns("a", tt.body, tt.err)
			h.loop.PollOnce(ctx)

			snap, ok := h.cache.Get("a")
			require.True(t, ok)
			assert.Len(t, snap.Vehicles, 3)
			assert.Equal(t, first, snap.LastUpdated)

			st, ok := h.cache.Status("a")
			require.True(t, ok)
			assert.Equal(t, 1, st.ConsecutiveFailures)
			assert.Equal(t, tt.wantKind, st.LastErrorKind)
			assert.Equal(t, h.clock.Now(), *st.LastErrorAt)
			assert.Equal(t, first, *st.LastSuccess)
		})
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	h := newHarness(t, config.RealtimeConfig{Feeds: []config.RealtimeFeed{feed("a")}}, true)
	ctx := context.Background()

	h.script.returns("a", "", failure.Unreachable("fetch", errors.New("down")))
	h.loop.PollOnce(ctx)
	h.loop.PollOnce(ctx)

	_, ok := h.cache.Get("a")
	assert.False(t, ok, "no snapshot before the first success")
	st, _ := h.cache.Status("a")
	assert.Equal(t, 2, st.ConsecutiveFailures)

	h.script.returns("a", "0", nil)
	h.loop.PollOnce(ctx)

	snap, ok := h.cache.Get("a")
	require.True(t, ok)
	assert.Empty(t, snap.Vehicles)
	st, _ = h.cache.Status("a")
	assert.Zero(t, st.ConsecutiveFailures)
}

func TestFetchTimeout(t *testing.T) {
	h := newHarness(t, config.RealtimeConfig{
		FetchTimeout: 50 * time.Millisecond,
		Feeds:        []config.RealtimeFeed{feed("slow")},
	}, true)

	h.script.set("slow", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", failure.Unreachable("fetch", ctx.Err())
	})

	start := time.Now()
	h.loop.PollOnce(context.Background())
	assert.Less(t, time.Since(start), 5*time.Second)

	st, ok := h.cache.Status("slow")
	require.True(t, ok)
	assert.Equal(t, "source_unreachable", st.LastErrorKind)
	assert.Contains(t, st.LastError, context.DeadlineExceeded.Error())
}

func TestSlowFeedDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t, config.RealtimeConfig{
		Workers:         2,
		FetchTimeout:    time.Minute,
		ShutdownTimeout: 5 * time.Second,
		Feeds:           []config.RealtimeFeed{feed("slow"), feed("fast")},
	}, false)

	release := make(chan struct{})
	h.script.set("slow", func(ctx context.Context) (string, error) {
		select {
		case <-release:
			return "1", nil
		case <-ctx.Done():
			return "", failure.Unreachable("fetch", ctx.Err())
		}
	})
	h.script.returns("fast", "2", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := h.cache.Get("fast")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := h.cache.Get("slow")
	assert.False(t, ok, "slow feed is still fetching")

	cancel()
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}

	// The slow task finished inside the grace period, so its result is kept.
	snap, ok := h.cache.Get("slow")
	require.True(t, ok)
	assert.Len(t, snap.Vehicles, 1)
}

func TestSkipsFeedStillInFlight(t *testing.T) {
	h := newHarness(t, config.RealtimeConfig{Feeds: []config.RealtimeFeed{feed("a")}}, true)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	h.script.set("a", func(context.Context) (string, error) {
		started <- struct{}{}
		<-release
		return "1", nil
	})

	var g errgroup.Group
	g.SetLimit(2)
	ctx := context.Background()

	h.loop.dispatch(ctx, &g)
	<-started

	h.clock.Advance(5 * time.Second)
	h.loop.dispatch(ctx, &g)
	h.clock.Advance(5 * time.Second)
	h.loop.dispatch(ctx, &g)
	assert.Equal(t, 1, h.script.callCount("a"), "no second task while the first is running")

	close(release)
	require.NoError(t, g.Wait())

	h.clock.Advance(5 * time.Second)
	h.loop.dispatch(ctx, &g)
	<-started
	require.NoError(t, g.Wait())
	assert.Equal(t, 2, h.script.callCount("a"))
}

func TestDispatchHonoursFeedInterval(t *testing.T) {
	slow := feed("hourly")
	slow.PollingIntervalSeconds = 3600
	h := newHarness(t, config.RealtimeConfig{Feeds: []config.RealtimeFeed{feed("a"), slow}}, true)
	h.script.returns("a", "1", nil)
	h.script.returns("hourly", "1", nil)

	var g errgroup.Group
	g.SetLimit(4)
	ctx := context.Background()

	h.loop.dispatch(ctx, &g)
	require.NoError(t, g.Wait())
	h.clock.Advance(2 * time.Second)
	h.loop.dispatch(ctx, &g)
	require.NoError(t, g.Wait())

	assert.Equal(t, 2, h.script.callCount("a"))
	assert.Equal(t, 1, h.script.callCount("hourly"))
	assert.Equal(t, time.Second, h.loop.tick())
}

func TestShutdownDiscardsLateResults(t *testing.T) {
	h := newHarness(t, config.RealtimeConfig{
		FetchTimeout:    time.Minute,
		ShutdownTimeout: 50 * time.Millisecond,
		Feeds:           []config.RealtimeFeed{feed("stuck")},
	}, false)

	started := make(chan struct{})
	var once sync.Once
	h.script.set("stuck", func(ctx context.Context) (string, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		// Pretend the fetch completed anyway.
		return "5", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	<-started
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the shutdown timeout")
	}

	_, ok := h.cache.Get("stuck")
	assert.False(t, ok, "no cache write after the hard cancel")
	st, ok := h.cache.Status("stuck")
	require.True(t, ok)
	assert.Nil(t, st.LastAttempt)
}
