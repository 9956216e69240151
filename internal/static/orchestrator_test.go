package static

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/config"
	"github.com/mini-rodalies-3d/transitpipe/internal/db"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
	"github.com/mini-rodalies-3d/transitpipe/internal/logging"
	"github.com/mini-rodalies-3d/transitpipe/internal/processor"
	"github.com/mini-rodalies-3d/transitpipe/internal/processors/gtfs"
	"github.com/mini-rodalies-3d/transitpipe/internal/registry"
	"github.com/mini-rodalies-3d/transitpipe/internal/report"
	"github.com/mini-rodalies-3d/transitpipe/internal/schema"
	"github.com/mini-rodalies-3d/transitpipe/internal/store"
	"github.com/mini-rodalies-3d/transitpipe/internal/testutil"
)

// fakeProcessor is a static processor whose record set and failure points
// are set by the test.
type fakeProcessor struct {
	hooks        []processor.Capability
	records      func(feedID string) *canonical.RecordSet
	transformErr error
	loadErr      error
	panicIn      string
	predicate    func(table string, dc canonical.DataContext) bool
	cleaned      *atomic.Int32
	checksum     string
}

func (f *fakeProcessor) Metadata() processor.Metadata {
	return processor.Metadata{
		FormatType:     "fake",
		Kind:           processor.KindStatic,
		RequiredTables: canonical.CoreTables,
		OptionalTables: []string{canonical.TableFares, canonical.TableTransfers},
		Hooks:          f.hooks,
	}
}

func (f *fakeProcessor) Extract(_ context.Context, src processor.Source) (*processor.RawPayload, error) {
	if f.panicIn == StageExtract {
		panic("extract exploded")
	}
	return &processor.RawPayload{FeedID: src.FeedID, Format: "fake", Source: src.Location(), Checksum: f.checksum}, nil
}

func (f *fakeProcessor) Transform(_ context.Context, raw *processor.RawPayload) (*canonical.RecordSet, error) {
	if f.transformErr != nil {
		return nil, f.transformErr
	}
	rs := f.records(raw.FeedID)
	rs.Checksum = raw.Checksum
	return rs, nil
}

func (f *fakeProcessor) Load(ctx context.Context, rs *canonical.RecordSet, h processor.SchemaHandle) (canonical.LoadResult, error) {
	if f.loadErr != nil {
		return canonical.LoadResult{}, f.loadErr
	}
	return h.UpsertRecordSet(ctx, rs)
}

func (f *fakeProcessor) ShouldCreate(table string, dc canonical.DataContext) bool {
	return f.predicate(table, dc)
}

func (f *fakeProcessor) Cleanup() error {
	if f.cleaned != nil {
		f.cleaned.Add(1)
	}
	return nil
}

func minimalRecords(withFares bool) func(string) *canonical.RecordSet {
	return func(feedID string) *canonical.RecordSet {
		rs := &canonical.RecordSet{
			FeedID: feedID,
			Format: "fake",
			Stops: []canonical.Stop{
				{StopID: canonical.ID(feedID, "A"), SourceID: "A", Name: "A", Lat: 41.1, Lon: 2.1},
				{StopID: canonical.ID(feedID, "B"), SourceID: "B", Name: "B", Lat: 41.2, Lon: 2.2},
			},
			Routes: []canonical.Route{{RouteID: canonical.ID(feedID, "R"), SourceID: "R", ShortName: "R", Type: canonical.RouteTypeBus}},
			Trips:  []canonical.Trip{{TripID: canonical.ID(feedID, "T"), SourceID: "T", RouteID: canonical.ID(feedID, "R")}},
			Schedule: []canonical.ScheduleEntry{
				{TripID: canonical.ID(feedID, "T"), StopSequence: 1, StopID: canonical.ID(feedID, "A"), ArrivalTime: "08:00:00", DepartureTime: "08:00:00"},
				{TripID: canonical.ID(feedID, "T"), StopSequence: 2, StopID: canonical.ID(feedID, "B"), ArrivalTime: "08:05:00", DepartureTime: "08:05:00"},
			},
		}
		if withFares {
			rs.Fares = []canonical.Fare{{FareID: canonical.ID(feedID, "F"), SourceID: "F", Price: 2.4, Currency: "EUR"}}
		}
		return rs
	}
}

type harness struct {
	store *store.Store
	db    *db.DB
	reg   *registry.Registry[processor.StaticProcessor]
	deps  Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	database, err := db.Connect(ctx, db.Options{Driver: db.SQLite, DSN: filepath.Join(t.TempDir(), "etl.db")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	mgr, err := schema.NewManager(database, logging.Discard(), schema.Builtin()...)
	require.NoError(t, err)

	reg := registry.New[processor.StaticProcessor]()
	require.NoError(t, gtfs.Register(reg, processor.Options{WorkDir: t.TempDir()}))

	st := store.New(database)
	return &harness{
		store: st,
		db:    database,
		reg:   reg,
		deps: Deps{
			Config:   config.StaticConfig{Parallelism: 2},
			Registry: reg,
			Schema:   mgr,
			Store:    st,
			Logger:   logging.Discard(),
		},
	}
}

func (h *harness) register(t *testing.T, name string, f *fakeProcessor) {
	t.Helper()
	require.NoError(t, h.reg.Register(name, func() processor.StaticProcessor { return f }))
}

func (h *harness) count(t *testing.T, table, feedID string) int {
	t.Helper()
	n, err := h.store.CountRows(context.Background(), table, feedID)
	require.NoError(t, err)
	return n
}

func (h *harness) tableExists(t *testing.T, table string) bool {
	t.Helper()
	ok, err := h.db.TableExists(context.Background(), h.db.Conn(), table)
	require.NoError(t, err)
	return ok
}

func TestRunSmallGTFS(t *testing.T) {
	h := newHarness(t)
	path := testutil.WriteZip(t, "small.zip", testutil.SmallGTFS())
	h.deps.Config.Feeds = []config.StaticFeed{{ID: "rod", Type: "gtfs", Path: path}}

	run, err := New(h.deps).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Succeeded)
	assert.NotEmpty(t, run.RunID)

	out, ok := run.Feed("rod")
	require.True(t, ok)
	assert.Equal(t, report.StatusSuccess, out.Status, out.Reason)
	assert.Equal(t, []string{"validate_source", "cleanup"}, out.Hooks)
	assert.Contains(t, out.TablesCreated, canonical.TableStops)

	assert.Equal(t, 2, h.count(t, canonical.TableRoutes, "rod"))
	assert.Equal(t, 5, h.count(t, canonical.TableStops, "rod"))
	assert.Equal(t, 3, h.count(t, canonical.TableSchedule, "rod"))

	sched, err := h.store.Schedule(context.Background(), "rod:T1")
	require.NoError(t, err)
	require.Len(t, sched, 3)
	for i, e := range sched {
		assert.Equal(t, i+1, e.StopSequence)
	}
	assert.Equal(t, "08:00:00", sched[0].ArrivalTime)

	assert.False(t, h.tableExists(t, canonical.TableFares), "no fare data, no fares table")

	n, err := h.store.CountRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	path := testutil.WriteZip(t, "small.zip", testutil.SmallGTFS())
	h.deps.Config.Feeds = []config.StaticFeed{{ID: "rod", Type: "gtfs", Path: path}}
	o := New(h.deps)

	for i := 0; i < 2; i++ {
		run, err := o.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, run.Succeeded)
	}
	assert.Equal(t, 2, h.count(t, canonical.TableRoutes, "rod"))
	assert.Equal(t, 5, h.count(t, canonical.TableStops, "rod"))
	assert.Equal(t, 3, h.count(t, canonical.TableSchedule, "rod"))

	second, err := o.Run(context.Background())
	require.NoError(t, err)
	out, _ := second.Feed("rod")
	assert.Empty(t, out.TablesCreated, "tables exist after the first run")
}

func TestRunIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	cleaned := &atomic.Int32{}
	h.register(t, "broken", &fakeProcessor{
		hooks:        []processor.Capability{processor.CapCleanup},
		transformErr: failure.Malformed("transform", errors.New("garbage")),
		cleaned:      cleaned,
	})
	h.register(t, "panicky", &fakeProcessor{
		hooks:   []processor.Capability{processor.CapCleanup},
		panicIn: StageExtract,
		cleaned: cleaned,
	})

	good := testutil.WriteZip(t, "small.zip", testutil.SmallGTFS())
	notZip := testutil.WriteFile(t, "bad.zip", "this is not a zip")
	h.deps.Config.Feeds = []config.StaticFeed{
		{ID: "first", Type: "gtfs", Path: good},
		{ID: "bad-zip", Type: "gtfs", Path: notZip},
		{ID: "missing", Type: "gtfs", Path: filepath.Join(t.TempDir(), "nope.zip")},
		{ID: "broken", Type: "broken", Path: "/x"},
		{ID: "panicky", Type: "panicky", Path: "/x"},
		{ID: "rod", Type: "gtfs", Path: good},
	}

	run, err := New(h.deps).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, run.Succeeded)
	assert.Equal(t, 4, run.Failed)

	tests := []struct {
		feed  string
		stage string
		kind  string
	}{
		{"bad-zip", StageTransform, "malformed_payload"},
		{"missing", StageValidateSource, "source_unreachable"},
		{"broken", StageTransform, "malformed_payload"},
		{"panicky", StageExtract, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.feed, func(t *testing.T) {
			out, ok := run.Feed(tt.feed)
			require.True(t, ok)
			assert.Equal(t, report.StatusFailed, out.Status)
			assert.Equal(t, tt.stage, out.Stage)
			assert.Equal(t, tt.kind, out.ErrorKind)
			assert.NotEmpty(t, out.Reason)
		})
	}

	assert.Equal(t, int32(2), cleaned.Load(), "cleanup runs after failures and panics")
	for _, id := range []string{"first", "rod"} {
		assert.Equal(t, 5, h.count(t, canonical.TableStops, id), id)
		assert.Equal(t, 2, h.count(t, canonical.TableRoutes, id), id)
		assert.Equal(t, 3, h.count(t, canonical.TableSchedule, id), id)
	}
	assert.Zero(t, h.count(t, canonical.TableStops, "bad-zip"))
}

func TestRunLoadFailure(t *testing.T) {
	h := newHarness(t)
	cleaned := &atomic.Int32{}
	h.register(t, "stubborn", &fakeProcessor{
		hooks: []processor.Capability{processor.CapCleanup},
		records: func(feedID string) *canonical.RecordSet {
			rs := minimalRecords(false)(feedID)
			rs.Warnf("stop_times.txt:7: invalid stop_sequence")
			return rs
		},
		loadErr: errors.New("UNIQUE constraint failed: transport_routes.route_id"),
		cleaned: cleaned,
	})

	good := testutil.WriteZip(t, "small.zip", testutil.SmallGTFS())
	h.deps.Config.Parallelism = 1
	h.deps.Config.Feeds = []config.StaticFeed{
		{ID: "stubborn", Type: "stubborn", Path: "/x"},
		{ID: "rod", Type: "gtfs", Path: good},
	}

	run, err := New(h.deps).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, run.Failed)

	out, ok := run.Feed("stubborn")
	require.True(t, ok)
	assert.Equal(t, report.StatusFailed, out.Status)
	assert.Equal(t, StageLoad, out.Stage)
	assert.Equal(t, "schema_conflict", out.ErrorKind)
	assert.Contains(t, out.Reason, "UNIQUE constraint")
	assert.Equal(t, 1, out.WarningCount, "record warnings survive a failed load")
	assert.Equal(t, int32(1), cleaned.Load())

	assert.Equal(t, 5, h.count(t, canonical.TableStops, "rod"))
}

func TestRunLazyOptionalTables(t *testing.T) {
	h := newHarness(t)
	withFares := false
	f := &fakeProcessor{
		hooks: []processor.Capability{processor.CapTablePredicate},
		records: func(feedID string) *canonical.RecordSet {
			return minimalRecords(withFares)(feedID)
		},
		predicate: func(table string, dc canonical.DataContext) bool {
			return table == canonical.TableFares && dc[canonical.FlagHasFareData]
		},
	}
	h.register(t, "fake", f)
	h.deps.Config.Feeds = []config.StaticFeed{{ID: "f", Type: "fake", Path: "/x"}}
	o := New(h.deps)

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	out, _ := run.Feed("f")
	require.Equal(t, report.StatusSuccess, out.Status, out.Reason)
	assert.Contains(t, out.Hooks, "table_predicate")
	assert.False(t, h.tableExists(t, canonical.TableFares))
	assert.False(t, h.tableExists(t, canonical.TableTransfers))

	withFares = true
	run, err = o.Run(context.Background())
	require.NoError(t, err)
	out, _ = run.Feed("f")
	require.Equal(t, report.StatusSuccess, out.Status, out.Reason)
	assert.Equal(t, []string{canonical.TableFares}, out.TablesCreated)
	assert.Equal(t, 1, h.count(t, canonical.TableFares, "f"))
	assert.False(t, h.tableExists(t, canonical.TableTransfers))
}

func TestRunDropsRecordsForRejectedTables(t *testing.T) {
	h := newHarness(t)
	h.register(t, "fake", &fakeProcessor{
		hooks:     []processor.Capability{processor.CapTablePredicate},
		records:   minimalRecords(true),
		predicate: func(string, canonical.DataContext) bool { return false },
	})
	h.deps.Config.Feeds = []config.StaticFeed{{ID: "f", Type: "fake", Path: "/x"}}

	run, err := New(h.deps).Run(context.Background())
	require.NoError(t, err)
	out, _ := run.Feed("f")
	require.Equal(t, report.StatusSuccess, out.Status, out.Reason)
	assert.False(t, h.tableExists(t, canonical.TableFares))
	assert.Equal(t, 1, out.WarningCount)
	assert.Contains(t, out.Warnings[0], "fares dropped")
}

func TestRunSkipUnchanged(t *testing.T) {
	h := newHarness(t)
	path := testutil.WriteZip(t, "small.zip", testutil.SmallGTFS())
	h.deps.Config.SkipUnchanged = true
	h.deps.Config.Feeds = []config.StaticFeed{{ID: "rod", Type: "gtfs", Path: path}}
	o := New(h.deps)

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	out, _ := run.Feed("rod")
	require.Equal(t, report.StatusSuccess, out.Status, out.Reason)

	run, err = o.Run(context.Background())
	require.NoError(t, err)
	out, _ = run.Feed("rod")
	assert.Equal(t, report.StatusUnchanged, out.Status)
	assert.Equal(t, 1, run.Succeeded)
	assert.Contains(t, out.Hooks, "cleanup")
}

func TestRunSkipsDisabledFeeds(t *testing.T) {
	h := newHarness(t)
	off := false
	h.deps.Config.Feeds = []config.StaticFeed{{ID: "rod", Type: "gtfs", Path: "/x.zip", Enabled: &off}}

	run, err := New(h.deps).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Skipped)
	out, _ := run.Feed("rod")
	assert.Equal(t, report.StatusSkipped, out.Status)
}

func TestRunRejectsUnknownType(t *testing.T) {
	h := newHarness(t)
	off := false
	h.deps.Config.Feeds = []config.StaticFeed{
		{ID: "rod", Type: "gtfs", Path: "/x.zip"},
		{ID: "odd", Type: "kml", Path: "/x.kml", Enabled: &off},
	}

	o := New(h.deps)
	_, err := o.Run(context.Background())
	assert.ErrorIs(t, err, failure.ErrRegistryLookup)
	assert.Equal(t, StateIdle, o.State())

	n, err := h.store.CountRuns(context.Background())
	assert.Error(t, err, "nothing ran, not even migrations")
	assert.Zero(t, n)
}

func TestRunOnlySelectedFeeds(t *testing.T) {
	h := newHarness(t)
	path := testutil.WriteZip(t, "small.zip", testutil.SmallGTFS())
	h.deps.Config.Feeds = []config.StaticFeed{
		{ID: "a", Type: "gtfs", Path: path},
		{ID: "b", Type: "gtfs", Path: path},
	}
	o := New(h.deps)

	run, err := o.Run(context.Background(), "b")
	require.NoError(t, err)
	require.Len(t, run.Feeds, 1)
	assert.Equal(t, "b", run.Feeds[0].FeedID)

	_, err = o.Run(context.Background(), "zzz")
	assert.Error(t, err)
}
