// Package static runs the static ETL pipeline: every configured schedule
// feed goes through extract, transform and load with its own processor,
// and a failure in one feed never stops the others.
package static

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mini-rodalies-3d/transitpipe/internal/config"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
	"github.com/mini-rodalies-3d/transitpipe/internal/metrics"
	"github.com/mini-rodalies-3d/transitpipe/internal/processor"
	"github.com/mini-rodalies-3d/transitpipe/internal/registry"
	"github.com/mini-rodalies-3d/transitpipe/internal/report"
	"github.com/mini-rodalies-3d/transitpipe/internal/schema"
	"github.com/mini-rodalies-3d/transitpipe/internal/store"
)

// State is the orchestrator's position in a run.
type State string

const (
	StateIdle          State = "idle"
	StateLoadingConfig State = "loading_config"
	StateProcessing    State = "processing"
	StateDone          State = "done"
)

// Stages of one feed, as reported on failure.
const (
	StageResolve          = "resolve"
	StageValidateSource   = "validate_source"
	StageExtract          = "extract"
	StageTransform        = "transform"
	StageEnsureExtensions = "ensure_extensions"
	StageEnsureTables     = "ensure_tables"
	StageLoad             = "load"
)

// Deps is everything a run needs. Nothing is read from globals.
type Deps struct {
	Config   config.StaticConfig
	Database config.DatabaseConfig
	Registry *registry.Registry[processor.StaticProcessor]
	Schema   *schema.Manager
	Store    *store.Store
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Orchestrator runs the configured static feeds through their processors.
type Orchestrator struct {
	deps  Deps
	log   *slog.Logger
	state atomic.Value
}

// New creates an idle orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.Parallelism < 1 {
		deps.Config.Parallelism = 1
	}
	if deps.Config.FetchTimeout <= 0 {
		deps.Config.FetchTimeout = 5 * time.Minute
	}
	o := &Orchestrator{deps: deps, log: deps.Logger.With("component", "static")}
	o.state.Store(StateIdle)
	return o
}

// State returns the current run state.
func (o *Orchestrator) State() State {
	return o.state.Load().(State)
}

// ValidateConfig resolves every configured feed type, enabled or not. An
// unknown type is a configuration error.
func (o *Orchestrator) ValidateConfig() error {
	var errs []error
	for _, f := range o.deps.Config.Feeds {
		if !o.deps.Registry.Has(f.Type) {
			errs = append(errs, fmt.Errorf("feed %s: %w", f.ID, failure.Lookup(f.Type)))
		}
	}
	return errors.Join(errs...)
}

// Run processes the configured feeds, restricted to only when it is
// non-empty, and persists the report. The returned error is set only when
// the run aborted before processing feeds, or when the report could not be
// saved; per-feed failures live in the report.
func (o *Orchestrator) Run(ctx context.Context, only ...string) (*report.Run, error) {
	defer o.state.Store(StateIdle)

	o.state.Store(StateLoadingConfig)
	if err := o.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("invalid static configuration: %w", err)
	}
	feeds, err := o.selectFeeds(only)
	if err != nil {
		return nil, err
	}
	if err := o.prepareDatabase(ctx); err != nil {
		return nil, err
	}

	run := &report.Run{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := o.log.With("run", run.RunID)
	log.Info("static run started", "feeds", len(feeds), "parallelism", o.deps.Config.Parallelism)

	o.state.Store(StateProcessing)
	outcomes := make([]report.FeedOutcome, len(feeds))
	var g errgroup.Group
	g.SetLimit(o.deps.Config.Parallelism)
	for i, feed := range feeds {
		i, feed := i, feed
		g.Go(func() error {
			outcomes[i] = o.processFeed(ctx, log, feed)
			return nil
		})
	}
	_ = g.Wait()

	run.Feeds = outcomes
	run.FinishedAt = time.Now().UTC()
	run.Tally()
	o.state.Store(StateDone)

	log.Info("static run finished",
		"succeeded", run.Succeeded, "failed", run.Failed, "skipped", run.Skipped,
		"duration", run.FinishedAt.Sub(run.StartedAt))

	// Bookkeeping uses its own context so a cancelled run still leaves a report.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := o.deps.Store.SaveRun(saveCtx, run); err != nil {
		return run, fmt.Errorf("failed to save run report: %w", err)
	}
	if n, err := o.deps.Store.CleanupRuns(saveCtx, o.deps.Config.ReportRetention); err != nil {
		log.Warn("run report cleanup failed", "error", err)
	} else if n > 0 {
		log.Info("old run reports deleted", "count", n)
	}
	return run, nil
}

func (o *Orchestrator) selectFeeds(only []string) ([]config.StaticFeed, error) {
	if len(only) == 0 {
		return o.deps.Config.Feeds, nil
	}
	var feeds []config.StaticFeed
	for _, f := range o.deps.Config.Feeds {
		if slices.Contains(only, f.ID) {
			feeds = append(feeds, f)
		}
	}
	for _, id := range only {
		if !slices.ContainsFunc(feeds, func(f config.StaticFeed) bool { return f.ID == id }) {
			return nil, fmt.Errorf("feed %q is not configured", id)
		}
	}
	return feeds, nil
}

// prepareDatabase creates the configured namespace, applies pending
// migrations and installs configured extensions.
func (o *Orchestrator) prepareDatabase(ctx context.Context) error {
	if err := o.deps.Schema.EnsureSchema(ctx, o.deps.Database.Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	applied, err := o.deps.Schema.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if len(applied) > 0 {
		o.log.Info("migrations applied", "migrations", applied)
	}
	for _, ext := range o.deps.Database.Extensions {
		if err := o.deps.Schema.EnsureExtension(ctx, ext); err != nil {
			return fmt.Errorf("failed to ensure extension %s: %w", ext, err)
		}
	}
	return nil
}

func feedSource(feed config.StaticFeed) processor.Source {
	return processor.Source{FeedID: feed.ID, URL: feed.URL, Path: feed.Path}
}
