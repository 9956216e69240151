package static

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/config"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
	"github.com/mini-rodalies-3d/transitpipe/internal/processor"
	"github.com/mini-rodalies-3d/transitpipe/internal/report"
	"github.com/mini-rodalies-3d/transitpipe/internal/schema"
)

// processFeed runs one feed end to end. It never returns an error: every
// failure, panics included, becomes the feed's outcome.
func (o *Orchestrator) processFeed(ctx context.Context, runLog *slog.Logger, feed config.StaticFeed) (out report.FeedOutcome) {
	start := time.Now()
	out = report.FeedOutcome{FeedID: feed.ID, Type: feed.Type, Status: report.StatusSuccess}
	log := runLog.With("feed", feed.ID, "type", feed.Type)

	if !feed.IsEnabled() {
		out.Status = report.StatusSkipped
		out.Reason = "disabled"
		log.Info("feed skipped", "stage", "config", "reason", out.Reason)
		return out
	}

	stage := StageResolve
	defer func() {
		if r := recover(); r != nil {
			log.Error("feed panicked", "stage", stage, "panic", r, "stack", string(debug.Stack()))
			o.fail(&out, stage, fmt.Errorf("panic: %v", r))
		}
		out.Duration = time.Since(start)
		o.deps.Metrics.StaticFeed(feed.ID, string(out.Status), out.Duration, out.Rows, out.WarningCount)
		if out.Status == report.StatusFailed {
			log.Error("feed failed", "stage", out.Stage, "error_kind", out.ErrorKind, "error", out.Reason)
		}
	}()

	p, err := o.deps.Registry.Resolve(feed.Type)
	if err != nil {
		o.fail(&out, stage, err)
		return out
	}
	meta := p.Metadata()
	defer o.cleanup(log, p, meta, &out)

	src := feedSource(feed)

	stage = StageValidateSource
	if meta.Has(processor.CapValidateSource) {
		out.Hooks = append(out.Hooks, string(processor.CapValidateSource))
		v, ok := p.(processor.SourceValidator)
		if !ok {
			o.fail(&out, stage, fmt.Errorf("processor %q declares %s without implementing it", meta.FormatType, processor.CapValidateSource))
			return out
		}
		if err := v.ValidateSource(ctx, src); err != nil {
			o.fail(&out, stage, err)
			return out
		}
	}

	stage = StageExtract
	log.Info("extracting", "stage", stage, "source", src.Location())
	extractCtx, cancel := context.WithTimeout(ctx, o.deps.Config.FetchTimeout)
	raw, err := p.Extract(extractCtx, src)
	cancel()
	if err != nil {
		o.fail(&out, stage, err)
		return out
	}

	if o.deps.Config.SkipUnchanged && raw.Checksum != "" {
		prev, err := o.deps.Store.LastImport(ctx, feed.ID)
		if err != nil {
			log.Warn("import ledger unavailable, loading anyway", "stage", stage, "error", err)
		} else if prev != nil && prev.Checksum == raw.Checksum && prev.Format == feed.Type {
			out.Status = report.StatusUnchanged
			out.Reason = "checksum matches last import of " + prev.ImportedAt.Format(time.RFC3339)
			log.Info("feed unchanged, skipping load", "stage", stage, "checksum", raw.Checksum)
			return out
		}
	}

	stage = StageTransform
	rs, err := p.Transform(ctx, raw)
	if err != nil {
		o.fail(&out, stage, err)
		return out
	}
	out.AddWarnings(rs.Warnings)
	reported := len(rs.Warnings)
	dc := canonical.NewDataContext(rs)

	stage = StageEnsureExtensions
	for _, ext := range meta.RequiredExtensions {
		if err := o.deps.Schema.EnsureExtension(ctx, ext); err != nil {
			o.fail(&out, stage, err)
			return out
		}
	}

	stage = StageEnsureTables
	if meta.Has(processor.CapTablePredicate) {
		out.Hooks = append(out.Hooks, string(processor.CapTablePredicate))
	}
	plan, err := o.deps.Schema.EnsureTables(ctx, schema.TableRequest{
		Required: meta.RequiredTables,
		Optional: meta.OptionalTables,
		ShouldCreate: func(table string, d canonical.DataContext) bool {
			return processor.ShouldCreate(p, table, d)
		},
		DataContext: dc,
		Estimates:   meta.EstimatedRowCounts,
	})
	if plan != nil {
		out.TablesCreated = plan.Created
		o.deps.Metrics.TablesCreated(plan.Created)
	}
	if err != nil {
		o.fail(&out, stage, err)
		return out
	}
	err = o.dropUnplanned(ctx, rs, plan)
	out.AddWarnings(rs.Warnings[reported:])
	if err != nil {
		o.fail(&out, stage, err)
		return out
	}

	stage = StageLoad
	res, err := p.Load(ctx, rs, o.deps.Store)
	if err != nil {
		o.fail(&out, stage, err)
		return out
	}
	out.Rows = res.Rows

	if err := o.deps.Store.RecordImport(ctx, rs, res.Rows); err != nil {
		log.Warn("failed to record import", "stage", stage, "error", err)
	}
	log.Info("feed loaded", "stage", stage, "rows", res.Rows, "warnings", out.WarningCount, "tables_created", plan.Created)
	return out
}

// dropUnplanned removes records headed for optional tables the plan skipped
// and that do not already exist, so that the load never writes into a
// missing table.
func (o *Orchestrator) dropUnplanned(ctx context.Context, rs *canonical.RecordSet, plan *schema.TablePlan) error {
	database := o.deps.Store.DB()
	for _, table := range plan.Skipped {
		exists, err := database.TableExists(ctx, database.Conn(), table)
		if err != nil {
			return failure.SchemaConflict("check table "+table, err)
		}
		if exists {
			continue
		}
		switch table {
		case canonical.TableFares:
			if len(rs.Fares) > 0 {
				rs.Warnf("%d fares dropped: table %s not created", len(rs.Fares), table)
				rs.Fares = nil
			}
		case canonical.TableTransfers:
			if len(rs.Transfers) > 0 {
				rs.Warnf("%d transfers dropped: table %s not created", len(rs.Transfers), table)
				rs.Transfers = nil
			}
		}
	}
	return nil
}

func (o *Orchestrator) cleanup(log *slog.Logger, p processor.StaticProcessor, meta processor.Metadata, out *report.FeedOutcome) {
	if !meta.Has(processor.CapCleanup) {
		return
	}
	c, ok := p.(processor.Cleaner)
	if !ok {
		return
	}
	out.Hooks = append(out.Hooks, string(processor.CapCleanup))
	if err := c.Cleanup(); err != nil {
		log.Warn("cleanup failed", "stage", "cleanup", "error", err)
		out.AddWarnings([]string{"cleanup: " + err.Error()})
	}
}

// fail marks out as failed at stage. Load errors without a kind are
// reported as schema conflicts.
func (o *Orchestrator) fail(out *report.FeedOutcome, stage string, err error) {
	if stage == StageLoad && failure.Kind(err) == "internal" {
		err = failure.SchemaConflict("load", err)
	}
	out.Status = report.StatusFailed
	out.Stage = stage
	out.ErrorKind = failure.Kind(err)
	out.Reason = err.Error()
}
