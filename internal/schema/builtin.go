package schema

import (
	"context"
	"fmt"
)

// Bookkeeping tables owned by migrations.
const (
	TableRuns        = "pipeline_runs"
	TableRunFeeds    = "pipeline_run_feeds"
	TableFeedImports = "feed_imports"
)

// Builtin returns the migrations shipped with the pipeline.
func Builtin() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "pipeline_runs",
			Up: func(ctx context.Context, h *Handle) error {
				if err := h.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s (
	run_id      TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	succeeded   INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	skipped     INTEGER NOT NULL
)`, h.Table(TableRuns))); err != nil {
					return err
				}
				return h.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s (
	run_id      TEXT NOT NULL REFERENCES %s(run_id) ON DELETE CASCADE,
	feed_id     TEXT NOT NULL,
	feed_type   TEXT NOT NULL,
	status      TEXT NOT NULL,
	stage       TEXT NOT NULL DEFAULT '',
	error_kind  TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	rows_json   TEXT NOT NULL DEFAULT '{}',
	duration_ms INTEGER NOT NULL,
	PRIMARY KEY (run_id, feed_id)
)`, h.Table(TableRunFeeds), h.Table(TableRuns)))
			},
			Down: func(ctx context.Context, h *Handle) error {
				if err := h.Exec(ctx, "DROP TABLE IF EXISTS "+h.Table(TableRunFeeds)); err != nil {
					return err
				}
				return h.Exec(ctx, "DROP TABLE IF EXISTS "+h.Table(TableRuns))
			},
		},
		{
			Version: 2,
			Name:    "feed_imports",
			Up: func(ctx context.Context, h *Handle) error {
				return h.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s (
	feed_id     TEXT PRIMARY KEY,
	format      TEXT NOT NULL,
	source      TEXT NOT NULL,
	checksum    TEXT NOT NULL,
	imported_at TEXT NOT NULL,
	row_counts  TEXT NOT NULL DEFAULT '{}'
)`, h.Table(TableFeedImports)))
			},
			Down: func(ctx context.Context, h *Handle) error {
				return h.Exec(ctx, "DROP TABLE IF EXISTS "+h.Table(TableFeedImports))
			},
		},
	}
}
