package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mini-rodalies-3d/transitpipe/internal/report"
	"github.com/mini-rodalies-3d/transitpipe/internal/schema"
)

// SaveRun persists a run report and its per-feed outcomes.
func (s *Store) SaveRun(ctx context.Context, run *report.Run) error {
	s.db.LockWrite()
	defer s.db.UnlockWrite()

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (run_id, started_at, finished_at, succeeded, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.db.Table(schema.TableRuns))),
		run.RunID,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.Succeeded, run.Failed, run.Skipped,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := s.prepare(ctx, tx, fmt.Sprintf(`
		INSERT INTO %s (run_id, feed_id, feed_type, status, stage, error_kind, reason, rows_json, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.db.Table(schema.TableRunFeeds)))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range run.Feeds {
		rows, err := json.Marshal(f.Rows)
		if err != nil {
			return fmt.Errorf("failed to encode rows of %s: %w", f.FeedID, err)
		}
		if _, err := stmt.ExecContext(ctx, run.RunID, f.FeedID, f.Type, string(f.Status), f.Stage,
			f.ErrorKind, f.Reason, string(rows), f.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("failed to insert outcome of %s: %w", f.FeedID, err)
		}
	}

	return tx.Commit()
}

// CountRuns returns the number of persisted runs.
func (s *Store) CountRuns(ctx context.Context) (int, error) {
	var n int
	err := s.db.Conn().QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.db.Table(schema.TableRuns))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

// CleanupRuns deletes run reports older than retention.
func (s *Store) CleanupRuns(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-retention).Format(time.RFC3339)

	s.db.LockWrite()
	defer s.db.UnlockWrite()

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	queries := []struct {
		name  string
		query string
	}{
		{
			name: "run feeds",
			query: fmt.Sprintf(`DELETE FROM %s WHERE run_id IN (SELECT run_id FROM %s WHERE started_at < ?)`,
				s.db.Table(schema.TableRunFeeds), s.db.Table(schema.TableRuns)),
		},
		{
			name:  "runs",
			query: fmt.Sprintf(`DELETE FROM %s WHERE started_at < ?`, s.db.Table(schema.TableRuns)),
		},
	}

	deleted := 0
	for _, q := range queries {
		result, err := tx.ExecContext(ctx, s.db.Rebind(q.query), cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to cleanup %s: %w", q.name, err)
		}
		n, _ := result.RowsAffected()
		if q.name == "runs" {
			deleted = int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return deleted, nil
}
