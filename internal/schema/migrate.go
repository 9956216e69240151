package schema

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mini-rodalies-3d/transitpipe/internal/db"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
)

const ledgerTable = "schema_migrations"

// Migration is one named, versioned schema change. Up runs inside a
// transaction together with its ledger entry, so an interrupted run resumes
// at the first unrecorded migration. Down is for operator rollback only.
type Migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, h *Handle) error
	Down    func(ctx context.Context, h *Handle) error
}

// ID is the ledger key: zero-padded version plus name.
func (m Migration) ID() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// Handle is the transaction a migration step runs in.
type Handle struct {
	tx *sql.Tx
	db *db.DB
}

// Exec runs query with ? placeholders rebound for the dialect.
func (h *Handle) Exec(ctx context.Context, query string, args ...any) error {
	_, err := h.tx.ExecContext(ctx, h.db.Rebind(query), args...)
	return err
}

// Table qualifies a table name.
func (h *Handle) Table(name string) string { return h.db.Table(name) }

// Dialect returns the database dialect.
func (h *Handle) Dialect() db.Dialect { return h.db.Dialect() }

// TableExists reports whether name exists, as seen by the transaction.
func (h *Handle) TableExists(ctx context.Context, name string) (bool, error) {
	return h.db.TableExists(ctx, h.tx, name)
}

// MigrationStatus is one line of Status.
type MigrationStatus struct {
	ID        string `json:"id"`
	Applied   bool   `json:"applied"`
	AppliedAt string `json:"appliedAt,omitempty"`
}

func (m *Manager) ensureLedger(ctx context.Context) error {
	_, err := m.db.Conn().ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	name       TEXT NOT NULL,
	applied_at TEXT NOT NULL
)`, m.db.Table(ledgerTable)))
	if err != nil {
		return failure.SchemaConflict("create migration ledger", err)
	}
	return nil
}

func (m *Manager) applied(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.Conn().QueryContext(ctx, fmt.Sprintf(`SELECT id, applied_at FROM %s`, m.db.Table(ledgerTable)))
	if err != nil {
		return nil, fmt.Errorf("failed to read migration ledger: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, at string
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration ledger: %w", err)
		}
		out[id] = at
	}
	return out, rows.Err()
}

// Migrate applies every pending migration in version order and returns the
// ids it applied. A failing migration stops the run; migrations applied
// before it stay applied and nothing is rolled back.
func (m *Manager) Migrate(ctx context.Context) ([]string, error) {
	var done []string
	err := m.db.WithDDLLock(ctx, func(ctx context.Context) error {
		if err := m.ensureLedger(ctx); err != nil {
			return err
		}
		applied, err := m.applied(ctx)
		if err != nil {
			return err
		}

		for _, mig := range m.migrations {
			if _, ok := applied[mig.ID()]; ok {
				continue
			}
			ran, err := m.step(ctx, mig, mig.Up, false, func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, m.db.Rebind(fmt.Sprintf(
					`INSERT INTO %s (id, version, name, applied_at) VALUES (?, ?, ?, ?)`, m.db.Table(ledgerTable))),
					mig.ID(), mig.Version, mig.Name, time.Now().UTC().Format(time.RFC3339))
				return err
			})
			if err != nil {
				return fmt.Errorf("migration %s failed: %w", mig.ID(), err)
			}
			if !ran {
				continue
			}
			m.log.Info("applied migration", "migration", mig.ID())
			done = append(done, mig.ID())
		}
		return nil
	})
	return done, err
}

// Rollback reverts the last steps applied migrations, newest first. It is
// only ever invoked by an operator.
func (m *Manager) Rollback(ctx context.Context, steps int) ([]string, error) {
	var reverted []string
	err := m.db.WithDDLLock(ctx, func(ctx context.Context) error {
		if err := m.ensureLedger(ctx); err != nil {
			return err
		}
		applied, err := m.applied(ctx)
		if err != nil {
			return err
		}

		for i := len(m.migrations) - 1; i >= 0 && len(reverted) < steps; i-- {
			mig := m.migrations[i]
			if _, ok := applied[mig.ID()]; !ok {
				continue
			}
			if mig.Down == nil {
				return fmt.Errorf("migration %s has no down step", mig.ID())
			}
			ran, err := m.step(ctx, mig, mig.Down, true, func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, m.db.Rebind(fmt.Sprintf(
					`DELETE FROM %s WHERE id = ?`, m.db.Table(ledgerTable))), mig.ID())
				return err
			})
			if err != nil {
				return fmt.Errorf("rollback of %s failed: %w", mig.ID(), err)
			}
			if !ran {
				continue
			}
			m.log.Info("rolled back migration", "migration", mig.ID())
			reverted = append(reverted, mig.ID())
		}
		return nil
	})
	return reverted, err
}

// Status lists every known migration with its ledger state.
func (m *Manager) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(m.migrations))
	for _, mig := range m.migrations {
		at, ok := applied[mig.ID()]
		out = append(out, MigrationStatus{ID: mig.ID(), Applied: ok, AppliedAt: at})
	}
	return out, nil
}

// step runs fn and record in one transaction. The ledger is read again
// inside it: when another process already moved mig to the wanted state,
// nothing runs and step reports false.
func (m *Manager) step(ctx context.Context, mig Migration, fn func(context.Context, *Handle) error, wantApplied bool, record func(context.Context, *sql.Tx) error) (bool, error) {
	if fn == nil {
		return false, fmt.Errorf("migration %s: missing step", mig.ID())
	}

	m.db.LockWrite()
	defer m.db.UnlockWrite()

	tx, err := m.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return false, failure.SchemaConflict("begin", err)
	}
	defer tx.Rollback()

	var n int
	err = tx.QueryRowContext(ctx, m.db.Rebind(fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE id = ?`, m.db.Table(ledgerTable))), mig.ID()).Scan(&n)
	if err != nil {
		return false, failure.SchemaConflict("read migration ledger", err)
	}
	if (n > 0) != wantApplied {
		return false, nil
	}

	if err := fn(ctx, &Handle{tx: tx, db: m.db}); err != nil {
		return false, failure.SchemaConflict(mig.ID(), err)
	}
	if err := record(ctx, tx); err != nil {
		return false, failure.SchemaConflict("record "+mig.ID(), err)
	}
	if err := tx.Commit(); err != nil {
		return false, failure.SchemaConflict("commit "+mig.ID(), err)
	}
	return true, nil
}
