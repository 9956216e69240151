// Package schema brings the canonical static schema to the minimal state the
// active processors and the observed data require. Everything it does is
// additive: tables and extensions are created when missing and never dropped
// implicitly. Versioned migrations cover every other change.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/db"
	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
)

// Manager owns DDL against the canonical database.
type Manager struct {
	db         *db.DB
	log        *slog.Logger
	migrations []Migration
}

// NewManager returns a manager applying migrations in version order.
// Duplicate versions are rejected.
func NewManager(database *db.DB, logger *slog.Logger, migrations ...Migration) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := slices.Clone(migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Version == sorted[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d (%s, %s)", sorted[i].Version, sorted[i-1].Name, sorted[i].Name)
		}
	}
	return &Manager{db: database, log: logger.With("component", "schema"), migrations: sorted}, nil
}

// EnsureSchema creates the namespace name when missing. Sqlite has a single
// namespace, so this is a no-op there.
func (m *Manager) EnsureSchema(ctx context.Context, name string) error {
	if m.db.Dialect() != db.Postgres || name == "" {
		return nil
	}
	return m.db.WithDDLLock(ctx, func(ctx context.Context) error {
		var n int
		err := m.db.Conn().QueryRowContext(ctx,
			`SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = $1`, name).Scan(&n)
		if err != nil {
			return failure.SchemaConflict("check schema "+name, err)
		}
		if n > 0 {
			return nil
		}
		if _, err := m.db.Conn().ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quote(name)); err != nil {
			return failure.SchemaConflict("create schema "+name, err)
		}
		m.log.Info("created schema", "schema", name)
		return nil
	})
}

// EnsureExtension installs a database extension when missing. Sqlite has no
// server-side extensions; the request is logged and ignored.
func (m *Manager) EnsureExtension(ctx context.Context, name string) error {
	if m.db.Dialect() != db.Postgres {
		m.log.Debug("extensions not supported by dialect, skipping", "extension", name, "dialect", m.db.Dialect())
		return nil
	}
	return m.db.WithDDLLock(ctx, func(ctx context.Context) error {
		var n int
		err := m.db.Conn().QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pg_extension WHERE extname = $1`, name).Scan(&n)
		if err != nil {
			return failure.SchemaConflict("check extension "+name, err)
		}
		if n > 0 {
			return nil
		}
		if _, err := m.db.Conn().ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS "+quote(name)); err != nil {
			return failure.SchemaConflict("create extension "+name, err)
		}
		m.log.Info("created extension", "extension", name)
		return nil
	})
}

// TableRequest describes the tables one load needs.
type TableRequest struct {
	Required []string
	Optional []string
	// ShouldCreate decides each optional table. Nil means
	// canonical.DefaultShouldCreate.
	ShouldCreate func(table string, dc canonical.DataContext) bool
	DataContext  canonical.DataContext
	Estimates    map[string]int
}

// TablePlan is what EnsureTables did.
type TablePlan struct {
	Created   []string       `json:"created,omitempty"`
	Existing  []string       `json:"existing,omitempty"`
	Skipped   []string       `json:"skipped,omitempty"`
	Estimates map[string]int `json:"estimates,omitempty"`
}

// EnsureTables creates every required table, and every optional table the
// predicate accepts, together with the tables they reference. Tables that
// already exist are left untouched.
func (m *Manager) EnsureTables(ctx context.Context, req TableRequest) (*TablePlan, error) {
	should := req.ShouldCreate
	if should == nil {
		should = canonical.DefaultShouldCreate
	}

	plan := &TablePlan{Estimates: req.Estimates}
	wanted := slices.Clone(req.Required)
	for _, table := range req.Optional {
		if should(table, req.DataContext) {
			wanted = append(wanted, table)
		} else {
			plan.Skipped = append(plan.Skipped, table)
		}
	}

	ordered, err := closure(wanted)
	if err != nil {
		return nil, failure.SchemaConflict("resolve tables", err)
	}

	err = m.db.WithDDLLock(ctx, func(ctx context.Context) error {
		for _, name := range ordered {
			created, err := m.createTable(ctx, tableDefs[name])
			if err != nil {
				return err
			}
			if !created {
				plan.Existing = append(plan.Existing, name)
				continue
			}
			plan.Created = append(plan.Created, name)
			m.log.Info("created table", "table", name, "estimated_rows", req.Estimates[name])
		}
		return nil
	})
	if err != nil {
		return plan, err
	}
	return plan, nil
}

// createTable creates def unless it exists. The check and the DDL share one
// transaction, so another process creating the same table in between is
// seen as existing rather than as a conflict.
func (m *Manager) createTable(ctx context.Context, def tableDef) (bool, error) {
	m.db.LockWrite()
	defer m.db.UnlockWrite()

	tx, err := m.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return false, failure.SchemaConflict("create table "+def.Name, err)
	}
	defer tx.Rollback()

	exists, err := m.db.TableExists(ctx, tx, def.Name)
	if err != nil {
		return false, failure.SchemaConflict("check table "+def.Name, err)
	}
	if exists {
		return false, nil
	}

	for _, stmt := range def.build(ddl{db: m.db}) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return false, failure.SchemaConflict("create table "+def.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, failure.SchemaConflict("create table "+def.Name, err)
	}
	return true, nil
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
