package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects SQL flavour and locking strategy.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Options configure Connect.
type Options struct {
	Driver Dialect
	DSN    string
	// Schema is the postgres namespace holding the canonical tables.
	// Ignored by sqlite.
	Schema string
	Logger *slog.Logger
}

// DB wraps a database/sql pool with dialect helpers and write serialization.
type DB struct {
	conn    *sql.DB
	dialect Dialect
	schema  string
	log     *slog.Logger

	writeMu sync.Mutex // serializes sqlite writers
	ddlMu   sync.Mutex // in-process half of the DDL lock
}

// Connect opens the canonical database.
func Connect(ctx context.Context, opts Options) (*DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Driver {
	case SQLite, "":
		return connectSQLite(ctx, opts.DSN, logger)
	case Postgres:
		return connectPostgres(ctx, opts.DSN, opts.Schema, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

func connectSQLite(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// Immediate transactions take the write lock at BEGIN, so a read inside
	// a transaction cannot go stale before its write in another process.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: sqlite has a single writer, and a second pooled
	// connection would not see the pragmas applied below.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			logger.Warn("failed to set pragma", "pragma", pragma, "error", err)
		}
	}

	logger.Info("connected to database", "driver", SQLite, "path", path)
	return &DB{conn: conn, dialect: SQLite, log: logger}, nil
}

func connectPostgres(ctx context.Context, dsn, schema string, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if schema == "" {
		schema = "public"
	}
	logger.Info("connected to database", "driver", Postgres, "schema", schema)
	return &DB{conn: conn, dialect: Postgres, schema: schema, log: logger}, nil
}

// Close closes the pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying pool.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Dialect returns the connected dialect.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Schema returns the namespace of the canonical tables ("" for sqlite).
func (db *DB) Schema() string {
	return db.schema
}

// Logger returns the logger the database was opened with.
func (db *DB) Logger() *slog.Logger {
	return db.log
}

// LockWrite serializes writers on sqlite. Must be paired with UnlockWrite.
// Postgres handles concurrent writers itself, so this is a no-op there.
func (db *DB) LockWrite() {
	if db.dialect == SQLite {
		db.writeMu.Lock()
	}
}

// UnlockWrite releases LockWrite.
func (db *DB) UnlockWrite() {
	if db.dialect == SQLite {
		db.writeMu.Unlock()
	}
}

// Table qualifies a table name with the configured schema.
func (db *DB) Table(name string) string {
	if db.dialect == Postgres && db.schema != "" {
		return quoteIdent(db.schema) + "." + name
	}
	return name
}

// Rebind rewrites ? placeholders into $n for postgres.
func (db *DB) Rebind(query string) string {
	if db.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TableExists reports whether name exists in the canonical namespace.
func (db *DB) TableExists(ctx context.Context, q Querier, name string) (bool, error) {
	var n int
	var err error
	switch db.dialect {
	case Postgres:
		err = q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`,
			db.schema, name).Scan(&n)
	default:
		err = q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return n > 0, nil
}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
