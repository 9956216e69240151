// Package app holds the startup wiring shared by the binaries: config,
// logger, database and processors.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mini-rodalies-3d/transitpipe/internal/config"
	"github.com/mini-rodalies-3d/transitpipe/internal/db"
	"github.com/mini-rodalies-3d/transitpipe/internal/logging"
	"github.com/mini-rodalies-3d/transitpipe/internal/plugins"
	"github.com/mini-rodalies-3d/transitpipe/internal/processor"
	"github.com/mini-rodalies-3d/transitpipe/internal/schema"
	"github.com/mini-rodalies-3d/transitpipe/internal/store"
)

// Env is a started process: configuration plus everything built from it.
type Env struct {
	Config *config.Config
	Logger *slog.Logger
}

// Load reads the config file and builds the logger it describes.
func Load(path, name string) (*Env, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr).With("service", name)
	return &Env{Config: cfg, Logger: logger}, nil
}

// Database is an open canonical database with its schema manager and store.
type Database struct {
	DB     *db.DB
	Schema *schema.Manager
	Store  *store.Store
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// OpenDatabase connects to the configured database. Migrations are not
// applied here.
func (e *Env) OpenDatabase(ctx context.Context) (*Database, error) {
	c := e.Config.Database
	database, err := db.Connect(ctx, db.Options{
		Driver: db.Dialect(c.Driver),
		DSN:    c.DSN,
		Schema: c.Schema,
		Logger: e.Logger,
	})
	if err != nil {
		return nil, err
	}
	mgr, err := schema.NewManager(database, e.Logger, schema.Builtin()...)
	if err != nil {
		database.Close()
		return nil, err
	}
	return &Database{DB: database, Schema: mgr, Store: store.New(database)}, nil
}

// StaticPlugins registers the processors with the static fetch settings.
func (e *Env) StaticPlugins() (*plugins.Registries, error) {
	return e.plugins(e.Config.Static.FetchTimeout, 0)
}

// RealtimePlugins registers the processors with the real-time fetch settings.
func (e *Env) RealtimePlugins() (*plugins.Registries, error) {
	return e.plugins(e.Config.Realtime.FetchTimeout, e.Config.Realtime.FetchRetries)
}

func (e *Env) plugins(timeout time.Duration, retries int) (*plugins.Registries, error) {
	regs, err := plugins.Bootstrap(processor.Options{
		HTTPClient:   &http.Client{Timeout: timeout},
		Logger:       e.Logger,
		WorkDir:      e.Config.Static.WorkDir,
		FetchRetries: retries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register processors: %w", err)
	}
	return regs, nil
}
