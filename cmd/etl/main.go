// Command etl runs the static pipeline once, or on a fixed interval, and
// prints each run report as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/mini-rodalies-3d/transitpipe/internal/app"
	"github.com/mini-rodalies-3d/transitpipe/internal/metrics"
	"github.com/mini-rodalies-3d/transitpipe/internal/report"
	"github.com/mini-rodalies-3d/transitpipe/internal/static"
)

func main() {
	configPath := pflag.StringP("config", "c", "transitpipe.yaml", "Path to the YAML config file")
	interval := pflag.Duration("interval", 0, "Run repeatedly on this interval instead of once")
	feeds := pflag.StringSlice("feed", nil, "Restrict the run to these feed ids (repeatable)")
	pflag.Parse()

	if err := run(*configPath, *interval, *feeds); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(configPath string, interval time.Duration, feeds []string) error {
	env, err := app.Load(configPath, "etl")
	if err != nil {
		return err
	}
	log := env.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := env.OpenDatabase(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	regs, err := env.StaticPlugins()
	if err != nil {
		return err
	}

	orch := static.New(static.Deps{
		Config:   env.Config.Static,
		Database: env.Config.Database,
		Registry: regs.Static,
		Schema:   database.Schema,
		Store:    database.Store,
		Logger:   log,
		Metrics:  metrics.New(),
	})

	once := func() error {
		r, err := orch.Run(ctx, feeds...)
		if r != nil {
			printReport(r)
		}
		return err
	}

	if interval <= 0 {
		return once()
	}

	log.Info("scheduled runs", "interval", interval)
	if err := once(); err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := once(); err != nil {
				log.Error("static run aborted", "error", err)
			}
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		}
	}
}

func printReport(r *report.Run) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(r)
}
