// Command poller keeps the real-time cache fresh and serves it over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mini-rodalies-3d/transitpipe/internal/api"
	"github.com/mini-rodalies-3d/transitpipe/internal/app"
	"github.com/mini-rodalies-3d/transitpipe/internal/cache"
	"github.com/mini-rodalies-3d/transitpipe/internal/metrics"
	"github.com/mini-rodalies-3d/transitpipe/internal/realtime"
)

func main() {
	configPath := pflag.StringP("config", "c", "transitpipe.yaml", "Path to the YAML config file")
	once := pflag.Bool("once", false, "Poll every feed once, print the cache as JSON and exit")
	pflag.Parse()

	if err := run(*configPath, *once); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(configPath string, once bool) error {
	env, err := app.Load(configPath, "poller")
	if err != nil {
		return err
	}
	log := env.Logger
	cfg := env.Config

	regs, err := env.RealtimePlugins()
	if err != nil {
		return err
	}

	loc, err := cfg.Realtime.Location()
	if err != nil {
		return err
	}

	c := cache.New()
	m := metrics.New()
	m.Baselines = metrics.NewBaselineLearner(loc)
	loop, err := realtime.New(realtime.Deps{
		Config:   cfg.Realtime,
		Registry: regs.Realtime,
		Cache:    c,
		Logger:   log,
		Metrics:  m,
	})
	if err != nil {
		return err
	}

	if once {
		loop.PollOnce(context.Background())
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(c.GetAll())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(cfg.Server.Port, api.Deps{
		Cache:       c,
		Metrics:     m,
		Realtime:    cfg.Realtime,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("goodbye")
	return err
}
