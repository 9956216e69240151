// Command migrate applies, rolls back or lists the canonical schema
// migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/mini-rodalies-3d/transitpipe/internal/app"
)

func usageAndDie() {
	fmt.Println("Example usage:\n" +
		"    migrate [--config transitpipe.yaml] up\n" +
		"    migrate [--config transitpipe.yaml] down --steps 1\n" +
		"    migrate [--config transitpipe.yaml] status")
	os.Exit(1)
}

func main() {
	configPath := pflag.StringP("config", "c", "transitpipe.yaml", "Path to the YAML config file")
	steps := pflag.IntP("steps", "n", 1, "Number of migrations to roll back with down")
	pflag.Parse()

	if pflag.NArg() != 1 {
		usageAndDie()
	}
	if err := run(*configPath, pflag.Arg(0), *steps); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(configPath, cmd string, steps int) error {
	env, err := app.Load(configPath, "migrate")
	if err != nil {
		return err
	}
	ctx := context.Background()

	database, err := env.OpenDatabase(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	mgr := database.Schema

	switch cmd {
	case "up":
		if err := mgr.EnsureSchema(ctx, env.Config.Database.Schema); err != nil {
			return err
		}
		applied, err := mgr.Migrate(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Println("Already up to date")
		}
		for _, id := range applied {
			fmt.Println("applied", id)
		}
	case "down":
		if steps < 1 {
			return fmt.Errorf("--steps must be at least 1, got %d", steps)
		}
		rolled, err := mgr.Rollback(ctx, steps)
		if err != nil {
			return err
		}
		for _, id := range rolled {
			fmt.Println("rolled back", id)
		}
	case "status":
		statuses, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MIGRATION\tAPPLIED\tAT")
		for _, s := range statuses {
			fmt.Fprintf(w, "%s\t%t\t%s\n", s.ID, s.Applied, s.AppliedAt)
		}
		return w.Flush()
	default:
		usageAndDie()
	}
	return nil
}
