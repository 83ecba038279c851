package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	catalogpostgres "github.com/querypilot/querypilot/internal/catalog/postgres"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/migrations"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("querypilot-migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	direction := fs.String("direction", "up", "migration direction: up|down|status")
	steps := fs.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	timeout := fs.Duration("timeout", 2*time.Minute, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	switch *direction {
	case "up", "down", "status":
	default:
		_, _ = fmt.Fprintf(stderr, "invalid direction: %s\n", *direction)
		return 2
	}

	cfg, err := config.LoadFromEnv("querypilot-migrate")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfig{
		DSN:        cfg.Catalog.DSN,
		Attempts:   cfg.Catalog.ConnectAttempts,
		RetryDelay: cfg.Catalog.ConnectRetryDelay,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "catalog connection failed: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	runner := migrations.NewRunner()
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, db, *steps)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "migration up failed: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "applied %d migration(s)\n", applied)
	case "down":
		rolledBack, err := runner.Down(ctx, db, *steps)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "migration down failed: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "rolled back %d migration(s)\n", rolledBack)
	case "status":
		status, err := runner.Status(ctx, db)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "migration status failed: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "applied: %v\npending: %v\n", status.Applied, status.Pending)
		if len(status.Drifted) > 0 {
			_, _ = fmt.Fprintf(stdout, "drifted: %v\n", status.Drifted)
			return 1
		}
	}
	return 0
}
