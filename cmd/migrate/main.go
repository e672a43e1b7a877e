package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/flightviz/dronepath/internal/adapters/postgres"
	"github.com/flightviz/dronepath/internal/pkg/config"
	"github.com/flightviz/dronepath/internal/pkg/logging"
	"github.com/flightviz/dronepath/migrations"
)

func main() {
	flags := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	steps := flags.IntP("steps", "n", 1, "migrations to revert with down (0 = all)")
	timeout := flags.Duration("timeout", time.Minute, "overall timeout")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [flags] <up|down|status>")
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load("flightviz-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Telemetry.ServiceName)

	ms, err := postgres.LoadMigrations(migrations.Files)
	if err != nil {
		log.Fatalf("load migrations: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// The database is used here even when the API runs without one.
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Telemetry.ServiceName)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	switch flags.Arg(0) {
	case "up":
		n, err := db.MigrateUp(ctx, ms)
		if err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		slog.Info("migrations applied", "count", n)
	case "down":
		n, err := db.MigrateDown(ctx, ms, *steps)
		if err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		slog.Info("migrations reverted", "count", n)
	case "status":
		applied, err := db.AppliedVersions(ctx)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		for _, m := range ms {
			state := "pending"
			if applied[m.Version] {
				state = "applied"
			}
			fmt.Printf("%03d_%-30s %s\n", m.Version, m.Name, state)
		}
	default:
		log.Fatalf("unknown command: %s", flags.Arg(0))
	}
}
