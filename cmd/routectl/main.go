// Command routectl manages the stored route from the shell: validate, import
// and export route files, list saved versions, and follow route events.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	natsadapter "github.com/flightviz/dronepath/internal/adapters/nats"
	"github.com/flightviz/dronepath/internal/adapters/postgres"
	"github.com/flightviz/dronepath/internal/core/domain"
	"github.com/flightviz/dronepath/internal/core/ports"
	"github.com/flightviz/dronepath/internal/core/usecases"
	"github.com/flightviz/dronepath/internal/pkg/config"
	"github.com/flightviz/dronepath/internal/pkg/logging"
)

const usage = `usage: routectl <command> [flags]

commands:
  validate <file>   check a route file and print its summary
  import <file>     store a route file as the current route
  export            write the stored route to stdout
  history           list saved route versions
  watch             print route events as they are published
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load("flightviz-routectl")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Telemetry.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "validate":
		err = runValidate(args)
	case "import":
		err = runImport(ctx, cfg, args)
	case "export":
		err = runExport(ctx, cfg, args)
	case "history":
		err = runHistory(ctx, cfg, args)
	case "watch":
		err = runWatch(ctx, cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func fileArg(flags *pflag.FlagSet, args []string) (string, error) {
	if err := flags.Parse(args); err != nil {
		return "", err
	}
	if flags.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one route file")
	}
	return flags.Arg(0), nil
}

func runValidate(args []string) error {
	flags := pflag.NewFlagSet("validate", pflag.ExitOnError)
	strict := flags.Bool("strict", false, "also require coordinates within [-90,90] and [-180,180]")
	path, err := fileArg(flags, args)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	svc := usecases.NewRouteService(nil, nil, nil, usecases.RouteConfig{ValidateCoordinates: *strict})
	route, err := svc.Import(context.Background(), f)
	if err != nil {
		return err
	}
	printStats(route)
	return nil
}

func runImport(ctx context.Context, cfg *config.Config, args []string) error {
	flags := pflag.NewFlagSet("import", pflag.ExitOnError)
	path, err := fileArg(flags, args)
	if err != nil {
		return err
	}

	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()

	var publisher ports.FramePublisher
	if cfg.NATS.Enabled {
		nc, err := natsadapter.Connect(cfg.NATS.URL, cfg.Telemetry.ServiceName)
		if err != nil {
			return err
		}
		pub, err := natsadapter.NewPublisher(nc)
		if err != nil {
			return err
		}
		defer pub.Close()
		publisher = pub
	}

	svc := usecases.NewRouteService(postgres.NewRouteRepo(db), nil, publisher, usecases.RouteConfig{
		ValidateCoordinates: cfg.Route.ValidateCoordinates,
		MaxWaypoints:        cfg.Route.MaxWaypoints,
	})
	// Continue the stored version sequence so the new route supersedes it.
	if err := svc.Restore(ctx); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	route, err := svc.Import(ctx, f)
	if err != nil {
		return err
	}
	slog.Info("route stored", "version", route.Version, "waypoints", route.Len(), "drone", route.DroneName)
	printStats(route)
	return nil
}

func runExport(ctx context.Context, cfg *config.Config, args []string) error {
	flags := pflag.NewFlagSet("export", pflag.ExitOnError)
	format := flags.StringP("format", "f", "json", "json or geojson")
	out := flags.StringP("output", "o", "", "write to file instead of stdout")
	if err := flags.Parse(args); err != nil {
		return err
	}

	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()

	route, err := postgres.NewRouteRepo(db).Load(ctx)
	if err != nil {
		return err
	}
	if route == nil {
		route = &domain.Route{}
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	switch *format {
	case "json":
		return usecases.EncodeRouteFile(w, route)
	case "geojson":
		return usecases.EncodeRouteGeoJSON(w, route)
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
}

func runHistory(ctx context.Context, cfg *config.Config, args []string) error {
	flags := pflag.NewFlagSet("history", pflag.ExitOnError)
	limit := flags.IntP("limit", "n", 20, "number of versions to list")
	if err := flags.Parse(args); err != nil {
		return err
	}

	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()

	routes, err := postgres.NewRouteRepo(db).History(ctx, *limit)
	if err != nil {
		return err
	}
	for i := range routes {
		r := &routes[i]
		stats := usecases.RouteStats(r)
		fmt.Printf("v%-5d %s  %-20q %3d waypoints %9.1f km\n",
			r.Version, r.UpdatedAt.Format(time.RFC3339), r.DroneName, stats.Waypoints, stats.DistanceKm)
	}
	return nil
}

func runWatch(ctx context.Context, cfg *config.Config, args []string) error {
	flags := pflag.NewFlagSet("watch", pflag.ExitOnError)
	durable := flags.String("durable", "routectl-watch", "JetStream durable consumer name")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if !cfg.NATS.Enabled {
		return fmt.Errorf("nats is disabled (set FLIGHTVIZ_NATS_ENABLED=true)")
	}

	nc, err := natsadapter.Connect(cfg.NATS.URL, "routectl-watch")
	if err != nil {
		return err
	}
	defer nc.Drain()

	sub, err := natsadapter.NewSubscriber(nc)
	if err != nil {
		return err
	}
	defer sub.Close()

	enc := json.NewEncoder(os.Stdout)
	err = sub.SubscribeRouteEvents(ctx, *durable, func(ctx context.Context, event *domain.RouteEvent) error {
		return enc.Encode(event)
	})
	if err != nil {
		return err
	}

	slog.Info("watching route events", "durable", *durable)
	<-ctx.Done()
	return nil
}

func printStats(route *domain.Route) {
	stats := usecases.RouteStats(route)
	fmt.Printf("drone:     %s\nwaypoints: %d\nsegments:  %d\ndistance:  %.1f km\n",
		route.DroneName, stats.Waypoints, stats.Segments, stats.DistanceKm)
}
