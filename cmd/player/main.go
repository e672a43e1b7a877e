// Command player plays a route file back without the HTTP server. Frames go to
// NATS when it is enabled, or to stdout as JSON lines with --emit.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	natsadapter "github.com/flightviz/dronepath/internal/adapters/nats"
	"github.com/flightviz/dronepath/internal/core/domain"
	"github.com/flightviz/dronepath/internal/core/flightpath"
	"github.com/flightviz/dronepath/internal/core/playback"
	"github.com/flightviz/dronepath/internal/core/ports"
	"github.com/flightviz/dronepath/internal/core/usecases"
	"github.com/flightviz/dronepath/internal/pkg/config"
	"github.com/flightviz/dronepath/internal/pkg/logging"
)

func main() {
	flags := pflag.NewFlagSet("player", pflag.ExitOnError)
	speed := flags.Float64P("speed", "s", playback.DefaultSpeed, "progress percentage points per second")
	fps := flags.Int("fps", 0, "frames per second (default simulation.frame_rate)")
	from := flags.Float64("from", 0, "start progress, 0-100")
	loop := flags.Bool("loop", false, "restart from the beginning when the route completes")
	emit := flags.Bool("emit", false, "write frames to stdout as JSON lines")
	every := flags.Duration("report", 5*time.Second, "progress log interval")
	_ = flags.Parse(os.Args[1:])
	if flags.NArg() != 1 {
		log.Fatal("usage: player [flags] <route.json>")
	}

	cfg, err := config.Load("flightviz-player")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Telemetry.ServiceName)
	if *fps <= 0 {
		*fps = cfg.Simulation.FrameRate
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Frame sink
	var publisher ports.FramePublisher = discard{}
	switch {
	case cfg.NATS.Enabled:
		nc, err := natsadapter.Connect(cfg.NATS.URL, cfg.Telemetry.ServiceName)
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
		pub, err := natsadapter.NewPublisher(nc)
		if err != nil {
			log.Fatalf("nats publisher: %v", err)
		}
		defer pub.Close()
		publisher = pub
	case *emit:
		publisher = newLinePublisher(os.Stdout)
	}

	routes := usecases.NewRouteService(nil, nil, publisher, usecases.RouteConfig{
		ValidateCoordinates: cfg.Route.ValidateCoordinates,
		MaxWaypoints:        cfg.Route.MaxWaypoints,
	})
	f, err := os.Open(flags.Arg(0))
	if err != nil {
		log.Fatalf("open route: %v", err)
	}
	route, err := routes.Import(ctx, f)
	f.Close()
	if err != nil {
		log.Fatalf("route: %v", err)
	}

	scheduler := playback.NewTickerScheduler(*fps)
	clock := playback.NewClock(scheduler, playback.WithAutoStop(true))
	sim := usecases.NewSimulationService(clock, routes, publisher)

	finished := make(chan struct{}, 1)
	clock.OnChange(func(s domain.PlaybackState) {
		if !s.IsPlaying && s.Progress >= flightpath.MaxProgress {
			select {
			case finished <- struct{}{}:
			default:
			}
		}
	})

	start := func() error {
		sim.Seek(*from)
		if _, err := sim.SetSpeed(*speed); err != nil {
			return err
		}
		sim.Play()
		return nil
	}
	if err := start(); err != nil {
		log.Fatalf("speed: %v", err)
	}

	stats := usecases.RouteStats(route)
	slog.Info("playback started", "drone", route.DroneName, "waypoints", stats.Waypoints,
		"distance_km", stats.DistanceKm, "speed", *speed, "fps", *fps,
		"duration", time.Duration((flightpath.MaxProgress-flightpath.ClampProgress(*from)) / *speed * float64(time.Second)))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				sim.Pause()
				return nil
			case <-finished:
				slog.Info("route completed")
				if !*loop {
					stop()
					return nil
				}
				sim.Reset()
				*from = 0
				if err := start(); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(*every)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				fr := sim.Frame()
				attrs := []any{"progress", fr.Playback.Progress, "segment", fr.Segment}
				if fr.Position != nil {
					attrs = append(attrs, "lat", fr.Position.Lat, "lon", fr.Position.Lon)
				}
				slog.Info("playback", attrs...)
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("player: %v", err)
	}
	slog.Info("player stopped", "progress", sim.State().Progress)
}

// discard drops everything; used when frames have nowhere to go.
type discard struct{}

func (discard) PublishFrame(context.Context, *domain.Frame) error           { return nil }
func (discard) PublishRouteEvent(context.Context, *domain.RouteEvent) error { return nil }

// linePublisher writes frames and route events as JSON lines.
type linePublisher struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLinePublisher(w io.Writer) *linePublisher {
	return &linePublisher{enc: json.NewEncoder(w)}
}

func (p *linePublisher) PublishFrame(_ context.Context, f *domain.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(f)
}

func (p *linePublisher) PublishRouteEvent(_ context.Context, e *domain.RouteEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(struct {
		Type  string             `json:"type"`
		Event *domain.RouteEvent `json:"event"`
	}{"route", e})
}
