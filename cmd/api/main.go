package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/flightviz/dronepath/internal/adapters/http"
	"github.com/flightviz/dronepath/internal/adapters/memory"
	natsadapter "github.com/flightviz/dronepath/internal/adapters/nats"
	"github.com/flightviz/dronepath/internal/adapters/nominatim"
	"github.com/flightviz/dronepath/internal/adapters/postgres"
	"github.com/flightviz/dronepath/internal/adapters/valkey"
	"github.com/flightviz/dronepath/internal/core/playback"
	"github.com/flightviz/dronepath/internal/core/ports"
	"github.com/flightviz/dronepath/internal/core/usecases"
	"github.com/flightviz/dronepath/internal/pkg/config"
	"github.com/flightviz/dronepath/internal/pkg/logging"
	"github.com/flightviz/dronepath/internal/pkg/metrics"
	"github.com/flightviz/dronepath/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("flightviz-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logging.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Telemetry.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.Enabled, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		slog.Warn("telemetry init failed", "error", err)
	} else {
		defer shutdownTracer(context.Background())
	}

	deps := &http.Dependencies{}

	// Database (optional): keeps the route across restarts
	var routeRepo ports.RouteRepository
	if cfg.Database.Enabled {
		db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Telemetry.ServiceName)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		deps.DB = db
		routeRepo = postgres.NewRouteRepo(db)
		go reportPoolStats(ctx, db)
	}

	// Cache (optional): geocoding results
	var cache ports.CacheService
	if cfg.Valkey.Enabled {
		c, err := valkey.New(cfg.Valkey.Addr, "flightviz:")
		if err != nil {
			slog.Warn("valkey unavailable, geocode cache disabled", "error", err)
		} else {
			defer c.Close()
			deps.Cache = c
			cache = c
		}
	}

	// Frame fan-out: NATS when enabled, in-process hub otherwise
	var (
		publisher  ports.FramePublisher
		subscriber ports.FrameSubscriber
	)
	if cfg.NATS.Enabled {
		nc, err := natsadapter.Connect(cfg.NATS.URL, cfg.Telemetry.ServiceName)
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
		pub, err := natsadapter.NewPublisher(nc)
		if err != nil {
			log.Fatalf("nats publisher: %v", err)
		}
		defer pub.Close()
		sub, err := natsadapter.NewSubscriber(nc)
		if err != nil {
			log.Fatalf("nats subscriber: %v", err)
		}
		defer sub.Close()
		publisher, subscriber = pub, sub
		deps.NATS = nc
	} else {
		hub := memory.NewHub(memory.DefaultBuffer)
		publisher, subscriber = hub, hub
	}
	deps.Frames = subscriber

	// Use cases
	geocoder := nominatim.New(cfg.Geocoder.BaseURL, cfg.Geocoder.UserAgent,
		time.Duration(cfg.Geocoder.Timeout)*time.Second, cfg.Geocoder.RateLimit)
	geocodeSvc := usecases.NewGeocodeService(geocoder, cache, time.Duration(cfg.Geocoder.CacheTTL)*time.Second)
	routeSvc := usecases.NewRouteService(routeRepo, geocodeSvc, publisher, usecases.RouteConfig{
		ValidateCoordinates: cfg.Route.ValidateCoordinates,
		MaxWaypoints:        cfg.Route.MaxWaypoints,
	})
	if err := routeSvc.Restore(ctx); err != nil {
		slog.Warn("could not restore route, starting empty", "error", err)
	}

	scheduler := playback.NewTickerScheduler(cfg.Simulation.FrameRate)
	clock := playback.NewClock(scheduler, playback.WithAutoStop(cfg.Simulation.AutoStop))
	deps.Simulation = usecases.NewSimulationService(clock, routeSvc, publisher)
	deps.Routes = routeSvc
	go scheduler.Run(ctx)

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    usecases.MaxRouteFileBytes + 64*1024, // route file plus multipart overhead
		AppName:      "Drone Flight Playback",
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "frame_rate", cfg.Simulation.FrameRate,
			"nats", cfg.NATS.Enabled, "database", cfg.Database.Enabled, "cache", cfg.Valkey.Enabled)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Stop the clock first so no frames are published into closed connections
	clock.Pause()
	cancel()

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// reportPoolStats copies pgx pool counters into Prometheus gauges.
func reportPoolStats(ctx context.Context, db *postgres.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBPoolMetrics(db.Pool.Stat())
		}
	}
}
