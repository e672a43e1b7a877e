package http

import (
	"io/fs"
	nethttp "net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/flightviz/dronepath/internal/pkg/metrics"
	"github.com/flightviz/dronepath/web"
)

// geocodeTimeout bounds requests that may call the geocoder.
const geocodeTimeout = 15 * time.Second

// SetupRoutes registers all REST, GraphQL, WebSocket and static routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed, // Balance speed vs compression ratio
	}))

	// Request ID
	app.Use(requestid.New())

	// Trace context, request ID and request logger
	app.Use(RequestContextMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting per IP. The player UI polls and scrubs, so the limit is
	// well above what a person can click.
	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, 429, "rate_limited", "too many requests, please try again later")
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/ws" || c.Path() == "/metrics"
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Health & readiness
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")

	// Playback
	v1.Get("/simulation", GetSimulationHandler(deps))
	v1.Post("/simulation/play", PlayHandler(deps))
	v1.Post("/simulation/pause", PauseHandler(deps))
	v1.Post("/simulation/reset", ResetHandler(deps))
	v1.Put("/simulation/speed", SetSpeedHandler(deps))
	v1.Put("/simulation/progress", SeekHandler(deps))
	v1.Get("/position", PositionHandler(deps))

	// Route
	v1.Get("/route", GetRouteHandler(deps))
	v1.Get("/route/export", ExportRouteHandler(deps))
	v1.Post("/route/import", ImportRouteHandler(deps))
	v1.Get("/route/waypoints", ListWaypointsHandler(deps))
	v1.Post("/route/waypoints", timeout.NewWithContext(AddWaypointHandler(deps), geocodeTimeout))
	v1.Delete("/route/waypoints/:index", DeleteWaypointHandler(deps))

	// GraphQL
	app.Post("/graphql", timeout.NewWithContext(GraphQLHandler(deps), geocodeTimeout))

	// API documentation (Swagger UI)
	if err := SetupDocs(app); err != nil {
		panic("api docs: " + err.Error())
	}

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps)))

	// Player page
	static, err := fs.Sub(web.Assets, "static")
	if err != nil {
		panic("web assets: " + err.Error())
	}
	app.Use("/", filesystem.New(filesystem.Config{
		Root:   nethttp.FS(static),
		Index:  "index.html",
		MaxAge: 300,
	}))
}
