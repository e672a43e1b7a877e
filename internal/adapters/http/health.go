package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Version is reported by the health endpoint; set at link time.
var Version = "dev"

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status       string `json:"status"`
	Uptime       string `json:"uptime"`
	Version      string `json:"version"`
	RouteVersion uint64 `json:"route_version"`
	Playing      bool   `json:"playing"`
}

// HealthHandler reports liveness along with the route version and play state,
// which tells an operator whether the process is doing anything.
func HealthHandler(deps *Dependencies) fiber.Handler {
	startedAt := time.Now()

	return func(c *fiber.Ctx) error {
		return c.JSON(HealthResponse{
			Status:       "healthy",
			Uptime:       time.Since(startedAt).Round(time.Second).String(),
			Version:      Version,
			RouteVersion: deps.Routes.Current().Version,
			Playing:      deps.Simulation.State().IsPlaying,
		})
	}
}

// ReadinessResponse lists one check per optional backend.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ReadyHandler checks the enabled backends. Disabled backends report
// "disabled" and do not affect readiness; the service runs fully in memory
// without them.
func ReadyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		resp := ReadinessResponse{Status: "ready", Checks: map[string]string{}}
		check := func(name string, enabled bool, probe func() error) {
			if !enabled {
				resp.Checks[name] = "disabled"
				return
			}
			if err := probe(); err != nil {
				resp.Checks[name] = "error: " + err.Error()
				resp.Status = "not ready"
				return
			}
			resp.Checks[name] = "ok"
		}

		check("database", deps.DB != nil, func() error { return deps.DB.Ping(ctx) })
		check("nats", deps.NATS != nil, func() error {
			if !deps.NATS.IsConnected() {
				return errDisconnected
			}
			return nil
		})
		check("cache", deps.Cache != nil, func() error { return deps.Cache.Ping(ctx) })

		code := fiber.StatusOK
		if resp.Status != "ready" {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(resp)
	}
}
