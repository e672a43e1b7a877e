package http

import (
	"github.com/nats-io/nats.go"

	"github.com/flightviz/dronepath/internal/adapters/postgres"
	"github.com/flightviz/dronepath/internal/adapters/valkey"
	"github.com/flightviz/dronepath/internal/core/ports"
	"github.com/flightviz/dronepath/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers. DB, NATS and
// Cache are nil when the backend is disabled.
type Dependencies struct {
	Simulation *usecases.SimulationService
	Routes     *usecases.RouteService
	Frames     ports.FrameSubscriber
	NATS       *nats.Conn
	DB         *postgres.DB
	Cache      *valkey.Cache
}
