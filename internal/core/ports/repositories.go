package ports

import (
	"context"

	"github.com/flightviz/dronepath/internal/core/domain"
)

// RouteRepository persists the current route so it survives restarts.
// There is only ever one route.
type RouteRepository interface {
	// Save stores the route, replacing whatever was stored before.
	Save(ctx context.Context, route *domain.Route) error
	// Load returns the stored route, or (nil, nil) if none was saved yet.
	Load(ctx context.Context) (*domain.Route, error)
}
