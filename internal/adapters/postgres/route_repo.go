package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/flightviz/dronepath/internal/core/domain"
)

// routeSlot is the primary key of the single current-route row.
const routeSlot = 1

// RouteRepo implements ports.RouteRepository. The current route lives in one
// row of route_snapshots; every saved version is also appended to
// route_history.
type RouteRepo struct {
	db *DB
}

func NewRouteRepo(db *DB) *RouteRepo { return &RouteRepo{db: db} }

// Save stores route as the current route. An older version never overwrites
// a newer one.
func (r *RouteRepo) Save(ctx context.Context, route *domain.Route) error {
	waypoints, err := json.Marshal(route.Waypoints)
	if err != nil {
		return fmt.Errorf("encode waypoints: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO route_snapshots (id, version, drone_name, waypoints, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET version = EXCLUDED.version, drone_name = EXCLUDED.drone_name,
		    waypoints = EXCLUDED.waypoints, updated_at = EXCLUDED.updated_at
		WHERE route_snapshots.version < EXCLUDED.version
	`, routeSlot, int64(route.Version), route.DroneName, waypoints, route.UpdatedAt)
	batch.Queue(`
		INSERT INTO route_history (version, drone_name, waypoints, recorded_at)
		VALUES ($1, $2, $3, $4)
	`, int64(route.Version), route.DroneName, waypoints, route.UpdatedAt)

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}

// Load returns the stored route, or nil if none was ever saved.
func (r *RouteRepo) Load(ctx context.Context) (*domain.Route, error) {
	var (
		route     domain.Route
		version   int64
		waypoints []byte
	)
	err := r.db.Pool.QueryRow(ctx, `
		SELECT version, drone_name, waypoints, updated_at
		FROM route_snapshots WHERE id = $1
	`, routeSlot).Scan(&version, &route.DroneName, &waypoints, &route.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(waypoints, &route.Waypoints); err != nil {
		return nil, fmt.Errorf("decode waypoints: %w", err)
	}
	route.Version = uint64(version)
	return &route, nil
}

// History returns up to limit saved versions, newest first.
func (r *RouteRepo) History(ctx context.Context, limit int) ([]domain.Route, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT version, drone_name, waypoints, recorded_at
		FROM route_history ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []domain.Route
	for rows.Next() {
		var (
			rt        domain.Route
			version   int64
			waypoints []byte
		)
		if err := rows.Scan(&version, &rt.DroneName, &waypoints, &rt.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(waypoints, &rt.Waypoints); err != nil {
			return nil, fmt.Errorf("decode waypoints: %w", err)
		}
		rt.Version = uint64(version)
		routes = append(routes, rt)
	}
	return routes, rows.Err()
}
