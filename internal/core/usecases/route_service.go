package usecases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/flightviz/dronepath/internal/core/domain"
	"github.com/flightviz/dronepath/internal/core/ports"
	"github.com/flightviz/dronepath/internal/pkg/geospatial"
	"github.com/flightviz/dronepath/internal/pkg/metrics"
	"github.com/flightviz/dronepath/internal/pkg/telemetry"
)

// RouteConfig tunes route validation.
type RouteConfig struct {
	ValidateCoordinates bool
	MaxWaypoints        int // 0 means unlimited
}

// AddWaypointRequest is a waypoint as entered by the user.
type AddWaypointRequest struct {
	Latitude  float64
	Longitude float64
	CityName  string
	// Lookup forces (true) or suppresses (false) geocoding. When nil the city
	// is looked up only if latitude or longitude is exactly zero.
	Lookup *bool
}

// NeedsLookup reports whether the city name should be geocoded.
func (r AddWaypointRequest) NeedsLookup() bool {
	if r.Lookup != nil {
		return *r.Lookup
	}
	return r.Latitude == 0 || r.Longitude == 0
}

// RouteListener is called after every route change with the new snapshot.
// Listeners see changes one at a time in version order and must not change
// the route.
type RouteListener func(route *domain.Route, event *domain.RouteEvent)

// RouteService owns the single current route. Readers get immutable
// snapshots; writers serialize on mu and replace the snapshot whole.
type RouteService struct {
	// pubMu is held from a swap until the change is saved and announced, so
	// changes go out in version order. Always taken before mu.
	pubMu   sync.Mutex
	mu      sync.Mutex
	current atomic.Pointer[domain.Route]

	repo      ports.RouteRepository // optional
	geocoder  *GeocodeService       // optional
	publisher ports.FramePublisher  // optional
	cfg       RouteConfig

	lmu       sync.RWMutex
	listeners []RouteListener
}

// NewRouteService creates a RouteService holding an empty route.
func NewRouteService(repo ports.RouteRepository, geocoder *GeocodeService, publisher ports.FramePublisher, cfg RouteConfig) *RouteService {
	s := &RouteService{repo: repo, geocoder: geocoder, publisher: publisher, cfg: cfg}
	s.current.Store(&domain.Route{Waypoints: []domain.Waypoint{}})
	return s
}

// OnChange registers a listener.
func (s *RouteService) OnChange(l RouteListener) {
	s.lmu.Lock()
	s.listeners = append(s.listeners, l)
	s.lmu.Unlock()
}

// Restore loads the stored route, if any, as the current route.
func (s *RouteService) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	route, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore route: %w", err)
	}
	if route == nil {
		return nil
	}
	if route.Waypoints == nil {
		route.Waypoints = []domain.Waypoint{}
	}
	s.mu.Lock()
	s.current.Store(route)
	s.mu.Unlock()
	metrics.RouteWaypoints.Set(float64(route.Len()))
	slog.Info("route restored", "version", route.Version, "waypoints", route.Len())
	return nil
}

// Current returns the current snapshot. Callers must not modify it.
func (s *RouteService) Current() *domain.Route {
	return s.current.Load()
}

// Waypoints returns up to limit waypoints starting at offset, and the total.
func (s *RouteService) Waypoints(offset, limit int) ([]domain.Waypoint, int) {
	wps := s.Current().Waypoints
	total := len(wps)
	if offset >= total {
		return []domain.Waypoint{}, total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return wps[offset:end], total
}

// Stats summarizes the current route.
func (s *RouteService) Stats() domain.RouteStats {
	return RouteStats(s.Current())
}

// RouteStats computes waypoint, segment and distance totals for route.
func RouteStats(route *domain.Route) domain.RouteStats {
	n := route.Len()
	stats := domain.RouteStats{Waypoints: n}
	if n == 0 {
		return stats
	}
	stats.Segments = n - 1

	first := route.Waypoints[0]
	b := domain.Bounds{MinLat: first.Latitude, MaxLat: first.Latitude, MinLon: first.Longitude, MaxLon: first.Longitude}
	path := make([][2]float64, n)
	for i, wp := range route.Waypoints {
		path[i] = [2]float64{wp.Latitude, wp.Longitude}
		b.Extend(wp.Point())
	}
	stats.DistanceKm = geospatial.PathLength(path) / 1000
	stats.Bounds = &b
	return stats
}

// AddWaypoint appends a waypoint, geocoding its city name when requested.
// A failed lookup leaves the route unchanged.
func (s *RouteService) AddWaypoint(ctx context.Context, req AddWaypointRequest) (*domain.Route, domain.Waypoint, error) {
	wp := domain.Waypoint{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		CityName:  strings.TrimSpace(req.CityName),
	}
	if wp.CityName == "" {
		return nil, wp, ErrCityNameRequired
	}

	if req.NeedsLookup() {
		if s.geocoder == nil {
			return nil, wp, domain.ErrGeocodeUnavailable
		}
		p, err := s.geocoder.Lookup(ctx, wp.CityName)
		if err != nil {
			return nil, wp, err
		}
		wp.Latitude, wp.Longitude = p.Lat, p.Lon
	}
	if err := s.checkCoordinates(wp); err != nil {
		return nil, wp, err
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.mu.Lock()
	cur := s.current.Load()
	if s.cfg.MaxWaypoints > 0 && cur.Len() >= s.cfg.MaxWaypoints {
		s.mu.Unlock()
		return nil, wp, fmt.Errorf("%w: limit is %d", ErrTooManyWaypoints, s.cfg.MaxWaypoints)
	}
	wps := make([]domain.Waypoint, 0, cur.Len()+1)
	wps = append(wps, cur.Waypoints...)
	wps = append(wps, wp)
	next := s.swapLocked(cur.DroneName, wps)
	s.mu.Unlock()

	added := wp
	s.changed(ctx, next, &domain.RouteEvent{
		Kind:     domain.RouteEventAdded,
		Index:    next.Len() - 1,
		Waypoint: &added,
	})
	return next, wp, nil
}

// DeleteWaypoint removes the waypoint at index.
func (s *RouteService) DeleteWaypoint(ctx context.Context, index int) (*domain.Route, error) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.mu.Lock()
	cur := s.current.Load()
	if index < 0 || index >= cur.Len() {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	removed := cur.Waypoints[index]
	wps := make([]domain.Waypoint, 0, cur.Len()-1)
	wps = append(wps, cur.Waypoints[:index]...)
	wps = append(wps, cur.Waypoints[index+1:]...)
	next := s.swapLocked(cur.DroneName, wps)
	s.mu.Unlock()

	s.changed(ctx, next, &domain.RouteEvent{
		Kind:     domain.RouteEventDeleted,
		Index:    index,
		Waypoint: &removed,
	})
	return next, nil
}

// Import parses a route document and makes it the current route. On any
// error the current route is left as it was.
func (s *RouteService) Import(ctx context.Context, r io.Reader) (*domain.Route, error) {
	ctx, span := tracer.Start(ctx, telemetry.SpanRouteImport)
	defer span.End()

	file, err := ParseRouteFile(r)
	if err == nil {
		err = s.checkFile(file)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RouteImports.WithLabelValues("rejected").Inc()
		return nil, err
	}
	span.SetAttributes(attribute.Int("route.waypoints", len(file.Waypoints)))

	route := s.Replace(ctx, file)
	metrics.RouteImports.WithLabelValues("accepted").Inc()
	return route, nil
}

// Replace installs file as the current route without further validation.
func (s *RouteService) Replace(ctx context.Context, file *domain.RouteFile) *domain.Route {
	wps := make([]domain.Waypoint, len(file.Waypoints))
	copy(wps, file.Waypoints)

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.mu.Lock()
	next := s.swapLocked(file.DroneName, wps)
	s.mu.Unlock()

	s.changed(ctx, next, &domain.RouteEvent{Kind: domain.RouteEventImported})
	return next
}

// Export returns the current route in import format.
func (s *RouteService) Export(w io.Writer) error {
	return EncodeRouteFile(w, s.Current())
}

func (s *RouteService) checkFile(file *domain.RouteFile) error {
	if s.cfg.MaxWaypoints > 0 && len(file.Waypoints) > s.cfg.MaxWaypoints {
		return fmt.Errorf("%w: %d waypoints, limit is %d", ErrInvalidRoute, len(file.Waypoints), s.cfg.MaxWaypoints)
	}
	for i, wp := range file.Waypoints {
		if err := s.checkCoordinates(wp); err != nil {
			return fmt.Errorf("%w: waypoint %d: %v", ErrInvalidRoute, i, err)
		}
	}
	return nil
}

func (s *RouteService) checkCoordinates(wp domain.Waypoint) error {
	if s.cfg.ValidateCoordinates && !wp.Point().Valid() {
		return fmt.Errorf("%w: (%g, %g)", ErrInvalidCoordinate, wp.Latitude, wp.Longitude)
	}
	return nil
}

func (s *RouteService) swapLocked(droneName string, wps []domain.Waypoint) *domain.Route {
	next := &domain.Route{
		DroneName: droneName,
		Waypoints: wps,
		Version:   s.current.Load().Version + 1,
		UpdatedAt: time.Now().UTC(),
	}
	s.current.Store(next)
	return next
}

// changed persists and announces a new snapshot. Persistence and publish
// failures are logged; the in-memory route stays authoritative.
func (s *RouteService) changed(ctx context.Context, route *domain.Route, event *domain.RouteEvent) {
	metrics.RouteWaypoints.Set(float64(route.Len()))

	event.ID = uuid.NewString()
	event.Version = route.Version
	event.Waypoints = route.Len()
	event.Time = route.UpdatedAt

	if s.repo != nil {
		if err := s.repo.Save(ctx, route); err != nil {
			slog.Error("persist route failed", "version", route.Version, "error", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishRouteEvent(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("publish route event failed", "kind", event.Kind, "error", err)
		}
	}

	s.lmu.RLock()
	listeners := s.listeners
	s.lmu.RUnlock()
	for _, l := range listeners {
		l(route, event)
	}
}
