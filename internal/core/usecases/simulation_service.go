package usecases

import (
	"context"
	"log/slog"
	"time"

	"github.com/flightviz/dronepath/internal/core/domain"
	"github.com/flightviz/dronepath/internal/core/flightpath"
	"github.com/flightviz/dronepath/internal/core/playback"
	"github.com/flightviz/dronepath/internal/core/ports"
	"github.com/flightviz/dronepath/internal/pkg/metrics"
)

// SimulationService joins the playback clock and the route into frames and
// publishes one on every clock or route change.
type SimulationService struct {
	clock     *playback.Clock
	routes    *RouteService
	publisher ports.FramePublisher
	now       func() time.Time
}

// NewSimulationService wires the clock and route listeners. publisher may be
// nil, in which case frames are only available by polling.
func NewSimulationService(clock *playback.Clock, routes *RouteService, publisher ports.FramePublisher) *SimulationService {
	s := &SimulationService{
		clock:     clock,
		routes:    routes,
		publisher: publisher,
		now:       time.Now,
	}
	clock.OnChange(func(state domain.PlaybackState) {
		s.publish(BuildFrame(s.routes.Current(), state, s.now()))
	})
	routes.OnChange(func(route *domain.Route, _ *domain.RouteEvent) {
		s.publish(BuildFrame(route, s.clock.State(), s.now()))
	})
	return s
}

// BuildFrame interpolates the position for state on route.
func BuildFrame(route *domain.Route, state domain.PlaybackState, at time.Time) domain.Frame {
	f := domain.Frame{
		WaypointCount: route.Len(),
		Playback:      state,
		Time:          at.UTC(),
	}
	if route != nil {
		f.RouteVersion = route.Version
	}
	if f.WaypointCount > 0 {
		p := flightpath.Interpolate(route.Waypoints, state.Progress)
		f.Position = &p
		f.Segment = flightpath.Segment(f.WaypointCount, state.Progress)
	}
	return f
}

// Frame returns the current frame.
func (s *SimulationService) Frame() domain.Frame {
	return BuildFrame(s.routes.Current(), s.clock.State(), s.now())
}

// State returns the playback state.
func (s *SimulationService) State() domain.PlaybackState {
	return s.clock.State()
}

// PositionAt interpolates the current route at progress without touching the
// clock. ok is false when the route is empty.
func (s *SimulationService) PositionAt(progress float64) (domain.GeoPoint, int, bool) {
	route := s.routes.Current()
	if route.Len() == 0 {
		return domain.GeoPoint{}, 0, false
	}
	return flightpath.Interpolate(route.Waypoints, progress), flightpath.Segment(route.Len(), progress), true
}

// Play starts playback.
func (s *SimulationService) Play() domain.Frame {
	return s.frameFor(s.clock.Play())
}

// Pause stops playback.
func (s *SimulationService) Pause() domain.Frame {
	return s.frameFor(s.clock.Pause())
}

// Reset returns the clock to its initial state.
func (s *SimulationService) Reset() domain.Frame {
	return s.frameFor(s.clock.Reset())
}

// Seek moves playback to progress.
func (s *SimulationService) Seek(progress float64) domain.Frame {
	return s.frameFor(s.clock.Seek(progress))
}

// SetSpeed changes the playback speed.
func (s *SimulationService) SetSpeed(speed float64) (domain.Frame, error) {
	state, err := s.clock.SetSpeed(speed)
	if err != nil {
		return domain.Frame{}, err
	}
	return s.frameFor(state), nil
}

func (s *SimulationService) frameFor(state domain.PlaybackState) domain.Frame {
	return BuildFrame(s.routes.Current(), state, s.now())
}

func (s *SimulationService) publish(f domain.Frame) {
	metrics.PlaybackProgress.Set(f.Playback.Progress)
	if f.Playback.IsPlaying {
		metrics.PlaybackPlaying.Set(1)
	} else {
		metrics.PlaybackPlaying.Set(0)
	}

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishFrame(context.Background(), &f); err != nil {
		metrics.FramesPublished.WithLabelValues("error").Inc()
		slog.Debug("publish frame failed", "error", err)
		return
	}
	metrics.FramesPublished.WithLabelValues("ok").Inc()
}
