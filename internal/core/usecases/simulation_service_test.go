package usecases_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flightviz/dronepath/internal/core/domain"
	"github.com/flightviz/dronepath/internal/core/playback"
	"github.com/flightviz/dronepath/internal/core/usecases"
)

func newSimulation(t *testing.T) (*usecases.SimulationService, *usecases.RouteService, *playback.ManualScheduler, *mockPublisher) {
	t.Helper()
	sched := playback.NewManualScheduler()
	pub := &mockPublisher{}
	routes := newRouteService(nil, nil, pub, usecases.RouteConfig{})
	sim := usecases.NewSimulationService(playback.NewClock(sched), routes, pub)
	return sim, routes, sched, pub
}

func addTriangle(t *testing.T, routes *usecases.RouteService) {
	t.Helper()
	for _, wp := range []domain.Waypoint{
		{Latitude: 0, Longitude: 0, CityName: "A"},
		{Latitude: 10, Longitude: 10, CityName: "B"},
		{Latitude: 20, Longitude: 0, CityName: "C"},
	} {
		_, _, err := routes.AddWaypoint(context.Background(), usecases.AddWaypointRequest{
			Latitude: wp.Latitude, Longitude: wp.Longitude, CityName: wp.CityName, Lookup: boolPtr(false),
		})
		if err != nil {
			t.Fatalf("add waypoint: %v", err)
		}
	}
}

func TestBuildFrame_EmptyRouteHasNoPosition(t *testing.T) {
	f := usecases.BuildFrame(&domain.Route{}, domain.PlaybackState{Speed: 1, Progress: 50}, time.Now())
	if f.Position != nil {
		t.Errorf("expected nil position, got %+v", f.Position)
	}
	f = usecases.BuildFrame(nil, domain.PlaybackState{Speed: 1}, time.Now())
	if f.Position != nil || f.WaypointCount != 0 {
		t.Errorf("unexpected frame for nil route: %+v", f)
	}
}

func TestSimulationService_FrameFollowsProgress(t *testing.T) {
	sim, routes, _, _ := newSimulation(t)
	addTriangle(t, routes)

	f := sim.Seek(75)
	if f.Position == nil || f.Position.Lat != 15 || f.Position.Lon != 5 {
		t.Errorf("expected (15,5), got %+v", f.Position)
	}
	if f.Segment != 1 || f.WaypointCount != 3 || f.RouteVersion != 3 {
		t.Errorf("unexpected frame: %+v", f)
	}
}

func TestSimulationService_PublishesOnTick(t *testing.T) {
	sim, routes, sched, pub := newSimulation(t)
	addTriangle(t, routes)

	sim.SetSpeed(10)
	sim.Play()
	sched.Fire(0)
	sched.Fire(time.Second)

	last := pub.lastFrame()
	if !last.Playback.IsPlaying || last.Playback.Progress != 10 {
		t.Errorf("unexpected playback in last frame: %+v", last.Playback)
	}
	if last.Position == nil || last.Position.Lat != 2 || last.Position.Lon != 2 {
		t.Errorf("expected (2,2), got %+v", last.Position)
	}
}

func TestSimulationService_PublishesOnRouteChange(t *testing.T) {
	sim, routes, _, pub := newSimulation(t)
	sim.Seek(100)
	n := len(pub.frames)

	addTriangle(t, routes)
	if len(pub.frames) != n+3 {
		t.Fatalf("expected 3 more frames, got %d", len(pub.frames)-n)
	}
	last := pub.lastFrame()
	if last.Position == nil || last.Position.Lat != 20 || last.Position.Lon != 0 {
		t.Errorf("expected last waypoint, got %+v", last.Position)
	}

	routes.DeleteWaypoint(context.Background(), 2)
	last = pub.lastFrame()
	if last.Position.Lat != 10 || last.Position.Lon != 10 {
		t.Errorf("expected new last waypoint, got %+v", last.Position)
	}
}

func TestSimulationService_CommandsReturnFrames(t *testing.T) {
	sim, _, _, _ := newSimulation(t)

	if f := sim.Play(); !f.Playback.IsPlaying {
		t.Error("expected playing after Play")
	}
	if f := sim.Pause(); f.Playback.IsPlaying {
		t.Error("expected paused after Pause")
	}
	sim.SetSpeed(4)
	sim.Seek(30)
	f := sim.Reset()
	want := domain.PlaybackState{IsPlaying: false, Speed: 1, Progress: 0}
	if f.Playback != want {
		t.Errorf("expected %+v after reset, got %+v", want, f.Playback)
	}
}

func TestSimulationService_SetSpeedInvalid(t *testing.T) {
	sim, _, _, _ := newSimulation(t)
	if _, err := sim.SetSpeed(0); !errors.Is(err, playback.ErrInvalidSpeed) {
		t.Errorf("expected ErrInvalidSpeed, got %v", err)
	}
	if sim.State().Speed != 1 {
		t.Errorf("speed must be unchanged, got %f", sim.State().Speed)
	}
}

func TestSimulationService_PositionAt(t *testing.T) {
	sim, routes, _, _ := newSimulation(t)
	if _, _, ok := sim.PositionAt(50); ok {
		t.Error("expected ok=false for empty route")
	}

	addTriangle(t, routes)
	p, seg, ok := sim.PositionAt(25)
	if !ok || p.Lat != 5 || p.Lon != 5 || seg != 0 {
		t.Errorf("unexpected position %+v seg %d ok %v", p, seg, ok)
	}
	if sim.State().Progress != 0 {
		t.Error("PositionAt must not move the clock")
	}
}
