package domain

import (
	"time"
)

// Waypoint is a named point the drone passes through. The JSON names match
// the route file format.
type Waypoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	CityName  string  `json:"cityName"`
}

// Point returns the waypoint's coordinates.
func (w Waypoint) Point() GeoPoint {
	return GeoPoint{Lat: w.Latitude, Lon: w.Longitude}
}

// Route is an immutable snapshot of the flight path. Insertion order is
// flight order.
type Route struct {
	DroneName string     `json:"drone_name,omitempty"`
	Waypoints []Waypoint `json:"waypoints"`
	Version   uint64     `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Len returns the number of waypoints; a nil route has none.
func (r *Route) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Waypoints)
}

// RouteFile is the import/export document.
type RouteFile struct {
	DroneName string     `json:"droneName"`
	Waypoints []Waypoint `json:"waypoints"`
}

// RouteStats summarizes a route.
type RouteStats struct {
	Waypoints  int     `json:"waypoints"`
	Segments   int     `json:"segments"`
	DistanceKm float64 `json:"distance_km"`
	Bounds     *Bounds `json:"bounds,omitempty"`
}

// PlaybackState is the observable state of the playback clock.
type PlaybackState struct {
	IsPlaying bool    `json:"is_playing"`
	Speed     float64 `json:"speed"`
	Progress  float64 `json:"progress"` // percent of the whole route, 0-100
}

// Frame is what the rendering side consumes on every state change.
type Frame struct {
	RouteVersion  uint64        `json:"route_version"`
	WaypointCount int           `json:"waypoint_count"`
	Position      *GeoPoint     `json:"position"` // nil when the route is empty
	Segment       int           `json:"segment"`
	Playback      PlaybackState `json:"playback"`
	Time          time.Time     `json:"time"`
}

// RouteEvent describes a route mutation.
type RouteEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // added | deleted | imported
	Version   uint64    `json:"version"`
	Index     int       `json:"index,omitempty"`
	Waypoint  *Waypoint `json:"waypoint,omitempty"`
	Waypoints int       `json:"waypoints"`
	Time      time.Time `json:"time"`
}

// Route event kinds.
const (
	RouteEventAdded    = "added"
	RouteEventDeleted  = "deleted"
	RouteEventImported = "imported"
)
