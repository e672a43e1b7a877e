// Package flightpath maps playback progress onto a position along a route.
//
// Interpolation is planar: latitude and longitude are interpolated
// independently between consecutive waypoints. This is not a great-circle
// path, which is close enough for short segments and visibly off for long
// ones or ones that cross the antimeridian.
package flightpath

import (
	"math"

	"github.com/flightviz/dronepath/internal/core/domain"
)

// MaxProgress is the progress value at which the drone sits on the last waypoint.
const MaxProgress = 100.0

// ClampProgress limits p to [0, MaxProgress]. NaN maps to 0.
func ClampProgress(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > MaxProgress:
		return MaxProgress
	}
	return p
}

// Interpolate returns the position at progress along route.
//
// An empty route yields the (0,0) sentinel; callers should not display it. A
// single waypoint is returned as-is for every progress.
func Interpolate(route []domain.Waypoint, progress float64) domain.GeoPoint {
	switch len(route) {
	case 0:
		return domain.GeoPoint{}
	case 1:
		return route[0].Point()
	}

	segment, fraction := locate(len(route), progress)
	start, end := route[segment], route[segment+1]

	return domain.GeoPoint{
		Lat: lerp(start.Latitude, end.Latitude, fraction),
		Lon: lerp(start.Longitude, end.Longitude, fraction),
	}
}

// Segment returns the index of the active segment for a route of n
// waypoints. Routes with fewer than two waypoints have no segments and
// report 0.
func Segment(n int, progress float64) int {
	if n < 2 {
		return 0
	}
	segment, _ := locate(n, progress)
	return segment
}

// locate maps progress onto segment space. The segment index is clamped to
// the last segment so progress 100 resolves to fraction 1 of that segment.
func locate(n int, progress float64) (segment int, fraction float64) {
	totalSegments := n - 1
	segmentProgress := ClampProgress(progress) / MaxProgress * float64(totalSegments)

	segment = int(math.Floor(segmentProgress))
	if segment > totalSegments-1 {
		segment = totalSegments - 1
	}
	if segment < 0 {
		segment = 0
	}
	return segment, segmentProgress - float64(segment)
}

func lerp(from, to, t float64) float64 {
	if t == 1 {
		return to
	}
	return from + (to-from)*t
}
