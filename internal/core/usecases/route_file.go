package usecases

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/flightviz/dronepath/internal/core/domain"
)

// MaxRouteFileBytes bounds the size of an imported route file.
const MaxRouteFileBytes = 1 << 20

// Pointer fields tell a missing key apart from a zero value.
type rawWaypoint struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	CityName  *string  `json:"cityName"`
}

type rawRouteFile struct {
	DroneName *string        `json:"droneName"`
	Waypoints *[]rawWaypoint `json:"waypoints"`
}

// ParseRouteFile decodes and checks a route document. Nothing is returned
// unless the whole document is valid.
func ParseRouteFile(r io.Reader) (*domain.RouteFile, error) {
	dec := json.NewDecoder(io.LimitReader(r, MaxRouteFileBytes+1))

	var raw rawRouteFile
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidRoute)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoute, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: unexpected data after route object", ErrInvalidRoute)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected data after route object", ErrInvalidRoute)
	}
	if raw.Waypoints == nil {
		return nil, fmt.Errorf("%w: missing waypoints array", ErrInvalidRoute)
	}

	file := &domain.RouteFile{Waypoints: make([]domain.Waypoint, 0, len(*raw.Waypoints))}
	if raw.DroneName != nil {
		file.DroneName = *raw.DroneName
	}

	for i, w := range *raw.Waypoints {
		switch {
		case w.Latitude == nil:
			return nil, fmt.Errorf("%w: waypoint %d: missing latitude", ErrInvalidRoute, i)
		case w.Longitude == nil:
			return nil, fmt.Errorf("%w: waypoint %d: missing longitude", ErrInvalidRoute, i)
		case w.CityName == nil:
			return nil, fmt.Errorf("%w: waypoint %d: missing cityName", ErrInvalidRoute, i)
		}
		file.Waypoints = append(file.Waypoints, domain.Waypoint{
			Latitude:  *w.Latitude,
			Longitude: *w.Longitude,
			CityName:  *w.CityName,
		})
	}
	return file, nil
}

// EncodeRouteFile writes route in the import format.
func EncodeRouteFile(w io.Writer, route *domain.Route) error {
	file := domain.RouteFile{Waypoints: []domain.Waypoint{}}
	if route != nil {
		file.DroneName = route.DroneName
		file.Waypoints = append(file.Waypoints, route.Waypoints...)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(file)
}
