package usecases

import "errors"

var (
	// ErrInvalidRoute wraps every reason a route file is rejected.
	ErrInvalidRoute      = errors.New("invalid route file")
	ErrIndexOutOfRange   = errors.New("waypoint index out of range")
	ErrInvalidCoordinate = errors.New("coordinate out of range")
	ErrCityNameRequired  = errors.New("city name is required")
	ErrTooManyWaypoints  = errors.New("too many waypoints")
)
