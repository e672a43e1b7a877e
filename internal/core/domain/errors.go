package domain

import "errors"

// Geocoding failures. Both are reported to the user; neither is retried.
var (
	ErrGeocodeNotFound    = errors.New("city not found")
	ErrGeocodeUnavailable = errors.New("geocoding service unavailable")
)
