package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/flightviz/dronepath/internal/core/domain"
	"github.com/flightviz/dronepath/internal/core/playback"
	"github.com/flightviz/dronepath/internal/core/usecases"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: bad_request, not_found, geocode_not_found, etc.
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

var errDisconnected = errors.New("disconnected")

// invalidRouteFileMessage is shown to users whose upload was rejected.
const invalidRouteFileMessage = "Invalid file format. Please upload a valid JSON file."

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, 404, "not_found", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, 500, "internal_error", msg)
}

// errConflict returns a 409 error.
func errConflict(c *fiber.Ctx, msg string) error {
	return newError(c, 409, "conflict", msg)
}

// errUnprocessable returns a 422 error with a specific code.
func errUnprocessable(c *fiber.Ctx, code, msg string) error {
	return newError(c, 422, code, msg)
}

// errBadGateway returns a 502 error with a specific code.
func errBadGateway(c *fiber.Ctx, code, msg string) error {
	return newError(c, 502, code, msg)
}

// writeError maps service errors to API errors.
func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, usecases.ErrInvalidRoute):
		return newError(c, 400, "invalid_route_file", invalidRouteFileMessage+" "+err.Error())
	case errors.Is(err, domain.ErrGeocodeNotFound):
		return errUnprocessable(c, "geocode_not_found", "City not found. Please check the name or enter coordinates manually.")
	case errors.Is(err, domain.ErrGeocodeUnavailable):
		return errBadGateway(c, "geocode_unavailable", "Geocoding service is unavailable. Please try again or enter coordinates manually.")
	case errors.Is(err, usecases.ErrIndexOutOfRange):
		return errNotFound(c, err.Error())
	case errors.Is(err, usecases.ErrTooManyWaypoints):
		return errConflict(c, err.Error())
	case errors.Is(err, usecases.ErrCityNameRequired),
		errors.Is(err, usecases.ErrInvalidCoordinate),
		errors.Is(err, playback.ErrInvalidSpeed):
		return errBadRequest(c, err.Error())
	default:
		LoggerFromCtx(c.UserContext()).Error("request failed", "error", err)
		return errInternal(c, "internal error")
	}
}
