package http

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/flightviz/dronepath/internal/core/domain"
	"github.com/flightviz/dronepath/internal/core/usecases"
)

// Speed limits of the control surface, matching the UI slider.
const (
	MinSpeed = 1
	MaxSpeed = 10
)

// ---- Simulation ----

// GetSimulationHandler returns the current frame.
func GetSimulationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("Cache-Control", "no-store")
		return c.JSON(deps.Simulation.Frame())
	}
}

// PlayHandler starts playback.
func PlayHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(deps.Simulation.Play())
	}
}

// PauseHandler stops playback, keeping progress.
func PauseHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(deps.Simulation.Pause())
	}
}

// ResetHandler stops playback and rewinds to the start at default speed.
func ResetHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(deps.Simulation.Reset())
	}
}

var speedRangeMessage = fmt.Sprintf("speed must be an integer between %d and %d", MinSpeed, MaxSpeed)

func validSpeed(s float64) bool {
	return s == math.Trunc(s) && s >= MinSpeed && s <= MaxSpeed
}

type speedRequest struct {
	Speed *float64 `json:"speed"`
}

// SetSpeedHandler changes the playback speed. Speeds are whole numbers
// between MinSpeed and MaxSpeed.
func SetSpeedHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req speedRequest
		if err := c.BodyParser(&req); err != nil || req.Speed == nil {
			return errBadRequest(c, "body must be {\"speed\": <number>}")
		}
		if !validSpeed(*req.Speed) {
			return errBadRequest(c, speedRangeMessage)
		}

		frame, err := deps.Simulation.SetSpeed(*req.Speed)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(frame)
	}
}

type progressRequest struct {
	Progress *float64 `json:"progress"`
}

// SeekHandler moves playback to a progress percentage. Values outside 0-100
// are clamped.
func SeekHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req progressRequest
		if err := c.BodyParser(&req); err != nil || req.Progress == nil {
			return errBadRequest(c, "body must be {\"progress\": <number>}")
		}
		return c.JSON(deps.Simulation.Seek(*req.Progress))
	}
}

// PositionResponse is an interpolated position that is not tied to the clock.
type PositionResponse struct {
	Progress float64          `json:"progress"`
	Position *domain.GeoPoint `json:"position"`
	Segment  int              `json:"segment"`
}

// PositionHandler previews the position at an arbitrary progress.
func PositionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Query("progress")
		if raw == "" {
			return errBadRequest(c, "progress query parameter is required")
		}
		progress, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(progress) || math.IsInf(progress, 0) {
			return errBadRequest(c, "progress must be a number")
		}

		resp := PositionResponse{Progress: progress}
		if p, seg, ok := deps.Simulation.PositionAt(progress); ok {
			resp.Position = &p
			resp.Segment = seg
		}
		return c.JSON(resp)
	}
}

// ---- Route ----

// RouteResponse is the current route with its summary.
type RouteResponse struct {
	Route *domain.Route     `json:"route"`
	Stats domain.RouteStats `json:"stats"`
}

// GetRouteHandler returns the current route and stats.
func GetRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		route := deps.Routes.Current()
		return c.JSON(RouteResponse{Route: route, Stats: usecases.RouteStats(route)})
	}
}

// IndexedWaypoint is a waypoint with its position in the route.
type IndexedWaypoint struct {
	Index int `json:"index"`
	domain.Waypoint
}

// ListWaypointsHandler returns the route's waypoints, paginated.
func ListWaypointsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		pg := ParsePagination(c)
		page, total := deps.Routes.Waypoints(pg.Offset, pg.Limit)
		items := make([]IndexedWaypoint, len(page))
		for i, wp := range page {
			items[i] = IndexedWaypoint{Index: pg.Offset + i, Waypoint: wp}
		}

		pg.Total = total
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: items, Pagination: pg})
	}
}

type addWaypointRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	CityName  string   `json:"cityName"`
	Lookup    *bool    `json:"lookup"`
}

// AddWaypointResponse describes the appended waypoint.
type AddWaypointResponse struct {
	Index        int             `json:"index"`
	Waypoint     domain.Waypoint `json:"waypoint"`
	RouteVersion uint64          `json:"route_version"`
}

// AddWaypointHandler appends a waypoint. Missing coordinates count as 0, so
// a request with only a city name is geocoded.
func AddWaypointHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body addWaypointRequest
		if err := c.BodyParser(&body); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		req := usecases.AddWaypointRequest{CityName: body.CityName, Lookup: body.Lookup}
		if body.Latitude != nil {
			req.Latitude = *body.Latitude
		}
		if body.Longitude != nil {
			req.Longitude = *body.Longitude
		}

		route, wp, err := deps.Routes.AddWaypoint(c.UserContext(), req)
		if err != nil {
			return writeError(c, err)
		}
		LoggerFromCtx(c.UserContext()).Info("waypoint added",
			"city", wp.CityName, "lat", wp.Latitude, "lon", wp.Longitude, "version", route.Version)

		return c.Status(201).JSON(AddWaypointResponse{
			Index:        route.Len() - 1,
			Waypoint:     wp,
			RouteVersion: route.Version,
		})
	}
}

// DeleteWaypointHandler removes the waypoint at :index.
func DeleteWaypointHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		index, err := strconv.Atoi(c.Params("index"))
		if err != nil {
			return errBadRequest(c, "index must be an integer")
		}
		route, err := deps.Routes.DeleteWaypoint(c.UserContext(), index)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(RouteResponse{Route: route, Stats: usecases.RouteStats(route)})
	}
}

// ImportRouteHandler replaces the route with an uploaded route file. The file
// is taken from the multipart field "file", or from the raw body otherwise.
func ImportRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body []byte
		if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
			fh, err := c.FormFile("file")
			if err != nil {
				return errBadRequest(c, "multipart field \"file\" is required")
			}
			if fh.Size > usecases.MaxRouteFileBytes {
				return newError(c, 413, "payload_too_large", "route file is too large")
			}
			f, err := fh.Open()
			if err != nil {
				return errBadRequest(c, "cannot read uploaded file")
			}
			defer f.Close()
			var buf bytes.Buffer
			if _, err := buf.ReadFrom(f); err != nil {
				return errBadRequest(c, "cannot read uploaded file")
			}
			body = buf.Bytes()
		} else {
			body = c.Body()
		}

		route, err := deps.Routes.Import(c.UserContext(), bytes.NewReader(body))
		if err != nil {
			return writeError(c, err)
		}
		LoggerFromCtx(c.UserContext()).Info("route imported",
			"drone", route.DroneName, "waypoints", route.Len(), "version", route.Version)

		return c.JSON(RouteResponse{Route: route, Stats: usecases.RouteStats(route)})
	}
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Export formats.
const (
	FormatJSON    = "json"
	FormatGeoJSON = "geojson"
)

// ExportFilename returns the download name for a route in format.
func ExportFilename(droneName, format string) string {
	ext := ".json"
	if format == FormatGeoJSON {
		ext = ".geojson"
	}
	name := strings.Trim(unsafeFileChars.ReplaceAllString(droneName, "-"), "-.")
	if name == "" {
		return "route" + ext
	}
	return name + "-route" + ext
}

// ExportRouteHandler downloads the current route, in import format by
// default or as GeoJSON with ?format=geojson.
func ExportRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		format := strings.ToLower(c.Query("format", FormatJSON))
		route := deps.Routes.Current()

		var (
			buf         bytes.Buffer
			err         error
			contentType string
		)
		switch format {
		case FormatJSON:
			err = usecases.EncodeRouteFile(&buf, route)
			contentType = fiber.MIMEApplicationJSONCharsetUTF8
		case FormatGeoJSON:
			err = usecases.EncodeRouteGeoJSON(&buf, route)
			contentType = "application/geo+json"
		default:
			return errBadRequest(c, "format must be json or geojson")
		}
		if err != nil {
			return errInternal(c, err.Error())
		}

		c.Attachment(ExportFilename(route.DroneName, format))
		c.Set(fiber.HeaderContentType, contentType)
		c.Set("Cache-Control", "no-store")
		return c.Send(buf.Bytes())
	}
}
