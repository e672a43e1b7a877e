package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	handler "github.com/flightviz/dronepath/internal/adapters/http"
	"github.com/flightviz/dronepath/internal/adapters/memory"
	"github.com/flightviz/dronepath/internal/core/domain"
	"github.com/flightviz/dronepath/internal/core/playback"
	"github.com/flightviz/dronepath/internal/core/usecases"
)

// ---- Mock geocoder ----

type mockGeocoder struct {
	lookupFn func(ctx context.Context, name string) (*domain.GeoPoint, error)
	calls    int
}

func (m *mockGeocoder) Lookup(ctx context.Context, name string) (*domain.GeoPoint, error) {
	m.calls++
	if m.lookupFn != nil {
		return m.lookupFn(ctx, name)
	}
	return nil, domain.ErrGeocodeNotFound
}

// ---- Test helpers ----

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

// makeDeps wires real services over a manual clock and the in-memory hub.
func makeDeps(geo *mockGeocoder) *handler.Dependencies {
	if geo == nil {
		geo = &mockGeocoder{}
	}
	hub := memory.NewHub(memory.DefaultBuffer)
	routes := usecases.NewRouteService(nil, usecases.NewGeocodeService(geo, nil, 0), hub, usecases.RouteConfig{})
	clock := playback.NewClock(playback.NewManualScheduler())
	return &handler.Dependencies{
		Simulation: usecases.NewSimulationService(clock, routes, hub),
		Routes:     routes,
		Frames:     hub,
	}
}

func do(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func readBody(t *testing.T, body io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}

const triangleRoute = `{"droneName":"Scout","waypoints":[
	{"latitude":0,"longitude":0,"cityName":"A"},
	{"latitude":10,"longitude":10,"cityName":"B"},
	{"latitude":20,"longitude":0,"cityName":"C"}]}`

func importTriangle(t *testing.T, app *fiber.App) {
	t.Helper()
	resp := do(t, app, "POST", "/v1/route/import", triangleRoute)
	if resp.StatusCode != 200 {
		t.Fatalf("import: expected 200, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}
}

// ---- Playback ----

func TestGetSimulation_InitialFrame(t *testing.T) {
	app := setupApp(makeDeps(nil))

	resp := do(t, app, "GET", "/v1/simulation", "")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("expected Cache-Control no-store, got %q", cc)
	}

	var f domain.Frame
	decode(t, resp, &f)
	if f.Playback.IsPlaying || f.Playback.Speed != 1 || f.Playback.Progress != 0 {
		t.Errorf("unexpected initial state: %+v", f.Playback)
	}
	if f.Position != nil || f.WaypointCount != 0 {
		t.Errorf("empty route must have no position, got %+v", f)
	}
}

func TestPlayPauseReset(t *testing.T) {
	app := setupApp(makeDeps(nil))

	var f domain.Frame
	decode(t, do(t, app, "POST", "/v1/simulation/play", ""), &f)
	if !f.Playback.IsPlaying {
		t.Error("expected playing after play")
	}

	decode(t, do(t, app, "PUT", "/v1/simulation/progress", `{"progress":40}`), &f)
	decode(t, do(t, app, "POST", "/v1/simulation/pause", ""), &f)
	if f.Playback.IsPlaying || f.Playback.Progress != 40 {
		t.Errorf("pause must keep progress, got %+v", f.Playback)
	}

	do(t, app, "PUT", "/v1/simulation/speed", `{"speed":7}`)
	decode(t, do(t, app, "POST", "/v1/simulation/reset", ""), &f)
	if f.Playback.IsPlaying || f.Playback.Progress != 0 || f.Playback.Speed != 1 {
		t.Errorf("reset must restore defaults, got %+v", f.Playback)
	}
}

func TestSetSpeed(t *testing.T) {
	cases := []struct {
		body   string
		status int
	}{
		{`{"speed":5}`, 200},
		{`{"speed":1}`, 200},
		{`{"speed":10}`, 200},
		{`{"speed":0}`, 400},
		{`{"speed":11}`, 400},
		{`{"speed":-3}`, 400},
		{`{"speed":2.5}`, 400},
		{`{}`, 400},
		{`{"speed":"fast"}`, 400},
	}
	for _, tc := range cases {
		t.Run(tc.body, func(t *testing.T) {
			app := setupApp(makeDeps(nil))
			resp := do(t, app, "PUT", "/v1/simulation/speed", tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
			if tc.status != 200 {
				var e handler.APIError
				decode(t, resp, &e)
				if e.Code != "bad_request" {
					t.Errorf("expected bad_request, got %q", e.Code)
				}
			}
		})
	}
}

func TestSeek_ClampsOutOfRange(t *testing.T) {
	app := setupApp(makeDeps(nil))

	var f domain.Frame
	decode(t, do(t, app, "PUT", "/v1/simulation/progress", `{"progress":150}`), &f)
	if f.Playback.Progress != 100 {
		t.Errorf("expected 100, got %v", f.Playback.Progress)
	}
	decode(t, do(t, app, "PUT", "/v1/simulation/progress", `{"progress":-5}`), &f)
	if f.Playback.Progress != 0 {
		t.Errorf("expected 0, got %v", f.Playback.Progress)
	}

	if resp := do(t, app, "PUT", "/v1/simulation/progress", `{}`); resp.StatusCode != 400 {
		t.Errorf("missing progress: expected 400, got %d", resp.StatusCode)
	}
}

func TestSeek_FramePosition(t *testing.T) {
	app := setupApp(makeDeps(nil))
	importTriangle(t, app)

	var f domain.Frame
	decode(t, do(t, app, "PUT", "/v1/simulation/progress", `{"progress":75}`), &f)
	if f.Position == nil || f.Position.Lat != 15 || f.Position.Lon != 5 || f.Segment != 1 {
		t.Errorf("expected (15,5) on segment 1, got %+v segment %d", f.Position, f.Segment)
	}
}

func TestPosition(t *testing.T) {
	app := setupApp(makeDeps(nil))

	var p handler.PositionResponse
	decode(t, do(t, app, "GET", "/v1/position?progress=30", ""), &p)
	if p.Position != nil {
		t.Errorf("empty route must have no position, got %+v", p.Position)
	}

	importTriangle(t, app)
	decode(t, do(t, app, "GET", "/v1/position?progress=25", ""), &p)
	if p.Position == nil || p.Position.Lat != 5 || p.Position.Lon != 5 || p.Segment != 0 {
		t.Errorf("expected (5,5) on segment 0, got %+v", p)
	}

	// A preview does not move the clock
	var f domain.Frame
	decode(t, do(t, app, "GET", "/v1/simulation", ""), &f)
	if f.Playback.Progress != 0 {
		t.Errorf("preview must not seek, progress is %v", f.Playback.Progress)
	}

	for _, q := range []string{"", "?progress=abc", "?progress=NaN"} {
		if resp := do(t, app, "GET", "/v1/position"+q, ""); resp.StatusCode != 400 {
			t.Errorf("%q: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

// ---- Waypoints ----

func TestAddWaypoint_WithCoordinates(t *testing.T) {
	geo := &mockGeocoder{}
	app := setupApp(makeDeps(geo))

	resp := do(t, app, "POST", "/v1/route/waypoints", `{"latitude":48.85,"longitude":2.35,"cityName":"Paris"}`)
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}
	var added handler.AddWaypointResponse
	decode(t, resp, &added)
	if added.Index != 0 || added.Waypoint.CityName != "Paris" || added.RouteVersion != 1 {
		t.Errorf("unexpected response: %+v", added)
	}
	if geo.calls != 0 {
		t.Errorf("coordinates given, geocoder must not be called (%d calls)", geo.calls)
	}
}

func TestAddWaypoint_Geocoded(t *testing.T) {
	geo := &mockGeocoder{
		lookupFn: func(ctx context.Context, name string) (*domain.GeoPoint, error) {
			if name != "Bilbao" {
				t.Errorf("unexpected lookup %q", name)
			}
			return &domain.GeoPoint{Lat: 43.26, Lon: -2.93}, nil
		},
	}
	app := setupApp(makeDeps(geo))

	resp := do(t, app, "POST", "/v1/route/waypoints", `{"cityName":"Bilbao"}`)
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var added handler.AddWaypointResponse
	decode(t, resp, &added)
	if added.Waypoint.Latitude != 43.26 || added.Waypoint.Longitude != -2.93 {
		t.Errorf("expected geocoded coordinates, got %+v", added.Waypoint)
	}
	if geo.calls != 1 {
		t.Errorf("expected exactly one lookup, got %d", geo.calls)
	}
}

func TestAddWaypoint_LookupSuppressed(t *testing.T) {
	geo := &mockGeocoder{}
	app := setupApp(makeDeps(geo))

	resp := do(t, app, "POST", "/v1/route/waypoints", `{"latitude":0,"longitude":9.19,"cityName":"Equator","lookup":false}`)
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if geo.calls != 0 {
		t.Error("lookup:false must skip geocoding")
	}
}

func TestAddWaypoint_GeocodeFailures(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", domain.ErrGeocodeNotFound, 422, "geocode_not_found"},
		{"unavailable", domain.ErrGeocodeUnavailable, 502, "geocode_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			geo := &mockGeocoder{
				lookupFn: func(ctx context.Context, name string) (*domain.GeoPoint, error) {
					return nil, fmt.Errorf("upstream: %w", tc.err)
				},
			}
			deps := makeDeps(geo)
			app := setupApp(deps)

			resp := do(t, app, "POST", "/v1/route/waypoints", `{"cityName":"Atlantis"}`)
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
			var e handler.APIError
			decode(t, resp, &e)
			if e.Code != tc.code {
				t.Errorf("expected code %s, got %s", tc.code, e.Code)
			}
			if deps.Routes.Current().Len() != 0 {
				t.Error("failed lookup must leave the route unchanged")
			}
		})
	}
}

func TestAddWaypoint_MissingCity(t *testing.T) {
	app := setupApp(makeDeps(nil))

	resp := do(t, app, "POST", "/v1/route/waypoints", `{"latitude":1,"longitude":2,"cityName":"  "}`)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestListWaypoints_Pagination(t *testing.T) {
	app := setupApp(makeDeps(nil))
	for i := 1; i <= 5; i++ {
		body := fmt.Sprintf(`{"latitude":%d,"longitude":%d,"cityName":"W%d"}`, i, i, i)
		if resp := do(t, app, "POST", "/v1/route/waypoints", body); resp.StatusCode != 201 {
			t.Fatalf("add %d: got %d", i, resp.StatusCode)
		}
	}

	resp := do(t, app, "GET", "/v1/route/waypoints?offset=2&limit=2", "")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	link := resp.Header.Get("Link")
	if !strings.Contains(link, `rel="next"`) || !strings.Contains(link, `rel="prev"`) {
		t.Errorf("expected next and prev links, got %s", link)
	}

	var result struct {
		Data       []handler.IndexedWaypoint `json:"data"`
		Pagination handler.Pagination        `json:"pagination"`
	}
	decode(t, resp, &result)
	if result.Pagination.Total != 5 || len(result.Data) != 2 {
		t.Fatalf("unexpected page: %+v", result)
	}
	if result.Data[0].Index != 2 || result.Data[0].CityName != "W3" {
		t.Errorf("expected W3 at index 2, got %+v", result.Data[0])
	}
}

func TestDeleteWaypoint(t *testing.T) {
	app := setupApp(makeDeps(nil))
	importTriangle(t, app)

	resp := do(t, app, "DELETE", "/v1/route/waypoints/1", "")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var rr handler.RouteResponse
	decode(t, resp, &rr)
	if rr.Route.Len() != 2 || rr.Route.Waypoints[1].CityName != "C" || rr.Stats.Segments != 1 {
		t.Errorf("unexpected route after delete: %+v", rr)
	}

	if resp := do(t, app, "DELETE", "/v1/route/waypoints/7", ""); resp.StatusCode != 404 {
		t.Errorf("out of range: expected 404, got %d", resp.StatusCode)
	}
	if resp := do(t, app, "DELETE", "/v1/route/waypoints/x", ""); resp.StatusCode != 400 {
		t.Errorf("non-integer: expected 400, got %d", resp.StatusCode)
	}
}

// ---- Import / export ----

func TestImportRoute_RawJSON(t *testing.T) {
	app := setupApp(makeDeps(nil))

	resp := do(t, app, "POST", "/v1/route/import", triangleRoute)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var rr handler.RouteResponse
	decode(t, resp, &rr)
	if rr.Route.DroneName != "Scout" || rr.Route.Len() != 3 || rr.Stats.Segments != 2 {
		t.Errorf("unexpected import result: %+v", rr)
	}
	if rr.Stats.DistanceKm <= 0 || rr.Stats.Bounds == nil || rr.Stats.Bounds.MaxLat != 20 {
		t.Errorf("unexpected stats: %+v", rr.Stats)
	}
}

func TestImportRoute_Multipart(t *testing.T) {
	app := setupApp(makeDeps(nil))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "route.json")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(triangleRoute))
	mw.Close()

	req := httptest.NewRequest("POST", "/v1/route/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}
	var rr handler.RouteResponse
	decode(t, resp, &rr)
	if rr.Route.Len() != 3 {
		t.Errorf("expected 3 waypoints, got %d", rr.Route.Len())
	}
}

func TestImportRoute_InvalidLeavesRoute(t *testing.T) {
	deps := makeDeps(nil)
	app := setupApp(deps)
	importTriangle(t, app)

	for _, body := range []string{
		`not json`,
		`{"droneName":"x"}`,
		`{"waypoints":[{"latitude":1,"longitude":2}]}`,
		`{"waypoints":[{"latitude":"1","longitude":2,"cityName":"A"}]}`,
		`{"waypoints":[]} trailing`,
	} {
		resp := do(t, app, "POST", "/v1/route/import", body)
		if resp.StatusCode != 400 {
			t.Errorf("%s: expected 400, got %d", body, resp.StatusCode)
			continue
		}
		var e handler.APIError
		decode(t, resp, &e)
		if e.Code != "invalid_route_file" || !strings.HasPrefix(e.Message, "Invalid file format.") {
			t.Errorf("%s: unexpected error %+v", body, e)
		}
	}
	if deps.Routes.Current().Len() != 3 {
		t.Error("rejected imports must leave the route unchanged")
	}
}

func TestExportRoute(t *testing.T) {
	app := setupApp(makeDeps(nil))
	importTriangle(t, app)

	resp := do(t, app, "GET", "/v1/route/export", "")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="Scout-route.json"` {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("unexpected Content-Type %q", ct)
	}

	// The export imports again unchanged
	exported := readBody(t, resp.Body)
	var file domain.RouteFile
	if err := json.Unmarshal(exported, &file); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}
	if file.DroneName != "Scout" || len(file.Waypoints) != 3 || file.Waypoints[2].CityName != "C" {
		t.Errorf("unexpected export: %+v", file)
	}
	if resp := do(t, app, "POST", "/v1/route/import", string(exported)); resp.StatusCode != 200 {
		t.Errorf("re-import failed with %d", resp.StatusCode)
	}
}

func TestExportRoute_GeoJSON(t *testing.T) {
	app := setupApp(makeDeps(nil))
	importTriangle(t, app)

	resp := do(t, app, "GET", "/v1/route/export?format=geojson", "")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("unexpected Content-Type %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "Scout-route.geojson") {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
		} `json:"features"`
	}
	decode(t, resp, &fc)
	if fc.Type != "FeatureCollection" || len(fc.Features) != 4 || fc.Features[3].Geometry.Type != "LineString" {
		t.Errorf("unexpected feature collection: %+v", fc)
	}

	if resp := do(t, app, "GET", "/v1/route/export?format=kml", ""); resp.StatusCode != 400 {
		t.Errorf("unknown format: expected 400, got %d", resp.StatusCode)
	}
}

func TestExportFilename(t *testing.T) {
	cases := []struct {
		drone, format, want string
	}{
		{"", handler.FormatJSON, "route.json"},
		{"Scout", handler.FormatJSON, "Scout-route.json"},
		{"Sky Hawk/2", handler.FormatJSON, "Sky-Hawk-2-route.json"},
		{"../..", handler.FormatJSON, "route.json"},
		{"Scout", handler.FormatGeoJSON, "Scout-route.geojson"},
	}
	for _, tc := range cases {
		if got := handler.ExportFilename(tc.drone, tc.format); got != tc.want {
			t.Errorf("ExportFilename(%q, %q) = %q, want %q", tc.drone, tc.format, got, tc.want)
		}
	}
}

// ---- GraphQL ----

func queryGraphQL(t *testing.T, app *fiber.App, query string) map[string]interface{} {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"query": query})
	resp := do(t, app, "POST", "/graphql", string(body))
	if resp.StatusCode != 200 {
		t.Fatalf("graphql: expected 200, got %d", resp.StatusCode)
	}
	var result map[string]interface{}
	decode(t, resp, &result)
	return result
}

func TestGraphQL_Simulation(t *testing.T) {
	app := setupApp(makeDeps(nil))
	importTriangle(t, app)

	res := queryGraphQL(t, app, `mutation { seek(progress: 50) { waypoint_count position { lat lon } playback { progress } } }`)
	if res["errors"] != nil {
		t.Fatalf("unexpected errors: %v", res["errors"])
	}
	seek := res["data"].(map[string]interface{})["seek"].(map[string]interface{})
	pos := seek["position"].(map[string]interface{})
	if pos["lat"] != 10.0 || pos["lon"] != 10.0 || seek["waypoint_count"] != 3.0 {
		t.Errorf("unexpected seek result: %v", seek)
	}

	res = queryGraphQL(t, app, `{ route { drone_name waypoints { cityName } } routeStats { segments } }`)
	data := res["data"].(map[string]interface{})
	if data["route"].(map[string]interface{})["drone_name"] != "Scout" {
		t.Errorf("unexpected route: %v", data["route"])
	}
	if data["routeStats"].(map[string]interface{})["segments"] != 2.0 {
		t.Errorf("unexpected stats: %v", data["routeStats"])
	}
}

func TestGraphQL_SetSpeedValidation(t *testing.T) {
	app := setupApp(makeDeps(nil))

	res := queryGraphQL(t, app, `mutation { setSpeed(speed: 11) { playback { speed } } }`)
	if res["errors"] == nil {
		t.Error("expected an error for speed 11")
	}

	res = queryGraphQL(t, app, `mutation { setSpeed(speed: 4) { playback { speed } } }`)
	if res["errors"] != nil {
		t.Fatalf("unexpected errors: %v", res["errors"])
	}
	speed := res["data"].(map[string]interface{})["setSpeed"].(map[string]interface{})["playback"].(map[string]interface{})["speed"]
	if speed != 4.0 {
		t.Errorf("expected speed 4, got %v", speed)
	}
}

func TestGraphQL_AddWaypointNotFound(t *testing.T) {
	app := setupApp(makeDeps(&mockGeocoder{}))

	res := queryGraphQL(t, app, `mutation { addWaypoint(cityName: "Atlantis") { index } }`)
	if res["errors"] == nil {
		t.Error("expected a geocoding error")
	}
}

// ---- Health ----

func TestHealth_Returns200(t *testing.T) {
	app := setupApp(makeDeps(nil))

	resp := do(t, app, "GET", "/v1/health", "")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result handler.HealthResponse
	decode(t, resp, &result)
	if result.Status != "healthy" {
		t.Errorf("expected healthy status, got %v", result.Status)
	}
	if result.RouteVersion != 0 || result.Playing {
		t.Errorf("expected a fresh process, got %+v", result)
	}
}

func TestReady_BackendsDisabled(t *testing.T) {
	// DB, NATS and Cache are nil: the service runs in memory and is ready
	app := setupApp(makeDeps(nil))

	resp := do(t, app, "GET", "/v1/ready", "")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, resp, &result)
	if result.Status != "ready" || result.Checks["database"] != "disabled" || result.Checks["nats"] != "disabled" {
		t.Errorf("unexpected readiness: %+v", result)
	}
}

// ---- Middleware ----

func TestAPIVersionHeader(t *testing.T) {
	app := setupApp(makeDeps(nil))

	resp := do(t, app, "GET", "/v1/health", "")
	if v := resp.Header.Get("X-API-Version"); v != "1.0.0" {
		t.Errorf("expected X-API-Version 1.0.0, got %q", v)
	}
}

func TestRouteETag(t *testing.T) {
	app := setupApp(makeDeps(nil))
	importTriangle(t, app)

	resp := do(t, app, "GET", "/v1/route", "")
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag on route")
	}

	req := httptest.NewRequest("GET", "/v1/route", nil)
	req.Header.Set("If-None-Match", etag)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 304 {
		t.Errorf("expected 304, got %d", resp.StatusCode)
	}

	if resp := do(t, app, "GET", "/v1/simulation", ""); resp.Header.Get("ETag") != "" {
		t.Error("simulation frames must not carry an ETag")
	}
}

func TestPlayerPage(t *testing.T) {
	app := setupApp(makeDeps(nil))

	resp := do(t, app, "GET", "/", "")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(readBody(t, resp.Body)), "<html") {
		t.Error("expected the player page")
	}
}

func TestDocs(t *testing.T) {
	app := setupApp(makeDeps(nil))

	resp := do(t, app, "GET", "/docs", "")
	if resp.StatusCode != 200 || !strings.Contains(string(readBody(t, resp.Body)), "/docs/openapi.json") {
		t.Fatalf("expected Swagger UI pointing at openapi.json, got %d", resp.StatusCode)
	}

	resp = do(t, app, "GET", "/docs/openapi.json", "")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var doc struct {
		OpenAPI string                 `json:"openapi"`
		Paths   map[string]interface{} `json:"paths"`
	}
	decode(t, resp, &doc)
	if doc.OpenAPI != "3.0.3" {
		t.Errorf("expected openapi 3.0.3, got %q", doc.OpenAPI)
	}
	if _, ok := doc.Paths["/v1/simulation"]; !ok {
		t.Error("expected /v1/simulation in the JSON document")
	}

	resp = do(t, app, "GET", "/docs/openapi.yaml", "")
	if ct := resp.Header.Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("expected application/yaml, got %q", ct)
	}
}

func TestCacheControlFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/v1/health", "public, max-age=10"},
		{"/v1/simulation", "no-store"},
		{"/v1/position", "no-store"},
		{"/v1/route", "no-cache"},
		{"/v1/route/waypoints", "no-cache"},
		{"/docs/openapi.json", "public, max-age=3600"},
		{"/graphql", ""},
		{"/ws", ""},
		{"/", "public, max-age=300"},
		{"/index.html", "public, max-age=300"},
	}
	for _, tt := range tests {
		if got := handler.CacheControlFor(tt.path); got != tt.want {
			t.Errorf("CacheControlFor(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

// TestAccessLogMiddleware checks that one record per request is written
// through the request logger.
func TestAccessLogMiddleware(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	app := fiber.New()
	app.Use(requestid.New())
	app.Use(handler.RequestContextMiddleware())
	app.Use(handler.AccessLogMiddleware())
	app.Get("/items/:id", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"ok": false})
	})

	req := httptest.NewRequest("GET", "/items/7?full=1", nil)
	req.Header.Set("X-Request-ID", "test-req-123")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	var rec map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", buf.String(), err)
	}
	checks := map[string]interface{}{
		"msg":        "GET /items/7",
		"level":      "WARN",
		"route":      "/items/:id",
		"query":      "full=1",
		"request_id": "test-req-123",
		"status":     float64(404),
	}
	for k, want := range checks {
		if rec[k] != want {
			t.Errorf("%s: expected %v, got %v", k, want, rec[k])
		}
	}
}

func TestETagMatches(t *testing.T) {
	etag := handler.WeakETag([]byte(`{"route":1}`))
	opaque := strings.TrimPrefix(etag, "W/")

	tests := []struct {
		header string
		want   bool
	}{
		{etag, true},
		{opaque, true},
		{`"other", ` + etag, true},
		{"*", true},
		{`W/"deadbeef"`, false},
		{"", false},
	}
	for _, tt := range tests {
		if got := handler.ETagMatches(tt.header, etag); got != tt.want {
			t.Errorf("ETagMatches(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

type countingSubscriber struct {
	subscribed int
}

func (s *countingSubscriber) SubscribeFrames(func(data []byte)) (func(), error) {
	s.subscribed++
	return func() {}, nil
}

func TestStartFrameStream(t *testing.T) {
	deps := makeDeps(nil)
	sub := &countingSubscriber{}
	deps.Frames = sub

	closed := errors.New("connection closed")
	if _, err := handler.StartFrameStream(deps, func([]byte) error { return closed }); !errors.Is(err, closed) {
		t.Fatalf("expected initial write error, got %v", err)
	}
	if sub.subscribed != 0 {
		t.Fatalf("subscribed %d times after a failed initial write", sub.subscribed)
	}

	var sent [][]byte
	cancel, err := handler.StartFrameStream(deps, func(b []byte) error {
		sent = append(sent, b)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cancel()
	if sub.subscribed != 1 {
		t.Errorf("expected one subscription, got %d", sub.subscribed)
	}
	if len(sent) != 1 {
		t.Fatalf("expected the current frame to be sent first, got %d messages", len(sent))
	}
	var f domain.Frame
	if err := json.Unmarshal(sent[0], &f); err != nil {
		t.Fatalf("initial message is not a frame: %v", err)
	}
	if f.Playback.Speed != 1 {
		t.Errorf("expected default speed in initial frame, got %v", f.Playback.Speed)
	}
}
