package usecases

import (
	"io"

	geojson "github.com/paulmach/go.geojson"

	"github.com/flightviz/dronepath/internal/core/domain"
)

// RouteFeatureCollection renders route as GeoJSON: one Point per waypoint
// and, when there are at least two waypoints, the flight path as a
// LineString. Positions are [longitude, latitude].
func RouteFeatureCollection(route *domain.Route) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	n := route.Len()
	if n == 0 {
		return fc
	}

	line := make([][]float64, n)
	for i, wp := range route.Waypoints {
		line[i] = []float64{wp.Longitude, wp.Latitude}

		pt := geojson.NewPointFeature(line[i])
		pt.SetProperty("index", i)
		pt.SetProperty("cityName", wp.CityName)
		fc.AddFeature(pt)
	}

	if n > 1 {
		path := geojson.NewLineStringFeature(line)
		if route.DroneName != "" {
			path.SetProperty("droneName", route.DroneName)
		}
		path.SetProperty("distance_km", RouteStats(route).DistanceKm)
		path.SetProperty("version", route.Version)
		fc.AddFeature(path)
	}
	return fc
}

// EncodeRouteGeoJSON writes route as a GeoJSON FeatureCollection.
func EncodeRouteGeoJSON(w io.Writer, route *domain.Route) error {
	data, err := RouteFeatureCollection(route).MarshalJSON()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
