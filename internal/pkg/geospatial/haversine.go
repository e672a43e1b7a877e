// Package geospatial measures routes on the sphere. Positions along a route
// are interpolated in the plane (see flightpath); distances reported to users
// are great-circle.
package geospatial

import "math"

// EarthRadiusKm is the mean Earth radius.
const EarthRadiusKm = 6371.0

// Haversine returns the great-circle distance in meters between two points
// given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return EarthRadiusKm * 1000 * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// PathLength sums the great-circle lengths of the legs between consecutive
// [lat, lon] pairs, in meters. Fewer than two points have length 0.
func PathLength(points [][2]float64) float64 {
	var meters float64
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		meters += Haversine(a[0], a[1], b[0], b[1])
	}
	return meters
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

