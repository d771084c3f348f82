// Package geo provides great-circle distance computation between
// geographic coordinates using the haversine formula over a spherical
// Earth approximation. No ellipsoidal correction and no altitude term;
// accuracy degrades near antipodal points within standard haversine
// limits, which is acceptable for the short hops this system measures.
package geo

import "math"

// Earth radius under the spherical approximation.
const (
	EarthRadiusKm     = 6371.0
	EarthRadiusMeters = 6371000.0
)

// DistanceKm returns the great-circle distance in kilometers between
// two (latitude, longitude) pairs given in degrees.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	return EarthRadiusKm * haversineAngle(lat1, lon1, lat2, lon2)
}

// DistanceMeters returns the great-circle distance in meters between
// two (latitude, longitude) pairs given in degrees.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return EarthRadiusMeters * haversineAngle(lat1, lon1, lat2, lon2)
}

// haversineAngle returns the central angle in radians between two
// coordinates.
func haversineAngle(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}
