// Package geo provides geographic primitives for marker proximity and radius
// queries: great-circle distance, geohash encoding, and a grid index for
// nearest-neighbor lookups over larger marker sets.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6371000.0

// Point represents a geographic coordinate with latitude and longitude in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within valid coordinate ranges.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Haversine returns the great-circle distance in meters between two points.
// The result is symmetric and zero for identical points.
func Haversine(a, b Point) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// BoundingBox returns a rectangle that fully contains the circle of
// radiusMeters around center. Used to prefilter candidates before the exact
// haversine check.
func BoundingBox(center Point, radiusMeters float64) (minLat, maxLat, minLng, maxLng float64) {
	latDelta := radiusMeters / 111320.0

	// Longitude degrees shrink with latitude; clamp near the poles where the
	// cosine collapses to zero.
	cosLat := math.Cos(radians(center.Lat))
	if cosLat < 1e-6 {
		cosLat = 1e-6
	}
	lngDelta := radiusMeters / (111320.0 * cosLat)

	return center.Lat - latDelta, center.Lat + latDelta, center.Lng - lngDelta, center.Lng + lngDelta
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
