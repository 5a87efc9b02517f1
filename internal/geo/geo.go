// Package geo evaluates points against circular geofences on a spherical
// earth.
package geo

import (
	"math"

	"github.com/tagwatch/tagwatch/internal/model"
)

// EarthRadiusMeters is the mean sphere radius used for haversine distance.
const EarthRadiusMeters = 6_371_000.0

// DistanceMeters returns the great-circle distance between two points in
// decimal degrees. Any non-finite input yields +Inf so callers treat the
// point as outside every geofence.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	for _, v := range [...]float64{lat1, lon1, lat2, lon2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.Inf(1)
		}
	}

	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// Contains reports whether the point lies within g (boundary inclusive) and
// the distance from its centre.
func Contains(g model.Geofence, lat, lon float64) (bool, float64) {
	d := DistanceMeters(lat, lon, g.Lat, g.Lng)
	return d <= g.Radius, d
}

// IsInside reports whether the point lies within g.
func IsInside(lat, lon float64, g model.Geofence) bool {
	inside, _ := Contains(g, lat, lon)
	return inside
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
