// Package geofence decides proximity admission: whether a reported position
// lies within a radius of a session's anchor. It is pure computation with
// no state.
package geofence

import (
	"math"

	"rollcall/pkg/types"
)

// earthRadiusM is the mean Earth radius used for great-circle distance.
const earthRadiusM = 6371000.0

// WithinRadius reports whether point lies within radiusMeters of anchor
// along the great circle. Malformed coordinates fail with
// ErrInvalidCoordinate; a negative or non-finite radius fails with
// ErrInvalidRadius.
func WithinRadius(anchor, point types.Coordinates, radiusMeters float64) (bool, error) {
	if radiusMeters < 0 || math.IsInf(radiusMeters, 0) || math.IsNaN(radiusMeters) {
		return false, ErrInvalidRadius
	}
	distance, err := Distance(anchor, point)
	if err != nil {
		return false, err
	}
	return distance <= radiusMeters, nil
}

// Distance returns the haversine great-circle distance between two
// coordinates, in meters.
func Distance(a, b types.Coordinates) (float64, error) {
	if err := validate(a); err != nil {
		return 0, err
	}
	if err := validate(b); err != nil {
		return 0, err
	}

	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c, nil
}

func validate(c types.Coordinates) error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || c.Lat < -90 || c.Lat > 90 {
		return ErrInvalidCoordinate
	}
	if math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) || c.Lon < -180 || c.Lon > 180 {
		return ErrInvalidCoordinate
	}
	return nil
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
