package geofence

import "errors"

// Validation error types for admission checks.
var (
	ErrInvalidCoordinate = errors.New("latitude/longitude out of range or non-finite")
	ErrInvalidRadius     = errors.New("radius must be finite and non-negative")
)
