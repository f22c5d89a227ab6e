package stream

import "errors"

// Connection-related errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrNilConnection    = errors.New("connection cannot be nil")
	ErrMissingUserID    = errors.New("feed connections require a user ID")
)
