package types

import "errors"

// Validation error types shared across components.
var (
	ErrInvalidUserID   = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidTopic    = errors.New("topic must be 1-200 characters")
	ErrInvalidMode     = errors.New("mode must be 'proximity' or 'open'")
	ErrEmptyRoster     = errors.New("roster cannot be empty")
	ErrInvalidOwnerID  = errors.New("owner must be a valid user ID")
	ErrInvalidGroupID  = errors.New("group must be a valid identifier")
	ErrInvalidDuration = errors.New("duration must be a positive number of minutes or the unbounded sentinel")
)
