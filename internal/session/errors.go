package session

import "errors"

// Session lifecycle error types.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionInactive  = errors.New("session is not accepting sign-ins")
	ErrAlreadySignedIn  = errors.New("participant already signed in")
	ErrNotInRoster      = errors.New("participant is not in the session roster")
	ErrOutOfRange       = errors.New("reported position is outside the session radius")
	ErrMissingLocation  = errors.New("proximity sessions require an anchor and radius")
	ErrInvalidDuration  = errors.New("duration must be a positive number of minutes or the unbounded sentinel")
	ErrDurationTooShort = errors.New("duration cannot be shorter than the already-elapsed time")
	ErrOwnerSessionLive = errors.New("owner already has a live session")
	ErrNoLiveSession    = errors.New("owner has no live session")
)
