package messaging

import "errors"

// Messaging error types.
var (
	ErrEmptyContent    = errors.New("message content cannot be blank")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidSender   = errors.New("sender must be a valid user ID")
	ErrInvalidReceiver = errors.New("receiver must be a valid user ID or the broadcast token")
)
