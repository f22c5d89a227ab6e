// Package interfaces defines the seams between engine components so that
// each package depends on a contract rather than on a sibling package.
package interfaces

import (
	"context"
	"time"

	"rollcall/pkg/types"
)

// Notifier fans out notices to users. Implementations are best-effort;
// callers log and swallow errors rather than failing the triggering
// operation.
type Notifier interface {
	// NotifyRoster creates one notification per user ID, with the message
	// text derived from the session topic. An empty roster is a no-op.
	NotifyRoster(sessionID, topic string, userIDs []string) error

	// NotifyUser creates a single notification outside any session.
	NotifyUser(userID, message string) error

	// NotifyUserInSession creates a single notification carrying an
	// originating-session reference.
	NotifyUserInSession(userID, sessionID, message string) error
}

// SessionSource resolves sessions for components that need a consistent
// snapshot but must not mutate lifecycle state.
type SessionSource interface {
	GetSession(sessionID string) (*types.Session, error)
}

// Pusher delivers a freshly created notification to a connected user, if
// any. Delivery is best-effort; absence of a connection is not an error.
type Pusher interface {
	Push(userID string, notification *types.Notification)
}

// Archiver records engine state transitions in durable history. The
// in-memory stores remain the authority; archive failures never surface as
// failures of the operation that produced them.
type Archiver interface {
	ArchiveSession(ctx context.Context, session *types.Session) error
	UpdateArchivedSession(ctx context.Context, session *types.Session) error
	ArchiveSignIn(ctx context.Context, sessionID, userID string, at time.Time) error
	ArchiveNotification(ctx context.Context, notification *types.Notification) error
	ArchiveMessage(ctx context.Context, message *types.Message) error
}
