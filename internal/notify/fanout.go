// Package notify implements the notification fan-out: an append-only,
// per-user ordered log of notices with a read-flag transition.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Fanout implements the interfaces.Notifier interface over an in-memory
// per-user log. Stream and archive are optional side channels; failures
// there never fail the fan-out itself.
type Fanout struct {
	mu     sync.RWMutex
	byUser map[string][]*types.Notification // userID -> notices, oldest first
	byID   map[string]*types.Notification

	stream  interfaces.Pusher
	archive interfaces.Archiver
	now     func() time.Time
}

// NewFanout creates a fan-out. stream and archive may be nil.
func NewFanout(stream interfaces.Pusher, archive interfaces.Archiver) *Fanout {
	return &Fanout{
		byUser:  make(map[string][]*types.Notification),
		byID:    make(map[string]*types.Notification),
		stream:  stream,
		archive: archive,
		now:     time.Now,
	}
}

// RosterMessage derives the notification text for a session opening from
// its topic. Reactivation reuses it so the re-notification matches the
// original text exactly.
func RosterMessage(topic string) string {
	return fmt.Sprintf("Attendance is open for %q", topic)
}

// NotifyRoster creates one notification per roster member. An empty roster
// is a no-op.
func (f *Fanout) NotifyRoster(sessionID, topic string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	message := RosterMessage(topic)
	for _, userID := range userIDs {
		f.append(userID, sessionID, message)
	}
	log.Printf("Notified roster: session=%s recipients=%d", sessionID, len(userIDs))
	return nil
}

// NotifyUser creates a single notification outside any session.
func (f *Fanout) NotifyUser(userID, message string) error {
	f.append(userID, "", message)
	return nil
}

// NotifyUserInSession creates a single notification referencing a session.
func (f *Fanout) NotifyUserInSession(userID, sessionID, message string) error {
	f.append(userID, sessionID, message)
	return nil
}

// ListForUser returns the user's notifications, most recent first. The
// returned slice holds copies.
func (f *Fanout) ListForUser(userID string) []*types.Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries := f.byUser[userID]
	out := make([]*types.Notification, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		cp := *entries[i]
		out = append(out, &cp)
	}
	return out
}

// MarkRead sets the read flag on a notification. It is idempotent and
// silent on unknown IDs: notifications are best-effort, so absence is not
// an error here.
func (f *Fanout) MarkRead(notificationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n, exists := f.byID[notificationID]; exists {
		n.Read = true
	}
}

// UnreadCount returns the number of unread notifications for a user.
func (f *Fanout) UnreadCount(userID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	count := 0
	for _, n := range f.byUser[userID] {
		if !n.Read {
			count++
		}
	}
	return count
}

func (f *Fanout) append(userID, sessionID, message string) {
	n := &types.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		Message:   message,
		Read:      false,
		CreatedAt: f.now(),
	}

	f.mu.Lock()
	f.byUser[userID] = append(f.byUser[userID], n)
	f.byID[n.ID] = n
	f.mu.Unlock()

	if f.stream != nil {
		cp := *n
		f.stream.Push(userID, &cp)
	}
	if f.archive != nil {
		cp := *n
		if err := f.archive.ArchiveNotification(context.Background(), &cp); err != nil {
			log.Printf("Failed to archive notification %s: %v", n.ID, err)
		}
	}
}
