// Package messaging stores directed and session-broadcast messages.
// Broadcast delivery is restricted to participants currently marked present
// in the referenced session.
package messaging

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Channel is the message store. Sessions are resolved through the
// SessionSource seam so the channel never mutates lifecycle state.
type Channel struct {
	mu       sync.RWMutex
	messages []*types.Message // global log, creation order

	sessions interfaces.SessionSource
	notifier interfaces.Notifier
	archive  interfaces.Archiver
	now      func() time.Time
}

// NewChannel creates a messaging channel. archive may be nil.
func NewChannel(sessions interfaces.SessionSource, notifier interfaces.Notifier, archive interfaces.Archiver) *Channel {
	return &Channel{
		sessions: sessions,
		notifier: notifier,
		archive:  archive,
		now:      time.Now,
	}
}

// Send stores a message and notifies its recipients.
//
// With sessionID set and receiver equal to the broadcast token, the message
// is recorded once against the token and delivered to every roster member
// whose presence timestamp is set at send time, excluding the sender.
// Participants who sign in later do not receive it retroactively. All other
// messages are directed to a single receiver.
func (c *Channel) Send(senderID, receiver, sessionID, content string) (*types.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if !types.IsValidUserID(senderID) {
		return nil, ErrInvalidSender
	}
	if receiver == types.BroadcastReceiver {
		if sessionID == "" {
			return nil, ErrInvalidReceiver
		}
		return c.sendBroadcast(senderID, sessionID, content)
	}
	if !types.IsValidUserID(receiver) {
		return nil, ErrInvalidReceiver
	}
	return c.sendDirected(senderID, receiver, sessionID, content)
}

func (c *Channel) sendBroadcast(senderID, sessionID, content string) (*types.Message, error) {
	session, err := c.sessions.GetSession(sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	// Snapshot of who is present right now; late sign-ins are not reached.
	var recipients []string
	for _, p := range session.Roster {
		if p.SignedInAt != nil && p.UserID != senderID {
			recipients = append(recipients, p.UserID)
		}
	}

	message := c.store(senderID, types.BroadcastReceiver, sessionID, content)

	for _, userID := range recipients {
		notice := fmt.Sprintf("New message from %s in %q", senderID, session.Topic)
		if err := c.notifier.NotifyUserInSession(userID, sessionID, notice); err != nil {
			log.Printf("Failed to notify %s of broadcast %s: %v", userID, message.ID, err)
		}
	}
	log.Printf("Broadcast sent: session=%s sender=%s reached=%d", sessionID, senderID, len(recipients))
	return message, nil
}

func (c *Channel) sendDirected(senderID, receiver, sessionID, content string) (*types.Message, error) {
	message := c.store(senderID, receiver, sessionID, content)

	notice := fmt.Sprintf("New message from %s", senderID)
	var err error
	if sessionID != "" {
		err = c.notifier.NotifyUserInSession(receiver, sessionID, notice)
	} else {
		err = c.notifier.NotifyUser(receiver, notice)
	}
	if err != nil {
		log.Printf("Failed to notify %s of message %s: %v", receiver, message.ID, err)
	}
	return message, nil
}

func (c *Channel) store(senderID, receiver, sessionID, content string) *types.Message {
	message := &types.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Sender:    senderID,
		Receiver:  receiver,
		Content:   content,
		CreatedAt: c.now(),
	}

	c.mu.Lock()
	c.messages = append(c.messages, message)
	c.mu.Unlock()

	if c.archive != nil {
		cp := *message
		if err := c.archive.ArchiveMessage(context.Background(), &cp); err != nil {
			log.Printf("Failed to archive message %s: %v", message.ID, err)
		}
	}

	cp := *message
	return &cp
}

// ListForSession returns the session's thread in creation order: directed
// messages within the session, plus broadcasts authored by the session
// owner. Broadcasts from anyone else stay out of the thread view;
// participant messages remain directed and appear by identity.
func (c *Channel) ListForSession(sessionID string) ([]*types.Message, error) {
	session, err := c.sessions.GetSession(sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*types.Message
	for _, m := range c.messages {
		if m.SessionID != sessionID {
			continue
		}
		if m.Receiver == types.BroadcastReceiver && m.Sender != session.OwnerID {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sortByCreation(out)
	return out, nil
}

// ListDirect returns messages with no session reference exchanged between
// two users, in either direction, in creation order.
func (c *Channel) ListDirect(userA, userB string) []*types.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*types.Message
	for _, m := range c.messages {
		if m.SessionID != "" {
			continue
		}
		if (m.Sender == userA && m.Receiver == userB) || (m.Sender == userB && m.Receiver == userA) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sortByCreation(out)
	return out
}

// LatestCorrespondent returns the user who most recently sent a directed
// message to userID. Replies go to whoever wrote last; this is a heuristic,
// not a thread model, and gives no guarantee with several writers.
func (c *Channel) LatestCorrespondent(userID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Receiver == userID {
			return m.Sender, true
		}
	}
	return "", false
}

func sortByCreation(messages []*types.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}
