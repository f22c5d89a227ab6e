package types

import (
	"time"
)

// Admission modes for a session.
const (
	ModeProximity = "proximity"
	ModeOpen      = "open"
)

// BroadcastReceiver is the reserved receiver token for session broadcasts.
// A message addressed to it reaches every participant currently marked
// present in the referenced session.
const BroadcastReceiver = "everyone"

// UnboundedMinutes is the duration sentinel for sessions with no time limit.
const UnboundedMinutes float64 = 0

// Coordinates is a latitude/longitude pair in degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Session is a time-bounded attendance window over a fixed roster.
// It is immutable after creation except for Active, DurationMin and the
// participants' sign-in timestamps; liveness is derived, not stored.
type Session struct {
	ID          string         `json:"id"`
	Mode        string         `json:"mode"`
	Anchor      *Coordinates   `json:"anchor,omitempty"`
	RadiusM     float64        `json:"radius_m,omitempty"`
	StartTime   time.Time      `json:"start_time"`
	DurationMin float64        `json:"duration_min"`
	Active      bool           `json:"active"`
	GroupID     string         `json:"group_id"`
	OwnerID     string         `json:"owner_id"`
	Topic       string         `json:"topic"`
	Venue       string         `json:"venue,omitempty"`
	NotifyOwner bool           `json:"notify_owner"`
	Roster      []*Participant `json:"roster"`
}

// Participant is one roster entry of a session. SignedInAt is nil until the
// participant signs in and is written at most once after that.
type Participant struct {
	UserID     string     `json:"user_id"`
	SignedInAt *time.Time `json:"signed_in_at,omitempty"`
}

// Participant returns the roster record for userID, or nil.
func (s *Session) Participant(userID string) *Participant {
	for _, p := range s.Roster {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// LiveAt reports whether the session accepts sign-ins at the given instant:
// the active flag is set and, for bounded sessions, the elapsed time has not
// exceeded the duration limit. The flag alone is authoritative when false.
func (s *Session) LiveAt(now time.Time) bool {
	if !s.Active {
		return false
	}
	if s.DurationMin == UnboundedMinutes {
		return true
	}
	return now.Sub(s.StartTime).Minutes() <= s.DurationMin
}

// ElapsedMinutes returns minutes elapsed since the session started.
func (s *Session) ElapsedMinutes(now time.Time) float64 {
	return now.Sub(s.StartTime).Minutes()
}

// Clone returns a deep copy of the session. Queries hand out clones so
// callers never observe a roster mid-write.
func (s *Session) Clone() *Session {
	cp := *s
	if s.Anchor != nil {
		anchor := *s.Anchor
		cp.Anchor = &anchor
	}
	cp.Roster = make([]*Participant, len(s.Roster))
	for i, p := range s.Roster {
		pc := *p
		if p.SignedInAt != nil {
			at := *p.SignedInAt
			pc.SignedInAt = &at
		}
		cp.Roster[i] = &pc
	}
	return &cp
}

// Notification is a per-user notice raised by lifecycle transitions or by
// direct events. Only the read flag ever changes after creation; the core
// never deletes notifications.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a directed or broadcast message. An empty SessionID marks a
// direct message outside any session; Receiver == BroadcastReceiver with a
// SessionID set marks a session broadcast.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Broadcast reports whether the message is a session broadcast.
func (m *Message) Broadcast() bool {
	return m.SessionID != "" && m.Receiver == BroadcastReceiver
}
