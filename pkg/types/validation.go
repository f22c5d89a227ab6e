package types

import (
	"math"
	"regexp"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements.
// The 1-50 character limit keeps IDs storable and displayable everywhere.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return idRegex.MatchString(userID)
}

// IsValidGroupID checks if a group ID meets format requirements.
func IsValidGroupID(groupID string) bool {
	return IsValidUserID(groupID)
}

// IsValidTopic checks the session topic label.
func IsValidTopic(topic string) bool {
	return len(topic) >= 1 && len(topic) <= 200
}

// IsValidMode checks the admission mode.
func IsValidMode(mode string) bool {
	return mode == ModeProximity || mode == ModeOpen
}

// IsValidDurationMinutes reports whether minutes is a legal duration limit:
// the unbounded sentinel, or a positive finite number.
func IsValidDurationMinutes(minutes float64) bool {
	if minutes == UnboundedMinutes {
		return true
	}
	return minutes > 0 && !math.IsInf(minutes, 0) && !math.IsNaN(minutes)
}

// Validate ensures the session meets all structural requirements.
func (s *Session) Validate() error {
	if !IsValidMode(s.Mode) {
		return ErrInvalidMode
	}
	if !IsValidTopic(s.Topic) {
		return ErrInvalidTopic
	}
	if !IsValidUserID(s.OwnerID) {
		return ErrInvalidOwnerID
	}
	if !IsValidGroupID(s.GroupID) {
		return ErrInvalidGroupID
	}
	if len(s.Roster) == 0 {
		return ErrEmptyRoster
	}
	if !IsValidDurationMinutes(s.DurationMin) {
		return ErrInvalidDuration
	}
	for _, p := range s.Roster {
		if !IsValidUserID(p.UserID) {
			return ErrInvalidUserID
		}
	}
	return nil
}
