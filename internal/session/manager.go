// Package session owns the attendance session lifecycle: creation,
// liveness, sign-in idempotency, status toggling and duration edits, plus
// the query surface over the session store.
package session

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"rollcall/internal/geofence"
	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Manager is the single-writer authority over session records. All
// mutations serialize on mu; queries hand out deep copies so readers never
// observe a torn roster.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session

	// ownerLive indexes ownerID -> live session ID. Entry TTL mirrors the
	// session's remaining time, so the index forgets expired sessions on
	// its own; hits are still verified against the record.
	ownerLive *ttlcache.Cache[string, string]

	notifier       interfaces.Notifier
	archive        interfaces.Archiver
	singlePerOwner bool
	now            func() time.Time
}

// StartParams carries the inputs for StartSession.
type StartParams struct {
	Mode        string
	OwnerID     string
	GroupID     string
	Topic       string
	Venue       string
	Roster      []string
	DurationMin float64 // types.UnboundedMinutes for no limit
	Anchor      *types.Coordinates
	RadiusM     float64
	NotifyOwner bool
}

// NewManager creates a session manager. archive may be nil. When
// singlePerOwner is set, an owner cannot open a second session while one of
// theirs is still live.
func NewManager(notifier interfaces.Notifier, archive interfaces.Archiver, singlePerOwner bool) *Manager {
	m := &Manager{
		sessions: make(map[string]*types.Session),
		ownerLive: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
		notifier:       notifier,
		archive:        archive,
		singlePerOwner: singlePerOwner,
		now:            time.Now,
	}
	go m.ownerLive.Start()
	return m
}

// Close stops the background eviction of the owner index.
func (m *Manager) Close() {
	m.ownerLive.Stop()
}

// StartSession constructs a new session with Active=true and StartTime=now
// and notifies the roster that attendance is open. Proximity mode requires
// an anchor and radius.
func (m *Manager) StartSession(ctx context.Context, p StartParams) (*types.Session, error) {
	if p.Mode == types.ModeProximity {
		if p.Anchor == nil || p.RadiusM <= 0 {
			return nil, ErrMissingLocation
		}
		// Reject malformed anchors at creation rather than on first sign-in.
		if _, err := geofence.WithinRadius(*p.Anchor, *p.Anchor, p.RadiusM); err != nil {
			return nil, err
		}
	}
	if !types.IsValidDurationMinutes(p.DurationMin) {
		return nil, ErrInvalidDuration
	}

	session := &types.Session{
		ID:          uuid.New().String(),
		Mode:        p.Mode,
		StartTime:   m.now(),
		DurationMin: p.DurationMin,
		Active:      true,
		GroupID:     p.GroupID,
		OwnerID:     p.OwnerID,
		Topic:       p.Topic,
		Venue:       p.Venue,
		NotifyOwner: p.NotifyOwner,
		Roster:      buildRoster(p.Roster),
	}
	if p.Mode == types.ModeProximity {
		anchor := *p.Anchor
		session.Anchor = &anchor
		session.RadiusM = p.RadiusM
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.singlePerOwner && m.liveSessionIDLocked(p.OwnerID) != "" {
		m.mu.Unlock()
		return nil, ErrOwnerSessionLive
	}
	m.sessions[session.ID] = session
	snapshot := session.Clone()
	m.mu.Unlock()

	m.indexLive(snapshot)
	m.fanOut(snapshot)

	if m.archive != nil {
		if err := m.archive.ArchiveSession(ctx, snapshot); err != nil {
			log.Printf("Failed to archive session %s: %v", snapshot.ID, err)
		}
	}

	log.Printf("Started session: id=%s mode=%s group=%s roster=%d duration_min=%v",
		snapshot.ID, snapshot.Mode, snapshot.GroupID, len(snapshot.Roster), snapshot.DurationMin)
	return snapshot, nil
}

// IsLive reports whether the session currently accepts sign-ins. It is a
// pure query: expiry never flips the stored active flag.
func (m *Manager) IsLive(sessionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return false, ErrSessionNotFound
	}
	return session.LiveAt(m.now()), nil
}

// SignIn records presence for a participant. The existence check and the
// timestamp write happen under the store write lock, so concurrent calls
// for the same participant yield exactly one winner; the rest fail with
// ErrAlreadySignedIn. For proximity sessions the reported position must
// satisfy the geofence; a missing position counts as out of range.
func (m *Manager) SignIn(ctx context.Context, sessionID, userID string, position *types.Coordinates) error {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if !session.LiveAt(m.now()) {
		m.mu.Unlock()
		return ErrSessionInactive
	}
	participant := session.Participant(userID)
	if participant == nil {
		m.mu.Unlock()
		return ErrNotInRoster
	}
	if participant.SignedInAt != nil {
		m.mu.Unlock()
		return ErrAlreadySignedIn
	}
	if session.Mode == types.ModeProximity {
		if position == nil {
			m.mu.Unlock()
			return ErrOutOfRange
		}
		within, err := geofence.WithinRadius(*session.Anchor, *position, session.RadiusM)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		if !within {
			m.mu.Unlock()
			return ErrOutOfRange
		}
	}

	at := m.now()
	participant.SignedInAt = &at
	topic := session.Topic
	m.mu.Unlock()

	if err := m.notifier.NotifyUserInSession(userID, sessionID, "You are signed in to "+topic); err != nil {
		log.Printf("Failed to send sign-in confirmation to %s: %v", userID, err)
	}
	if m.archive != nil {
		if err := m.archive.ArchiveSignIn(ctx, sessionID, userID, at); err != nil {
			log.Printf("Failed to archive sign-in %s/%s: %v", sessionID, userID, err)
		}
	}

	log.Printf("Sign-in recorded: session=%s user=%s", sessionID, userID)
	return nil
}

// ToggleStatus sets the active flag. Reactivation re-notifies the full
// roster exactly as at creation; deactivation has no fan-out side effect.
func (m *Manager) ToggleStatus(ctx context.Context, sessionID string, active bool) error {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	wasActive := session.Active
	session.Active = active
	snapshot := session.Clone()
	m.mu.Unlock()

	if active && !wasActive {
		m.indexLive(snapshot)
		m.fanOut(snapshot)
	}
	if !active {
		m.dropLiveIndex(snapshot.OwnerID, snapshot.ID)
	}

	m.archiveUpdate(ctx, snapshot)
	log.Printf("Toggled session: id=%s active=%t", sessionID, active)
	return nil
}

// UpdateDuration replaces the duration limit without touching StartTime.
// A bounded value shorter than the already-elapsed time is rejected, so an
// edit can never retroactively expire a session mid-window.
func (m *Manager) UpdateDuration(ctx context.Context, sessionID string, minutes float64) error {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if !types.IsValidDurationMinutes(minutes) {
		m.mu.Unlock()
		return ErrInvalidDuration
	}
	if minutes != types.UnboundedMinutes && minutes < session.ElapsedMinutes(m.now()) {
		m.mu.Unlock()
		return ErrDurationTooShort
	}
	session.DurationMin = minutes
	snapshot := session.Clone()
	m.mu.Unlock()

	if snapshot.Active {
		m.indexLive(snapshot)
	}
	m.archiveUpdate(ctx, snapshot)
	log.Printf("Updated session duration: id=%s duration_min=%v", sessionID, minutes)
	return nil
}

// GetSession returns a deep copy of the session.
func (m *Manager) GetSession(sessionID string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// ListSessions returns copies of all sessions, oldest first.
func (m *Manager) ListSessions() []*types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, session.Clone())
	}
	sortByStart(out)
	return out
}

// ListGroupSessions returns copies of the sessions belonging to a group,
// oldest first.
func (m *Manager) ListGroupSessions(groupID string) []*types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Session
	for _, session := range m.sessions {
		if session.GroupID == groupID {
			out = append(out, session.Clone())
		}
	}
	sortByStart(out)
	return out
}

// LiveSessionForOwner returns the owner's currently live session. The
// ttlcache index answers the common case; a miss falls back to a scan to
// cover reactivated sessions whose index entry has lapsed.
func (m *Manager) LiveSessionForOwner(ownerID string) (*types.Session, error) {
	if item := m.ownerLive.Get(ownerID); item != nil {
		if session, err := m.GetSession(item.Value()); err == nil && session.LiveAt(m.now()) {
			return session, nil
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, session := range m.sessions {
		if session.OwnerID == ownerID && session.LiveAt(m.now()) {
			return session.Clone(), nil
		}
	}
	return nil, ErrNoLiveSession
}

// fanOut notifies the roster that the session is open. The owner is
// included only when the session was created with NotifyOwner and the owner
// appears in the roster. Failures are logged, never surfaced: notification
// delivery must not undo a lifecycle transition.
func (m *Manager) fanOut(session *types.Session) {
	var recipients []string
	for _, p := range session.Roster {
		if p.UserID == session.OwnerID && !session.NotifyOwner {
			continue
		}
		recipients = append(recipients, p.UserID)
	}
	if err := m.notifier.NotifyRoster(session.ID, session.Topic, recipients); err != nil {
		log.Printf("Failed to notify roster for session %s: %v", session.ID, err)
	}
}

// indexLive records the session in the owner index with a TTL equal to its
// remaining time. Already-expired or inactive sessions are not indexed.
func (m *Manager) indexLive(session *types.Session) {
	now := m.now()
	if !session.LiveAt(now) {
		return
	}
	ttl := ttlcache.NoTTL
	if session.DurationMin != types.UnboundedMinutes {
		remaining := time.Duration((session.DurationMin - session.ElapsedMinutes(now)) * float64(time.Minute))
		if remaining <= 0 {
			return
		}
		ttl = remaining
	}
	m.ownerLive.Set(session.OwnerID, session.ID, ttl)
}

func (m *Manager) dropLiveIndex(ownerID, sessionID string) {
	if item := m.ownerLive.Get(ownerID); item != nil && item.Value() == sessionID {
		m.ownerLive.Delete(ownerID)
	}
}

// liveSessionIDLocked scans for a live session owned by ownerID. Callers
// hold mu.
func (m *Manager) liveSessionIDLocked(ownerID string) string {
	now := m.now()
	for id, session := range m.sessions {
		if session.OwnerID == ownerID && session.LiveAt(now) {
			return id
		}
	}
	return ""
}

func (m *Manager) archiveUpdate(ctx context.Context, snapshot *types.Session) {
	if m.archive == nil {
		return
	}
	if err := m.archive.UpdateArchivedSession(ctx, snapshot); err != nil {
		log.Printf("Failed to update archived session %s: %v", snapshot.ID, err)
	}
}

func buildRoster(userIDs []string) []*types.Participant {
	seen := make(map[string]bool)
	roster := make([]*types.Participant, 0, len(userIDs))
	for _, id := range userIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		roster = append(roster, &types.Participant{UserID: id})
	}
	return roster
}

func sortByStart(sessions []*types.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
}
