package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rollcall/internal/geofence"
	"rollcall/pkg/types"
)

// recordingNotifier captures fan-out calls for assertions.
type recordingNotifier struct {
	mu          sync.Mutex
	rosterCalls []rosterCall
	userNotices map[string][]string
}

type rosterCall struct {
	sessionID string
	topic     string
	userIDs   []string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{userNotices: make(map[string][]string)}
}

func (r *recordingNotifier) NotifyRoster(sessionID, topic string, userIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rosterCalls = append(r.rosterCalls, rosterCall{sessionID, topic, append([]string(nil), userIDs...)})
	return nil
}

func (r *recordingNotifier) NotifyUser(userID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userNotices[userID] = append(r.userNotices[userID], message)
	return nil
}

func (r *recordingNotifier) NotifyUserInSession(userID, sessionID, message string) error {
	return r.NotifyUser(userID, message)
}

func (r *recordingNotifier) rosterCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rosterCalls)
}

// failingNotifier simulates a broken side channel; lifecycle operations
// must not fail because of it.
type failingNotifier struct{}

func (failingNotifier) NotifyRoster(string, string, []string) error { return errors.New("down") }
func (failingNotifier) NotifyUser(string, string) error             { return errors.New("down") }
func (failingNotifier) NotifyUserInSession(string, string, string) error {
	return errors.New("down")
}

var testStart = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *recordingNotifier, *time.Time) {
	t.Helper()
	notifier := newRecordingNotifier()
	m := NewManager(notifier, nil, false)
	t.Cleanup(m.Close)

	current := testStart
	m.now = func() time.Time { return current }
	return m, notifier, &current
}

func openParams() StartParams {
	return StartParams{
		Mode:        types.ModeOpen,
		OwnerID:     "owner",
		GroupID:     "group-1",
		Topic:       "Algebra II",
		Roster:      []string{"alice", "bob", "carol"},
		DurationMin: 15,
	}
}

func proximityParams() StartParams {
	p := openParams()
	p.Mode = types.ModeProximity
	p.Anchor = &types.Coordinates{Lat: 0, Lon: 0}
	p.RadiusM = 50
	return p
}

func TestStartSession_Validation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(*StartParams)
		wantErr error
	}{
		{"bad mode", func(p *StartParams) { p.Mode = "psychic" }, types.ErrInvalidMode},
		{"empty roster", func(p *StartParams) { p.Roster = nil }, types.ErrEmptyRoster},
		{"bad owner", func(p *StartParams) { p.OwnerID = "no good" }, types.ErrInvalidOwnerID},
		{"negative duration", func(p *StartParams) { p.DurationMin = -5 }, ErrInvalidDuration},
		{"proximity without anchor", func(p *StartParams) { p.Mode = types.ModeProximity }, ErrMissingLocation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := openParams()
			tt.mutate(&p)
			if _, err := m.StartSession(ctx, p); !errors.Is(err, tt.wantErr) {
				t.Errorf("StartSession() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("proximity with malformed anchor", func(t *testing.T) {
		p := proximityParams()
		p.Anchor = &types.Coordinates{Lat: 91, Lon: 0}
		if _, err := m.StartSession(ctx, p); !errors.Is(err, geofence.ErrInvalidCoordinate) {
			t.Errorf("StartSession() error = %v, want ErrInvalidCoordinate", err)
		}
	})
}

func TestStartSession_DeduplicatesRoster(t *testing.T) {
	m, _, _ := newTestManager(t)
	p := openParams()
	p.Roster = []string{"alice", "bob", "alice", "bob"}

	created, err := m.StartSession(context.Background(), p)
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if len(created.Roster) != 2 {
		t.Errorf("roster size = %d, want 2", len(created.Roster))
	}
}

func TestStartSession_NotifiesRoster(t *testing.T) {
	t.Run("owner excluded by default", func(t *testing.T) {
		m, notifier, _ := newTestManager(t)
		p := openParams()
		p.Roster = []string{"owner", "alice"}

		if _, err := m.StartSession(context.Background(), p); err != nil {
			t.Fatal(err)
		}
		if len(notifier.rosterCalls) != 1 {
			t.Fatalf("roster calls = %d, want 1", len(notifier.rosterCalls))
		}
		got := notifier.rosterCalls[0].userIDs
		if len(got) != 1 || got[0] != "alice" {
			t.Errorf("recipients = %v, want [alice]", got)
		}
	})

	t.Run("owner included with NotifyOwner", func(t *testing.T) {
		m, notifier, _ := newTestManager(t)
		p := openParams()
		p.Roster = []string{"owner", "alice"}
		p.NotifyOwner = true

		if _, err := m.StartSession(context.Background(), p); err != nil {
			t.Fatal(err)
		}
		if got := notifier.rosterCalls[0].userIDs; len(got) != 2 {
			t.Errorf("recipients = %v, want owner and alice", got)
		}
	})
}

func TestStartSession_SurvivesNotifierFailure(t *testing.T) {
	m := NewManager(failingNotifier{}, nil, false)
	t.Cleanup(m.Close)

	created, err := m.StartSession(context.Background(), openParams())
	if err != nil {
		t.Fatalf("StartSession() must not fail on notifier errors, got %v", err)
	}
	if created == nil || !created.Active {
		t.Error("session should be created active despite notifier failure")
	}
}

func TestIsLive(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	t.Run("unknown session", func(t *testing.T) {
		if _, err := m.IsLive("nope"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("IsLive() error = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("bounded session expires lazily", func(t *testing.T) {
		created, err := m.StartSession(ctx, openParams())
		if err != nil {
			t.Fatal(err)
		}

		for _, tc := range []struct {
			elapsed time.Duration
			want    bool
		}{
			{0, true},
			{15 * time.Minute, true},
			{15*time.Minute + time.Second, false},
			{24 * time.Hour, false},
		} {
			*clock = testStart.Add(tc.elapsed)
			live, err := m.IsLive(created.ID)
			if err != nil {
				t.Fatal(err)
			}
			if live != tc.want {
				t.Errorf("IsLive at +%v = %t, want %t", tc.elapsed, live, tc.want)
			}
		}

		// Expiry is derived; the stored flag must still read active.
		stored, err := m.GetSession(created.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !stored.Active {
			t.Error("expiry must not mutate the active flag")
		}
	})

	t.Run("unbounded session stays live", func(t *testing.T) {
		*clock = testStart
		p := openParams()
		p.DurationMin = types.UnboundedMinutes
		created, err := m.StartSession(ctx, p)
		if err != nil {
			t.Fatal(err)
		}

		*clock = testStart.Add(1_000_000 * time.Millisecond)
		live, err := m.IsLive(created.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !live {
			t.Error("unbounded active session should be live after 10^6 ms")
		}
	})

	t.Run("inactive overrides time", func(t *testing.T) {
		*clock = testStart
		created, err := m.StartSession(ctx, openParams())
		if err != nil {
			t.Fatal(err)
		}
		if err := m.ToggleStatus(ctx, created.ID, false); err != nil {
			t.Fatal(err)
		}
		live, err := m.IsLive(created.ID)
		if err != nil {
			t.Fatal(err)
		}
		if live {
			t.Error("toggled-off session must not be live inside its window")
		}
	})
}

func TestSignIn_Flow(t *testing.T) {
	m, notifier, clock := newTestManager(t)
	ctx := context.Background()

	created, err := m.StartSession(ctx, openParams())
	if err != nil {
		t.Fatal(err)
	}

	if err := m.SignIn(ctx, "no-such", "alice", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session: err = %v", err)
	}
	if err := m.SignIn(ctx, created.ID, "mallory", nil); !errors.Is(err, ErrNotInRoster) {
		t.Errorf("stranger: err = %v", err)
	}

	if err := m.SignIn(ctx, created.ID, "alice", nil); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	stored, _ := m.GetSession(created.ID)
	p := stored.Participant("alice")
	if p.SignedInAt == nil || !p.SignedInAt.Equal(testStart) {
		t.Errorf("presence timestamp = %v, want %v", p.SignedInAt, testStart)
	}

	notifier.mu.Lock()
	confirmations := len(notifier.userNotices["alice"])
	notifier.mu.Unlock()
	if confirmations != 1 {
		t.Errorf("sign-in confirmations = %d, want 1", confirmations)
	}

	// The timestamp is write-once: a repeat attempt fails and the original
	// value survives.
	*clock = testStart.Add(5 * time.Minute)
	if err := m.SignIn(ctx, created.ID, "alice", nil); !errors.Is(err, ErrAlreadySignedIn) {
		t.Errorf("repeat sign-in: err = %v, want ErrAlreadySignedIn", err)
	}
	stored, _ = m.GetSession(created.ID)
	if !stored.Participant("alice").SignedInAt.Equal(testStart) {
		t.Error("repeat attempt overwrote the presence timestamp")
	}

	// Expired window refuses sign-ins.
	*clock = testStart.Add(20 * time.Minute)
	if err := m.SignIn(ctx, created.ID, "bob", nil); !errors.Is(err, ErrSessionInactive) {
		t.Errorf("expired session: err = %v, want ErrSessionInactive", err)
	}
}

func TestSignIn_ProximityScenario(t *testing.T) {
	// Session with duration 15 min, proximity mode, anchor (0,0), radius
	// 50m. (0, 0.001) is ~111m away and must be refused; (0,0) succeeds;
	// a second attempt conflicts.
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.StartSession(ctx, proximityParams())
	if err != nil {
		t.Fatal(err)
	}

	far := &types.Coordinates{Lat: 0, Lon: 0.001}
	if err := m.SignIn(ctx, created.ID, "alice", far); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("far sign-in: err = %v, want ErrOutOfRange", err)
	}

	if err := m.SignIn(ctx, created.ID, "alice", nil); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("missing coordinates: err = %v, want ErrOutOfRange", err)
	}

	bad := &types.Coordinates{Lat: 200, Lon: 0}
	if err := m.SignIn(ctx, created.ID, "alice", bad); !errors.Is(err, geofence.ErrInvalidCoordinate) {
		t.Errorf("malformed coordinates: err = %v, want ErrInvalidCoordinate", err)
	}

	at := &types.Coordinates{Lat: 0, Lon: 0}
	if err := m.SignIn(ctx, created.ID, "alice", at); err != nil {
		t.Fatalf("anchor sign-in: err = %v", err)
	}

	if err := m.SignIn(ctx, created.ID, "alice", at); !errors.Is(err, ErrAlreadySignedIn) {
		t.Errorf("second sign-in: err = %v, want ErrAlreadySignedIn", err)
	}
}

func TestSignIn_ConcurrentSingleWinner(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.StartSession(ctx, openParams())
	if err != nil {
		t.Fatal(err)
	}

	const attempts = 50
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.SignIn(ctx, created.ID, "alice", nil)
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadySignedIn):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
	if conflicts != attempts-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, attempts-1)
	}
}

func TestToggleStatus_Roundtrip(t *testing.T) {
	m, notifier, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.StartSession(ctx, openParams())
	if err != nil {
		t.Fatal(err)
	}
	if notifier.rosterCallCount() != 1 {
		t.Fatalf("creation fan-out calls = %d, want 1", notifier.rosterCallCount())
	}

	if err := m.ToggleStatus(ctx, created.ID, false); err != nil {
		t.Fatal(err)
	}
	if notifier.rosterCallCount() != 1 {
		t.Error("deactivation must not fan out")
	}

	if err := m.ToggleStatus(ctx, created.ID, true); err != nil {
		t.Fatal(err)
	}
	if notifier.rosterCallCount() != 2 {
		t.Fatal("reactivation must re-notify the roster")
	}

	stored, _ := m.GetSession(created.ID)
	if !stored.Active {
		t.Error("roundtrip should restore active=true")
	}

	notifier.mu.Lock()
	first, second := notifier.rosterCalls[0], notifier.rosterCalls[1]
	notifier.mu.Unlock()
	if first.topic != second.topic {
		t.Errorf("reactivation topic = %q, want %q", second.topic, first.topic)
	}
	if len(first.userIDs) != len(second.userIDs) {
		t.Errorf("reactivation recipients = %v, want %v", second.userIDs, first.userIDs)
	}

	if err := m.ToggleStatus(ctx, "no-such", true); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session: err = %v", err)
	}
}

func TestUpdateDuration(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	created, err := m.StartSession(ctx, openParams())
	if err != nil {
		t.Fatal(err)
	}

	if err := m.UpdateDuration(ctx, "no-such", 30); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session: err = %v", err)
	}
	if err := m.UpdateDuration(ctx, created.ID, -1); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("negative duration: err = %v", err)
	}

	// 10 minutes in: anything below the elapsed time is rejected, values at
	// or above it are accepted, and the sentinel always passes.
	*clock = testStart.Add(10 * time.Minute)
	if err := m.UpdateDuration(ctx, created.ID, 5); !errors.Is(err, ErrDurationTooShort) {
		t.Errorf("too-short duration: err = %v, want ErrDurationTooShort", err)
	}
	if err := m.UpdateDuration(ctx, created.ID, 10); err != nil {
		t.Errorf("duration equal to elapsed: err = %v", err)
	}
	if err := m.UpdateDuration(ctx, created.ID, 45); err != nil {
		t.Errorf("extension: err = %v", err)
	}
	if err := m.UpdateDuration(ctx, created.ID, types.UnboundedMinutes); err != nil {
		t.Errorf("unbounded sentinel: err = %v", err)
	}

	stored, _ := m.GetSession(created.ID)
	if stored.DurationMin != types.UnboundedMinutes {
		t.Errorf("stored duration = %v, want sentinel", stored.DurationMin)
	}
	if !stored.StartTime.Equal(testStart) {
		t.Error("duration edits must not move the start time")
	}
}

func TestUpdateDuration_ExtensionRevivesExpiredSession(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	created, err := m.StartSession(ctx, openParams())
	if err != nil {
		t.Fatal(err)
	}

	*clock = testStart.Add(20 * time.Minute)
	if live, _ := m.IsLive(created.ID); live {
		t.Fatal("session should be expired at +20m")
	}
	if err := m.UpdateDuration(ctx, created.ID, 30); err != nil {
		t.Fatal(err)
	}
	if live, _ := m.IsLive(created.ID); !live {
		t.Error("extended session should be live again")
	}
}

func TestQueries(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	first, err := m.StartSession(ctx, openParams())
	if err != nil {
		t.Fatal(err)
	}

	*clock = testStart.Add(time.Minute)
	p := openParams()
	p.GroupID = "group-2"
	p.OwnerID = "other-owner"
	second, err := m.StartSession(ctx, p)
	if err != nil {
		t.Fatal(err)
	}

	all := m.ListSessions()
	if len(all) != 2 || all[0].ID != first.ID || all[1].ID != second.ID {
		t.Errorf("ListSessions() order/content wrong: %d entries", len(all))
	}

	grouped := m.ListGroupSessions("group-2")
	if len(grouped) != 1 || grouped[0].ID != second.ID {
		t.Errorf("ListGroupSessions(group-2) = %d entries", len(grouped))
	}
	if got := m.ListGroupSessions("no-such-group"); len(got) != 0 {
		t.Errorf("unknown group should list nothing, got %d", len(got))
	}

	// Query results are snapshots; mutating them must not touch the store.
	all[0].Roster[0].UserID = "tampered"
	fresh, _ := m.GetSession(first.ID)
	if fresh.Roster[0].UserID == "tampered" {
		t.Error("query result mutation leaked into the store")
	}
}

func TestLiveSessionForOwner(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	if _, err := m.LiveSessionForOwner("owner"); !errors.Is(err, ErrNoLiveSession) {
		t.Errorf("no sessions yet: err = %v, want ErrNoLiveSession", err)
	}

	created, err := m.StartSession(ctx, openParams())
	if err != nil {
		t.Fatal(err)
	}

	got, err := m.LiveSessionForOwner("owner")
	if err != nil {
		t.Fatalf("LiveSessionForOwner() error = %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("live session = %s, want %s", got.ID, created.ID)
	}

	*clock = testStart.Add(20 * time.Minute)
	if _, err := m.LiveSessionForOwner("owner"); !errors.Is(err, ErrNoLiveSession) {
		t.Errorf("expired session: err = %v, want ErrNoLiveSession", err)
	}
}

func TestStartSession_SingleLivePerOwner(t *testing.T) {
	notifier := newRecordingNotifier()
	m := NewManager(notifier, nil, true)
	t.Cleanup(m.Close)

	current := testStart
	m.now = func() time.Time { return current }
	ctx := context.Background()

	if _, err := m.StartSession(ctx, openParams()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.StartSession(ctx, openParams()); !errors.Is(err, ErrOwnerSessionLive) {
		t.Errorf("second live session: err = %v, want ErrOwnerSessionLive", err)
	}

	// A different owner is unaffected.
	p := openParams()
	p.OwnerID = "other-owner"
	if _, err := m.StartSession(ctx, p); err != nil {
		t.Errorf("other owner: err = %v", err)
	}

	// Once the first session expires, the owner may open a new one.
	current = testStart.Add(time.Hour)
	if _, err := m.StartSession(ctx, openParams()); err != nil {
		t.Errorf("after expiry: err = %v", err)
	}
}
