package notify

import (
	"sync"
	"testing"
	"time"

	"rollcall/pkg/types"
)

// recordingPusher captures stream pushes for assertions.
type recordingPusher struct {
	mu     sync.Mutex
	pushed []*types.Notification
}

func (p *recordingPusher) Push(userID string, n *types.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, n)
}

func TestNotifyRoster(t *testing.T) {
	f := NewFanout(nil, nil)

	if err := f.NotifyRoster("sess-1", "Algebra II", []string{"alice", "bob"}); err != nil {
		t.Fatalf("NotifyRoster() error = %v", err)
	}

	for _, user := range []string{"alice", "bob"} {
		got := f.ListForUser(user)
		if len(got) != 1 {
			t.Fatalf("ListForUser(%s) = %d notifications, want 1", user, len(got))
		}
		if got[0].SessionID != "sess-1" {
			t.Errorf("notification session = %q, want sess-1", got[0].SessionID)
		}
		if got[0].Message != RosterMessage("Algebra II") {
			t.Errorf("notification message = %q", got[0].Message)
		}
		if got[0].Read {
			t.Error("new notification should be unread")
		}
	}
}

func TestNotifyRoster_EmptyRosterIsNoop(t *testing.T) {
	f := NewFanout(nil, nil)
	if err := f.NotifyRoster("sess-1", "Topic", nil); err != nil {
		t.Fatalf("NotifyRoster() error = %v", err)
	}
}

func TestListForUser_MostRecentFirst(t *testing.T) {
	f := NewFanout(nil, nil)
	current := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	f.now = func() time.Time {
		current = current.Add(time.Second)
		return current
	}

	_ = f.NotifyUser("alice", "first")
	_ = f.NotifyUser("alice", "second")
	_ = f.NotifyUser("alice", "third")

	got := f.ListForUser("alice")
	if len(got) != 3 {
		t.Fatalf("ListForUser() = %d notifications, want 3", len(got))
	}
	want := []string{"third", "second", "first"}
	for i, message := range want {
		if got[i].Message != message {
			t.Errorf("position %d = %q, want %q", i, got[i].Message, message)
		}
	}
	if got[0].CreatedAt.Before(got[2].CreatedAt) {
		t.Error("most recent notification should come first")
	}
}

func TestMarkRead_Idempotent(t *testing.T) {
	f := NewFanout(nil, nil)
	_ = f.NotifyUser("alice", "hello")

	id := f.ListForUser("alice")[0].ID

	f.MarkRead(id)
	f.MarkRead(id) // second call is a no-op
	f.MarkRead("no-such-id") // unknown IDs fail silently by design

	got := f.ListForUser("alice")
	if !got[0].Read {
		t.Error("notification should be marked read")
	}
	if f.UnreadCount("alice") != 0 {
		t.Errorf("UnreadCount = %d, want 0", f.UnreadCount("alice"))
	}
}

func TestListForUser_ReturnsCopies(t *testing.T) {
	f := NewFanout(nil, nil)
	_ = f.NotifyUser("alice", "hello")

	f.ListForUser("alice")[0].Read = true

	if f.ListForUser("alice")[0].Read {
		t.Error("mutating a listed notification must not change the store")
	}
}

func TestFanout_PushesToStream(t *testing.T) {
	pusher := &recordingPusher{}
	f := NewFanout(pusher, nil)

	_ = f.NotifyUserInSession("alice", "sess-1", "you are signed in")

	pusher.mu.Lock()
	defer pusher.mu.Unlock()
	if len(pusher.pushed) != 1 {
		t.Fatalf("stream received %d pushes, want 1", len(pusher.pushed))
	}
	if pusher.pushed[0].UserID != "alice" || pusher.pushed[0].SessionID != "sess-1" {
		t.Errorf("pushed notification = %+v", pusher.pushed[0])
	}
}
