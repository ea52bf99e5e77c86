package topic

import (
	"testing"
	"time"

	"chatpulse/internal/model"
)

func newTestTracker() (*Tracker, *time.Time) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultThresholds())
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestObserveRootCreatesTopic(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Observe(model.Message{MessageID: "root", SenderID: "alice"}, "Alice")
	s, ok := tr.Get("root")
	if !ok {
		t.Fatal("topic missing")
	}
	if s.InitiatorID != "alice" || s.InitiatorName != "Alice" {
		t.Fatalf("snapshot %+v", s)
	}
	if s.ReplyCount != 0 {
		t.Fatalf("reply count %d", s.ReplyCount)
	}
}

func TestObserveReplyUpdatesTopic(t *testing.T) {
	tr, now := newTestTracker()
	tr.Observe(model.Message{MessageID: "root", SenderID: "alice"}, "Alice")
	*now = now.Add(time.Hour)
	tr.Observe(model.Message{MessageID: "r1", SenderID: "bob", RootID: "root", ParentID: "root"}, "Bob")
	tr.Observe(model.Message{MessageID: "r2", SenderID: "carol", RootID: "root", ParentID: "r1"}, "Carol")
	s, _ := tr.Get("root")
	if s.ReplyCount != 2 {
		t.Fatalf("reply count %d", s.ReplyCount)
	}
	if s.ParticipantCount != 3 {
		t.Fatalf("participants %v", s.Participants)
	}
	if !s.LastReply.Equal(*now) {
		t.Fatalf("last reply %v", s.LastReply)
	}
}

func TestObserveUnknownRootTracksLazily(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Observe(model.Message{MessageID: "r1", SenderID: "bob", RootID: "old-root", ParentID: "old-root"}, "Bob")
	s, ok := tr.Get("old-root")
	if !ok {
		t.Fatal("topic missing")
	}
	if s.InitiatorID != "" || s.ReplyCount != 1 {
		t.Fatalf("snapshot %+v", s)
	}
}

func TestStatusLifecycle(t *testing.T) {
	tr, now := newTestTracker()
	tr.Observe(model.Message{MessageID: "root", SenderID: "alice"}, "Alice")

	s, _ := tr.Get("root")
	if s.Status != StatusActive {
		t.Fatalf("status %s", s.Status)
	}

	*now = now.Add(10 * 24 * time.Hour)
	s, _ = tr.Get("root")
	if s.Status != StatusSilent {
		t.Fatalf("status %s", s.Status)
	}

	*now = now.Add(25 * 24 * time.Hour)
	s, _ = tr.Get("root")
	if s.Status != StatusCold {
		t.Fatalf("status %s", s.Status)
	}
}

func TestAllOrderedByRoot(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Observe(model.Message{MessageID: "b", SenderID: "x"}, "X")
	tr.Observe(model.Message{MessageID: "a", SenderID: "y"}, "Y")
	all := tr.All()
	if len(all) != 2 || all[0].RootID != "a" || all[1].RootID != "b" {
		t.Fatalf("order %v", all)
	}
	if tr.Len() != 2 {
		t.Fatalf("len %d", tr.Len())
	}
}
