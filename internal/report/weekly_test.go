package report

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chatpulse/internal/archive"
)

type cardRecorder struct {
	chatID string
	cards  []json.RawMessage
}

func (c *cardRecorder) SendCard(_ context.Context, chatID string, card json.RawMessage) error {
	c.chatID = chatID
	c.cards = append(c.cards, card)
	return nil
}

func TestSendDigestCoversLastWeek(t *testing.T) {
	db, err := archive.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	_ = db.SavePin(ctx, archive.Pin{
		MessageID: "m1", SenderID: "alice", SenderName: "Alice",
		Content: "launch checklist", PinTime: now.AddDate(0, 0, -2),
	})
	_ = db.SavePin(ctx, archive.Pin{
		MessageID: "m2", SenderID: "alice", SenderName: "Alice",
		Content: "retro notes", PinTime: now.AddDate(0, 0, -1),
	})
	_ = db.SavePin(ctx, archive.Pin{
		MessageID: "old", SenderID: "bob", SenderName: "Bob",
		Content: "stale", PinTime: now.AddDate(0, 0, -20),
	})

	rec := &cardRecorder{}
	w := NewWeekly(rec, db, "oc_x", zerolog.Nop())
	w.now = func() time.Time { return now }

	if err := w.Send(ctx); err != nil {
		t.Fatal(err)
	}
	if rec.chatID != "oc_x" || len(rec.cards) != 1 {
		t.Fatalf("cards %d chat %q", len(rec.cards), rec.chatID)
	}
	body := string(rec.cards[0])
	if !strings.Contains(body, "Alice") || !strings.Contains(body, "launch checklist") {
		t.Fatalf("card %s", body)
	}
	if strings.Contains(body, "stale") {
		t.Fatal("card includes pin outside the week")
	}
}

func TestDigestRerunSkipsReportedPins(t *testing.T) {
	db, err := archive.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	_ = db.SavePin(ctx, archive.Pin{
		MessageID: "m1", SenderID: "alice", SenderName: "Alice",
		Content: "launch checklist", PinTime: now.AddDate(0, 0, -1),
	})

	rec := &cardRecorder{}
	w := NewWeekly(rec, db, "oc_x", zerolog.Nop())
	w.now = func() time.Time { return now }

	if err := w.Send(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Send(ctx); err != nil {
		t.Fatal(err)
	}
	if len(rec.cards) != 2 {
		t.Fatalf("cards %d", len(rec.cards))
	}
	if !strings.Contains(string(rec.cards[0]), "launch checklist") {
		t.Fatalf("first card %s", rec.cards[0])
	}
	if strings.Contains(string(rec.cards[1]), "launch checklist") {
		t.Fatal("second run repeated an already reported pin")
	}
}

func TestDigestCursorCatchesUpMissedWindow(t *testing.T) {
	db, err := archive.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	// Cursor two weeks back: a pin older than seven days must still be
	// reported, not silently dropped.
	_ = db.SaveCursor(ctx, cursorName, now.AddDate(0, 0, -14).UTC().Format(time.RFC3339))
	_ = db.SavePin(ctx, archive.Pin{
		MessageID: "m1", SenderID: "alice", SenderName: "Alice",
		Content: "forgotten pin", PinTime: now.AddDate(0, 0, -10),
	})

	rec := &cardRecorder{}
	w := NewWeekly(rec, db, "oc_x", zerolog.Nop())
	w.now = func() time.Time { return now }

	if err := w.Send(ctx); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(rec.cards[0]), "forgotten pin") {
		t.Fatalf("card %s", rec.cards[0])
	}
	v, err := db.LoadCursor(ctx, cursorName)
	if err != nil {
		t.Fatal(err)
	}
	if ts, _ := time.Parse(time.RFC3339, v); !ts.Equal(now) {
		t.Fatalf("cursor %q", v)
	}
}

func TestBuildCardGroupsBySenderCountDesc(t *testing.T) {
	now := time.Now()
	pins := []archive.Pin{
		{MessageID: "a", SenderID: "u1", SenderName: "Solo", Content: "one", PinTime: now},
		{MessageID: "b", SenderID: "u2", SenderName: "Busy", Content: "two", PinTime: now},
		{MessageID: "c", SenderID: "u2", SenderName: "Busy", Content: "three", PinTime: now},
	}
	card := string(BuildCard(pins, now.AddDate(0, 0, -7), now))
	if strings.Index(card, "Busy") > strings.Index(card, "Solo") {
		t.Fatal("expected higher pin count listed first")
	}
}

func TestBuildCardEmptyWeek(t *testing.T) {
	card := string(BuildCard(nil, time.Now().AddDate(0, 0, -7), time.Now()))
	if !strings.Contains(card, "没有新的置顶") {
		t.Fatalf("card %s", card)
	}
}
