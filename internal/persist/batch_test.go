package persist

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"chatpulse/internal/model"
)

func newTestBatcher(store Store, threshold int) *Batcher {
	return NewBatcher(newTestReconciler(store), threshold, zerolog.Nop())
}

func TestBatcherAutoFlushAtThreshold(t *testing.T) {
	store := newFakeStore()
	b := newTestBatcher(store, 3)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		b.Accumulate("alice", "Alice", model.Counters{MessageCount: 1})
		b.MessageProcessed(ctx)
	}
	if store.inserts != 0 {
		t.Fatalf("flushed early: %d inserts", store.inserts)
	}
	b.Accumulate("alice", "Alice", model.Counters{MessageCount: 1})
	b.MessageProcessed(ctx)
	row := store.row("alice", fixedNow())
	if row.Counters.MessageCount != 3 {
		t.Fatalf("row %+v", row.Counters)
	}
	if b.Pending() != 0 {
		t.Fatalf("pending %d after flush", b.Pending())
	}
}

func TestBatcherMergesDeltasPerUser(t *testing.T) {
	store := newFakeStore()
	b := newTestBatcher(store, 100)
	b.Accumulate("alice", "Alice", model.Counters{MessageCount: 1, CharCount: 10})
	b.Accumulate("alice", "", model.Counters{ReplyReceived: 1})
	b.Accumulate("bob", "Bob", model.Counters{ReactionGiven: 1})
	if b.Pending() != 2 {
		t.Fatalf("pending %d", b.Pending())
	}
	b.Flush(context.Background())
	if store.inserts != 2 {
		t.Fatalf("inserts %d", store.inserts)
	}
	row := store.row("alice", fixedNow())
	if row.Counters.MessageCount != 1 || row.Counters.ReplyReceived != 1 || row.UserName != "Alice" {
		t.Fatalf("row %+v name %q", row.Counters, row.UserName)
	}
}

func TestBatcherSkipsEmptyDeltas(t *testing.T) {
	b := newTestBatcher(newFakeStore(), 100)
	b.Accumulate("alice", "Alice", model.Counters{})
	b.Accumulate("", "Ghost", model.Counters{MessageCount: 1})
	if b.Pending() != 0 {
		t.Fatalf("pending %d", b.Pending())
	}
}

func TestBatcherFlushClearsBufferOnFailure(t *testing.T) {
	store := newFakeStore()
	store.failInsert["alice"] = errors.New("store down")
	b := newTestBatcher(store, 100)
	b.Accumulate("alice", "Alice", model.Counters{MessageCount: 1})
	b.Accumulate("bob", "Bob", model.Counters{MessageCount: 1})
	b.Flush(context.Background())
	if b.Pending() != 0 {
		t.Fatalf("pending %d, failed delta must be dropped", b.Pending())
	}
	// The sibling upsert in the same flush still lands.
	if row := store.row("bob", fixedNow()); row.Counters.MessageCount != 1 {
		t.Fatalf("bob row %+v", row.Counters)
	}
}

func TestBatcherFlushEmptyIsNoop(t *testing.T) {
	b := newTestBatcher(newFakeStore(), 100)
	b.Flush(context.Background())
	if b.Pending() != 0 {
		t.Fatal("unexpected pending")
	}
}
