package persist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatpulse/internal/metrics"
	"chatpulse/internal/model"
)

type pendingDelta struct {
	userName string
	delta    model.Counters
}

// Batcher accumulates per-user deltas across a short run of events and
// flushes them as merged upserts, bounding write amplification against the
// store. Each consuming loop owns its own Batcher; the internal lock only
// guards against an explicit Flush racing the owning loop.
type Batcher struct {
	rec       *Reconciler
	threshold int
	log       zerolog.Logger

	mu       sync.Mutex
	buf      map[string]pendingDelta
	msgCount int
}

// NewBatcher creates a Batcher flushing automatically after threshold
// processed messages (default 3 when non-positive).
func NewBatcher(rec *Reconciler, threshold int, log zerolog.Logger) *Batcher {
	if threshold <= 0 {
		threshold = 3
	}
	return &Batcher{
		rec:       rec,
		threshold: threshold,
		log:       log,
		buf:       make(map[string]pendingDelta),
	}
}

// Accumulate merges delta into the buffered delta for userID. Deltas are
// associative and commutative, so merging before the flush is equivalent
// to upserting each one individually.
func (b *Batcher) Accumulate(userID, userName string, delta model.Counters) {
	if userID == "" || delta.IsZero() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.buf[userID]
	if userName != "" {
		p.userName = userName
	}
	p.delta.Add(delta)
	b.buf[userID] = p
}

// MessageProcessed counts one processed message toward the auto-flush
// threshold and flushes when it is reached.
func (b *Batcher) MessageProcessed(ctx context.Context) {
	b.mu.Lock()
	b.msgCount++
	due := b.msgCount >= b.threshold
	b.mu.Unlock()
	if due {
		b.Flush(ctx)
	}
}

// Flush attempts one upsert per accumulated user and clears the buffer
// regardless of individual failures. A failed upsert is logged and its
// delta dropped, so a loss never exceeds one flush window.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	buf := b.buf
	b.buf = make(map[string]pendingDelta)
	b.msgCount = 0
	b.mu.Unlock()

	if len(buf) == 0 {
		return
	}
	start := time.Now()
	metrics.Flushes.Inc()

	users := make([]string, 0, len(buf))
	for u := range buf {
		users = append(users, u)
	}
	sort.Strings(users)

	for _, userID := range users {
		p := buf[userID]
		if err := b.rec.Upsert(ctx, userID, p.userName, p.delta); err != nil {
			metrics.UpsertErrors.Inc()
			b.log.Error().Err(err).
				Str("user", userID).
				Msg("upsert failed, dropping buffered delta")
		}
	}
	metrics.ObserveFlushDuration(start)
}

// Pending returns the number of users with buffered deltas.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
