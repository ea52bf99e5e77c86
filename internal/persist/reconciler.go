// Package persist reconciles accumulated metric deltas against the
// external activity table with idempotent read-modify-write upserts.
package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatpulse/internal/model"
	"chatpulse/internal/score"
)

// ErrNotFound is returned by Store implementations when a row is absent.
var ErrNotFound = errors.New("persist: record not found")

// ErrConflict marks a row that vanished between find and update. The
// affected upsert fails; the rest of a flush batch continues.
var ErrConflict = errors.New("persist: record vanished before update")

// Store is the external tabular store, keyed by (user, period). Each call
// is a single remote round trip subject to the shared rate limiter.
type Store interface {
	Find(ctx context.Context, userID, period string) (model.Record, bool, error)
	Insert(ctx context.Context, rec model.Record) error
	Update(ctx context.Context, recordID string, rec model.Record) error
}

// Reconciler performs read-modify-write upserts: fetch the current row,
// add the delta's counters, recompute the score from the fixed weight
// table, and write the full row back. The read-then-write pair is not
// transactional against the store, so upserts for the same user are
// serialized here with a per-user lock.
type Reconciler struct {
	store   Store
	weights score.Weights

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func NewReconciler(store Store, weights score.Weights) *Reconciler {
	if weights == nil {
		weights = score.DefaultWeights()
	}
	return &Reconciler{
		store:   store,
		weights: weights,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

func (r *Reconciler) lockFor(userID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[userID] = l
	}
	return l
}

// Upsert applies delta to the (userID, current period) row, creating it
// when absent. Counters floor at zero and the score is recomputed from the
// merged counters on every write.
func (r *Reconciler) Upsert(ctx context.Context, userID, userName string, delta model.Counters) error {
	if userID == "" {
		return errors.New("persist: empty user id")
	}
	l := r.lockFor(userID)
	l.Lock()
	defer l.Unlock()

	now := r.now()
	period := model.PeriodOf(now)

	existing, found, err := r.store.Find(ctx, userID, period)
	if err != nil {
		return fmt.Errorf("find %s/%s: %w", userID, period, err)
	}

	rec := model.Record{
		UserID:    userID,
		UserName:  userName,
		Period:    period,
		Counters:  delta,
		UpdatedAt: now,
	}
	if found {
		rec.RecordID = existing.RecordID
		rec.Counters = existing.Counters
		rec.Counters.Add(delta)
		if rec.UserName == "" {
			rec.UserName = existing.UserName
		}
	}
	rec.Counters.Clamp()
	rec.Score = r.weights.Compute(rec.Counters)

	if found {
		if err := r.store.Update(ctx, rec.RecordID, rec); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("update %s/%s: %w", userID, period, ErrConflict)
			}
			return fmt.Errorf("update %s/%s: %w", userID, period, err)
		}
		return nil
	}
	if err := r.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("insert %s/%s: %w", userID, period, err)
	}
	return nil
}
