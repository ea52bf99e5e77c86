// Package ratelimit implements the sliding-window admission control shared
// by every outbound platform call.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Status is a point-in-time snapshot of the window.
type Status struct {
	Used      int
	Remaining int
	Limit     int
	Period    time.Duration
}

// Limiter admits at most maxCalls calls within a sliding period. Admit
// blocks until a slot frees up; no call is ever dropped. A single Limiter
// is shared across the event-consumer loop and the pin monitor.
type Limiter struct {
	mu       sync.Mutex
	maxCalls int
	period   time.Duration
	calls    []time.Time

	now   func() time.Time // test hook
	sleep func(context.Context, time.Duration) error
}

// New constructs a Limiter admitting maxCalls per period. Non-positive
// arguments fall back to the platform-safe default of 20 calls per minute.
func New(maxCalls int, period time.Duration) *Limiter {
	if maxCalls <= 0 {
		maxCalls = 20
	}
	if period <= 0 {
		period = time.Minute
	}
	return &Limiter{
		maxCalls: maxCalls,
		period:   period,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// purge drops timestamps older than one period. Caller holds mu.
func (l *Limiter) purge(now time.Time) {
	cut := 0
	for cut < len(l.calls) && now.Sub(l.calls[cut]) >= l.period {
		cut++
	}
	if cut > 0 {
		l.calls = append(l.calls[:0], l.calls[cut:]...)
	}
}

// tryAdmit records an admission if a slot is free. Returns the wait until
// the oldest recorded call leaves the window when the window is full.
func (l *Limiter) tryAdmit() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.purge(now)
	if len(l.calls) < l.maxCalls {
		l.calls = append(l.calls, now)
		return true, 0
	}
	return false, l.period - now.Sub(l.calls[0])
}

// Admit blocks the caller until a call slot is available, then records the
// admission. Waiting happens in slices of at most one second and re-checks
// after each slice, so capacity freed concurrently is noticed promptly and
// cancellation is observed without unbounded blocking.
func (l *Limiter) Admit(ctx context.Context) error {
	for {
		ok, wait := l.tryAdmit()
		if ok {
			return nil
		}
		if wait <= 0 {
			continue
		}
		if wait > time.Second {
			wait = time.Second
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Status reports current window usage after purging expired admissions.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purge(l.now())
	return Status{
		Used:      len(l.calls),
		Remaining: l.maxCalls - len(l.calls),
		Limit:     l.maxCalls,
		Period:    l.period,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
