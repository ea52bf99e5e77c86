package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock drives the limiter without real sleeping. Sleeps advance the
// clock instead.
type fakeClock struct {
	t time.Time
}

func newTestLimiter(maxCalls int, period time.Duration) (*Limiter, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := New(maxCalls, period)
	l.now = func() time.Time { return clk.t }
	l.sleep = func(_ context.Context, d time.Duration) error {
		clk.t = clk.t.Add(d)
		return nil
	}
	return l, clk
}

func TestAdmitUnderLimitDoesNotBlock(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)
	slept := false
	l.sleep = func(context.Context, time.Duration) error { slept = true; return nil }
	for i := 0; i < 3; i++ {
		if err := l.Admit(context.Background()); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
	if slept {
		t.Fatal("expected no sleep under limit")
	}
}

func TestAdmitBlocksUntilWindowFrees(t *testing.T) {
	l, clk := newTestLimiter(2, time.Minute)
	start := clk.t
	_ = l.Admit(context.Background())
	_ = l.Admit(context.Background())
	if err := l.Admit(context.Background()); err != nil {
		t.Fatalf("third admit: %v", err)
	}
	if elapsed := clk.t.Sub(start); elapsed < time.Minute {
		t.Fatalf("expected at least a minute of waiting, got %s", elapsed)
	}
}

func TestAdmitSleepsInSlices(t *testing.T) {
	l, clk := newTestLimiter(1, time.Minute)
	var maxSleep time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		if d > maxSleep {
			maxSleep = d
		}
		clk.t = clk.t.Add(d)
		return nil
	}
	_ = l.Admit(context.Background())
	_ = l.Admit(context.Background())
	if maxSleep > time.Second {
		t.Fatalf("slice exceeded a second: %s", maxSleep)
	}
}

func TestAdmitHonorsCancellation(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	l.sleep = sleepCtx
	_ = l.Admit(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Admit(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStatusReflectsWindow(t *testing.T) {
	l, clk := newTestLimiter(5, time.Minute)
	_ = l.Admit(context.Background())
	_ = l.Admit(context.Background())
	st := l.Status()
	if st.Used != 2 || st.Remaining != 3 || st.Limit != 5 {
		t.Fatalf("unexpected status %+v", st)
	}
	clk.t = clk.t.Add(2 * time.Minute)
	st = l.Status()
	if st.Used != 0 || st.Remaining != 5 {
		t.Fatalf("expected empty window after expiry, got %+v", st)
	}
}

func TestNewDefaults(t *testing.T) {
	l := New(0, 0)
	st := l.Status()
	if st.Limit != 20 || st.Period != time.Minute {
		t.Fatalf("unexpected defaults %+v", st)
	}
}
