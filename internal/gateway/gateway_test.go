package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeClock advances only when a sleep is requested, so admission timing is
// observable without real waiting.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestGateway(t *testing.T, clock *fakeClock, opts Opts) *Gateway {
	t.Helper()
	opts.Now = clock.Now
	opts.Sleep = clock.Sleep
	return New(opts)
}

func TestCall_BurstProceedsWithoutDelay(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, Opts{Burst: 10, RefillPerMinute: 45})

	for i := 0; i < 10; i++ {
		if err := g.Call(context.Background(), "op", func() error { return nil }); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("sleeps = %v, want none for burst calls", clock.sleeps)
	}
}

func TestCall_EleventhCallWaitsForRefill(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, Opts{Burst: 10, RefillPerMinute: 45})

	for i := 0; i < 10; i++ {
		if err := g.Call(context.Background(), "op", func() error { return nil }); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if err := g.Call(context.Background(), "op", func() error { return nil }); err != nil {
		t.Fatalf("11th call: %v", err)
	}

	if len(clock.sleeps) != 1 {
		t.Fatalf("sleeps = %d, want 1", len(clock.sleeps))
	}
	// One token at 45/min accrues in 60s/45 ≈ 1.333s.
	want := time.Minute / 45
	got := clock.sleeps[0]
	if got < want-50*time.Millisecond || got > want+50*time.Millisecond {
		t.Errorf("refill wait = %v, want ≈ %v", got, want)
	}
}

func TestCall_ThrottleRetriesWithDoublingBackoff(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, Opts{
		Burst:           100,
		RefillPerMinute: 6000,
		RetryBudget:     3,
		BaseBackoff:     time.Second,
	})

	calls := 0
	err := g.Call(context.Background(), "op", func() error {
		calls++
		if calls <= 2 {
			return &Throttled{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	// First backoff 1s, second 2s. The sleeps list also holds token waits,
	// so check the backoff values are present in order.
	var backoffs []time.Duration
	for _, d := range clock.sleeps {
		if d >= time.Second {
			backoffs = append(backoffs, d)
		}
	}
	if len(backoffs) != 2 || backoffs[0] != time.Second || backoffs[1] != 2*time.Second {
		t.Errorf("backoffs = %v, want [1s 2s]", backoffs)
	}
}

func TestCall_ServerRetryHintWins(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, Opts{
		Burst:           100,
		RefillPerMinute: 6000,
		BaseBackoff:     time.Second,
	})

	calls := 0
	err := g.Call(context.Background(), "op", func() error {
		calls++
		if calls == 1 {
			return &Throttled{RetryAfter: 10 * time.Second}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	found := false
	for _, d := range clock.sleeps {
		if d == 10*time.Second {
			found = true
		}
	}
	if !found {
		t.Errorf("sleeps = %v, want a 10s wait from the server hint", clock.sleeps)
	}
}

func TestCall_BackoffCapped(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, Opts{
		Burst:           100,
		RefillPerMinute: 6000,
		RetryBudget:     6,
		BaseBackoff:     time.Second,
		MaxBackoff:      4 * time.Second,
	})

	calls := 0
	_ = g.Call(context.Background(), "op", func() error {
		calls++
		if calls <= 5 {
			return &Throttled{}
		}
		return nil
	})

	for _, d := range clock.sleeps {
		if d > 4*time.Second {
			t.Errorf("sleep %v exceeds the 4s cap", d)
		}
	}
}

func TestCall_RetryBudgetExhausted(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, Opts{
		Burst:           100,
		RefillPerMinute: 6000,
		RetryBudget:     2,
		BaseBackoff:     time.Millisecond,
	})

	calls := 0
	throttle := &Throttled{Err: errors.New("rate limited")}
	err := g.Call(context.Background(), "op", func() error {
		calls++
		return throttle
	})
	if err == nil {
		t.Fatal("expected error after retry budget exhausted")
	}
	var out *Throttled
	if !errors.As(err, &out) {
		t.Errorf("error = %v, want the underlying platform error", err)
	}
	if calls != 3 { // initial attempt + 2 retries
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestCall_NonThrottlingErrorPropagatesImmediately(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, Opts{Burst: 10, RefillPerMinute: 45})

	boom := fmt.Errorf("platform exploded")
	calls := 0
	err := g.Call(context.Background(), "op", func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no silent retry)", calls)
	}
}

func TestCall_SuccessResetsConsecutiveErrors(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, Opts{
		Burst:           100,
		RefillPerMinute: 6000,
		RetryBudget:     5,
		BaseBackoff:     time.Second,
	})

	// One throttle, then success.
	calls := 0
	_ = g.Call(context.Background(), "op", func() error {
		calls++
		if calls == 1 {
			return &Throttled{}
		}
		return nil
	})

	// A fresh throttle should back off at base again, not doubled.
	clock.sleeps = nil
	calls = 0
	_ = g.Call(context.Background(), "op", func() error {
		calls++
		if calls == 1 {
			return &Throttled{}
		}
		return nil
	})

	var backoffs []time.Duration
	for _, d := range clock.sleeps {
		if d >= time.Second {
			backoffs = append(backoffs, d)
		}
	}
	if len(backoffs) != 1 || backoffs[0] != time.Second {
		t.Errorf("backoffs = %v, want [1s] after counter reset", backoffs)
	}
}

func TestCall_CancelledContext(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, Opts{Burst: 1, RefillPerMinute: 45})

	// Drain the bucket.
	if err := g.Call(context.Background(), "op", func() error { return nil }); err != nil {
		t.Fatalf("drain call: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Call(ctx, "op", func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestMetrics_Snapshot(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, Opts{Burst: 10, RefillPerMinute: 45, RetryBudget: 1, BaseBackoff: time.Millisecond})

	_ = g.Call(context.Background(), "ok", func() error { return nil })
	_ = g.Call(context.Background(), "bad", func() error { return errors.New("boom") })
	_ = g.Call(context.Background(), "limited", func() error { return &Throttled{} })

	m := g.Metrics()
	if m.Requests < 3 {
		t.Errorf("Requests = %d, want >= 3", m.Requests)
	}
	if m.Errors != 1 {
		t.Errorf("Errors = %d, want 1", m.Errors)
	}
	if m.ThrottledCount < 1 {
		t.Errorf("ThrottledCount = %d, want >= 1", m.ThrottledCount)
	}
}
