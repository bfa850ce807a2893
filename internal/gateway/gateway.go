// Package gateway wraps every outbound chat-platform call in a token-bucket
// admission check with automatic backoff-and-retry on throttling responses.
package gateway

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// Defaults match a generously under-subscribed per-process share of the
// platform's aggregate limit.
const (
	DefaultBurst           = 10
	DefaultRefillPerMinute = 45
	DefaultRetryBudget     = 3
	DefaultBaseBackoff     = time.Second
	DefaultMaxBackoff      = 2 * time.Minute
)

// Throttled is the gateway's platform-neutral throttling error. Platform
// clients either return it directly or supply a Classifier that recognizes
// their SDK's native rate-limit error.
type Throttled struct {
	RetryAfter time.Duration
	Err        error
}

func (t *Throttled) Error() string {
	if t.Err != nil {
		return fmt.Sprintf("throttled (retry after %v): %v", t.RetryAfter, t.Err)
	}
	return fmt.Sprintf("throttled (retry after %v)", t.RetryAfter)
}

func (t *Throttled) Unwrap() error { return t.Err }

// Classifier reports whether an error is a throttling response and the
// server-provided retry hint, if any.
type Classifier func(err error) (retryAfter time.Duration, throttled bool)

// defaultClassifier recognizes the gateway's own Throttled type.
func defaultClassifier(err error) (time.Duration, bool) {
	if t, ok := err.(*Throttled); ok {
		return t.RetryAfter, true
	}
	return 0, false
}

// Metrics is a point-in-time snapshot of gateway state for observability.
type Metrics struct {
	Requests         uint64        `json:"requests"`
	ThrottledCount   uint64        `json:"throttled"`
	Errors           uint64        `json:"errors"`
	Tokens           float64       `json:"tokens"`
	BackoffRemaining time.Duration `json:"backoff_remaining"`
}

// Opts holds parameters for creating a Gateway.
type Opts struct {
	Burst           int
	RefillPerMinute int
	RetryBudget     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	Classify        Classifier

	// Test seams. Nil means real clock / real sleep.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Gateway is a process-local token bucket. State is not shared across
// processes; each process's outbound volume is bounded independently.
type Gateway struct {
	mu           sync.Mutex
	burst        float64
	refillPerMS  float64
	tokens       float64
	lastRefill   time.Time
	backoffUntil time.Time
	consecErrs   int

	retryBudget int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	classify    Classifier

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	requests  uint64
	throttled uint64
	errors    uint64
}

// New creates a Gateway with a full token bucket.
func New(opts Opts) *Gateway {
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.RefillPerMinute <= 0 {
		opts.RefillPerMinute = DefaultRefillPerMinute
	}
	if opts.RetryBudget <= 0 {
		opts.RetryBudget = DefaultRetryBudget
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultBaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Classify == nil {
		opts.Classify = defaultClassifier
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = realSleep
	}
	g := &Gateway{
		burst:       float64(opts.Burst),
		refillPerMS: float64(opts.RefillPerMinute) / float64(time.Minute.Milliseconds()),
		retryBudget: opts.RetryBudget,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		classify:    opts.Classify,
		now:         opts.Now,
		sleep:       opts.Sleep,
	}
	g.tokens = g.burst
	g.lastRefill = g.now()
	return g
}

func realSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Call invokes fn through the admission check, retrying on throttling up to
// the retry budget. Non-throttling errors propagate immediately; a
// successful call resets the consecutive-error counter.
func (g *Gateway) Call(ctx context.Context, operation string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		if err := g.admit(ctx); err != nil {
			return fmt.Errorf("gateway: %s: %w", operation, err)
		}

		err := fn()

		g.mu.Lock()
		g.requests++
		if err == nil {
			g.consecErrs = 0
			g.mu.Unlock()
			return nil
		}

		retryAfter, isThrottle := g.classify(err)
		if !isThrottle {
			g.errors++
			g.mu.Unlock()
			return err
		}

		g.throttled++
		g.consecErrs++
		wait := g.baseBackoff
		for i := 1; i < g.consecErrs && wait < g.maxBackoff; i++ {
			wait *= 2
		}
		if retryAfter > wait {
			wait = retryAfter
		}
		if wait > g.maxBackoff {
			wait = g.maxBackoff
		}
		g.backoffUntil = g.now().Add(wait)
		budgetLeft := attempt < g.retryBudget
		g.mu.Unlock()

		if !budgetLeft {
			return err
		}
		log.Printf("gateway: %s throttled, backing off %v (attempt %d/%d)",
			operation, wait, attempt+1, g.retryBudget)
	}
}

// admit blocks until the backoff window has passed and one token is
// available, then consumes the token.
func (g *Gateway) admit(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := g.now()

		if now.Before(g.backoffUntil) {
			wait := g.backoffUntil.Sub(now)
			g.mu.Unlock()
			if err := g.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		g.refillLocked(now)
		if g.tokens >= 1 {
			g.tokens--
			g.mu.Unlock()
			return nil
		}

		// Wait exactly long enough to accumulate one token.
		deficit := 1 - g.tokens
		wait := time.Duration(math.Ceil(deficit/g.refillPerMS)) * time.Millisecond
		g.mu.Unlock()
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// refillLocked adds tokens proportional to elapsed time, capped at burst.
// Caller holds g.mu.
func (g *Gateway) refillLocked(now time.Time) {
	elapsed := now.Sub(g.lastRefill)
	if elapsed <= 0 {
		return
	}
	g.tokens += float64(elapsed) / float64(time.Millisecond) * g.refillPerMS
	if g.tokens > g.burst {
		g.tokens = g.burst
	}
	g.lastRefill = now
}

// Metrics returns a point-in-time snapshot of gateway counters and bucket
// state.
func (g *Gateway) Metrics() Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.refillLocked(now)
	m := Metrics{
		Requests:       g.requests,
		ThrottledCount: g.throttled,
		Errors:         g.errors,
		Tokens:         g.tokens,
	}
	if now.Before(g.backoffUntil) {
		m.BackoffRemaining = g.backoffUntil.Sub(now)
	}
	return m
}
