// Package ratelimit implements fixed-window admission control per partition key.
//
// Each key owns a window of Policy.Window that starts with the first admitted request.
// Up to Policy.PermitLimit requests are admitted per window; the rest are rejected
// immediately (no queueing). An expired window is replenished by the next request
// for that key rather than by a background tick. Requests straddling a window
// boundary can see up to 2*PermitLimit admissions within one Window-long span;
// that is inherent to fixed windows.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultPermitLimit = 10
	DefaultWindow      = time.Minute
)

// ErrContention is returned when a store could not commit an update after repeated
// concurrent modifications of the same key. Limiter treats it as a rejection.
var ErrContention = errors.New("rate limit store: too much contention")

// Policy is the per-partition fixed-window budget.
type Policy struct {
	PermitLimit int
	Window      time.Duration
}

// DefaultPolicy returns 10 permits per 60 seconds.
func DefaultPolicy() Policy {
	return Policy{PermitLimit: DefaultPermitLimit, Window: DefaultWindow}
}

// Validate rejects budgets that could never admit a request.
func (p Policy) Validate() error {
	if p.PermitLimit <= 0 {
		return fmt.Errorf("permit limit must be positive, got %d", p.PermitLimit)
	}
	if p.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", p.Window)
	}
	return nil
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int       // permits left in the current window after this request
	ResetAt   time.Time // when the current window ends
	// FailOpen is set when the store could not be consulted and the request was
	// admitted without counting.
	FailOpen bool
}

// RetryAfter returns the wait until the window resets, rounded up to whole seconds
// and never below one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	secs := (wait + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

// Store holds fixed-window counters keyed by partition. Take must be atomic per key:
// concurrent callers must never be admitted beyond Policy().PermitLimit in one window.
// A rejected Take must not consume a permit.
type Store interface {
	Take(ctx context.Context, key string) (Decision, error)
	// Reset discards every window. Used by testing-mode endpoints.
	Reset(ctx context.Context) error
	Policy() Policy
	// Name labels metrics and logs ("in_memory", "redis", "memcached").
	Name() string
}

// Pinger is implemented by stores backed by a network service.
type Pinger interface {
	Ping(ctx context.Context) error
}
