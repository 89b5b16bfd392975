package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// TestMemoryStore_UpperBound verifies the first 10 requests in a window are admitted
// with a decreasing remaining count and the 11th is rejected.
func TestMemoryStore_UpperBound(t *testing.T) {
	clk := newStepClock()
	s := NewMemoryStore(DefaultPolicy(), WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		dec, err := s.Take(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("Take %d: %v", i, err)
		}
		if !dec.Allowed {
			t.Fatalf("request %d rejected, want admitted", i+1)
		}
		if dec.Remaining != 9-i {
			t.Errorf("request %d: Remaining = %d, want %d", i+1, dec.Remaining, 9-i)
		}
		clk.Advance(time.Second)
	}

	dec, _ := s.Take(ctx, "10.0.0.1")
	if dec.Allowed {
		t.Fatal("11th request admitted, want rejected")
	}
	if dec.Remaining != 0 || dec.Limit != 10 {
		t.Errorf("rejection = %+v, want Remaining 0 Limit 10", dec)
	}
	wantReset := time.Date(2026, 10, 19, 9, 1, 0, 0, time.UTC)
	if !dec.ResetAt.Equal(wantReset) {
		t.Errorf("ResetAt = %v, want %v (window starts at first request)", dec.ResetAt, wantReset)
	}
}

// TestMemoryStore_WindowReset verifies the next request after the window ends is
// admitted with 9 permits left.
func TestMemoryStore_WindowReset(t *testing.T) {
	clk := newStepClock()
	s := NewMemoryStore(DefaultPolicy(), WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, _ = s.Take(ctx, "k")
	}
	clk.Advance(59 * time.Second)
	if dec, _ := s.Take(ctx, "k"); dec.Allowed {
		t.Fatal("admitted before window end")
	}

	clk.Advance(time.Second)
	dec, _ := s.Take(ctx, "k")
	if !dec.Allowed {
		t.Fatal("rejected at window end, want admitted")
	}
	if dec.Remaining != 9 {
		t.Errorf("Remaining = %d, want 9", dec.Remaining)
	}
}

// TestMemoryStore_RejectionDoesNotConsume verifies rejected requests leave the window
// unchanged, so extra rejections do not delay the reset.
func TestMemoryStore_RejectionDoesNotConsume(t *testing.T) {
	clk := newStepClock()
	s := NewMemoryStore(Policy{PermitLimit: 2, Window: time.Minute}, WithClock(clk.Now))
	ctx := context.Background()

	first, _ := s.Take(ctx, "k")
	_, _ = s.Take(ctx, "k")
	for i := 0; i < 50; i++ {
		dec, _ := s.Take(ctx, "k")
		if dec.Allowed || !dec.ResetAt.Equal(first.ResetAt) {
			t.Fatalf("rejection %d = %+v, want rejected with unchanged ResetAt", i, dec)
		}
	}
}

// TestMemoryStore_PartitionIsolation verifies exhausting one key does not affect another.
func TestMemoryStore_PartitionIsolation(t *testing.T) {
	s := NewMemoryStore(Policy{PermitLimit: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = s.Take(ctx, "alice")
	}
	if dec, _ := s.Take(ctx, "alice"); dec.Allowed {
		t.Fatal("alice admitted after exhausting budget")
	}
	dec, _ := s.Take(ctx, "bob")
	if !dec.Allowed || dec.Remaining != 2 {
		t.Errorf("bob = %+v, want admitted with 2 remaining", dec)
	}
}

// TestMemoryStore_ConcurrentStrictBound hammers one key from many goroutines and
// checks exactly PermitLimit admissions.
func TestMemoryStore_ConcurrentStrictBound(t *testing.T) {
	s := NewMemoryStore(DefaultPolicy())
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if dec, _ := s.Take(ctx, "shared"); dec.Allowed {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 10 {
		t.Errorf("admitted = %d, want exactly 10", got)
	}
}

func TestMemoryStore_CleanupRemovesEndedWindows(t *testing.T) {
	clk := newStepClock()
	s := NewMemoryStore(DefaultPolicy(), WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = s.Take(ctx, fmt.Sprintf("k%d", i))
	}
	clk.Advance(30 * time.Second)
	_, _ = s.Take(ctx, "late")
	clk.Advance(30 * time.Second)

	if removed := s.Cleanup(); removed != 5 {
		t.Errorf("Cleanup() removed %d, want 5", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (late window still open)", s.Len())
	}
}

func TestMemoryStore_StartJanitor(t *testing.T) {
	s := NewMemoryStore(Policy{PermitLimit: 1, Window: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _ = s.Take(ctx, "k")
	s.StartJanitor(ctx, 2*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("janitor did not remove expired window")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestMemoryStore_Reset(t *testing.T) {
	s := NewMemoryStore(Policy{PermitLimit: 1, Window: time.Minute})
	ctx := context.Background()
	_, _ = s.Take(ctx, "k")
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if dec, _ := s.Take(ctx, "k"); !dec.Allowed {
		t.Error("rejected after Reset, want fresh window")
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Errorf("DefaultPolicy().Validate() = %v", err)
	}
	for _, p := range []Policy{{0, time.Minute}, {10, 0}, {-1, -time.Second}} {
		if err := p.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", p)
		}
	}
}

func TestDecision_RetryAfter(t *testing.T) {
	now := time.Unix(1000, 0)
	tests := []struct {
		reset time.Time
		want  time.Duration
	}{
		{now.Add(30 * time.Second), 30 * time.Second},
		{now.Add(1500 * time.Millisecond), 2 * time.Second},
		{now, time.Second},
		{now.Add(-time.Second), time.Second},
	}
	for _, tt := range tests {
		if got := (Decision{ResetAt: tt.reset}).RetryAfter(now); got != tt.want {
			t.Errorf("RetryAfter(reset=%v) = %v, want %v", tt.reset.Sub(now), got, tt.want)
		}
	}
}
