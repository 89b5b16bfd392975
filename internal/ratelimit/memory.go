package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps windows in a process-local map guarded by one mutex.
type MemoryStore struct {
	mu      sync.Mutex
	policy  Policy
	now     func() time.Time
	windows map[string]*window
}

type window struct {
	remaining int
	end       time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore returns an empty MemoryStore enforcing policy.
func NewMemoryStore(policy Policy, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		policy:  policy,
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Name() string   { return "in_memory" }
func (s *MemoryStore) Policy() Policy { return s.policy }

// Take admits the request when the key's window has a permit left, starting a new
// window when none exists or the previous one has ended.
func (s *MemoryStore) Take(ctx context.Context, key string) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.end) {
		w = &window{remaining: s.policy.PermitLimit, end: now.Add(s.policy.Window)}
		s.windows[key] = w
	}
	if w.remaining == 0 {
		return Decision{Allowed: false, Limit: s.policy.PermitLimit, Remaining: 0, ResetAt: w.end}, nil
	}
	w.remaining--
	return Decision{Allowed: true, Limit: s.policy.PermitLimit, Remaining: w.remaining, ResetAt: w.end}, nil
}

// Reset drops every window.
func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = make(map[string]*window)
	return nil
}

// Len returns the number of tracked partitions, expired ones included until Cleanup runs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Cleanup removes windows that have ended. Removing an ended window has the same
// effect as replenishing it on the next request, so admission is unaffected.
func (s *MemoryStore) Cleanup() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, w := range s.windows {
		if !now.Before(w.end) {
			delete(s.windows, k)
			removed++
		}
	}
	return removed
}

// StartJanitor runs Cleanup every interval until ctx is done. Without it, partitions
// keyed by the per-request random fallback accumulate for the life of the process.
func (s *MemoryStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
