package traffic

import (
	"sync"
	"time"
)

// Outcome classifies how a request on the forecast routes ended.
type Outcome int

const (
	// Served is a request that reached a handler and completed below 500.
	Served Outcome = iota
	// Fault is a request answered by the error envelope (500).
	Fault
	// Denied is a request rejected by the rate gate (429).
	Denied
	numOutcomes
)

func (o Outcome) String() string {
	switch o {
	case Served:
		return "served"
	case Fault:
		return "fault"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// retention bounds memory: timestamps older than this are pruned on every write.
const retention = 5 * time.Minute

var defaultTracker = NewTracker(nil)

// Record records one outcome on the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// RecordN records n outcomes at once on the process-wide tracker.
func RecordN(o Outcome, n int) {
	defaultTracker.RecordN(o, n)
}

// Snapshot returns outcome counts within the window.
func Snapshot(window time.Duration) Counts {
	return defaultTracker.Snapshot(window)
}

// Reset clears all recorded outcomes.
func Reset() {
	defaultTracker.Reset()
}

// Counts holds per-outcome totals for one window.
type Counts struct {
	Served int `json:"served"`
	Faults int `json:"faults"`
	Denied int `json:"denied"`
}

// Total returns all requests in the window, denied included.
func (c Counts) Total() int {
	return c.Served + c.Faults + c.Denied
}

// FaultPct returns faults as a percentage of handled (non-denied) requests.
func (c Counts) FaultPct() float64 {
	handled := c.Served + c.Faults
	if handled == 0 {
		return 0
	}
	return float64(c.Faults) * 100 / float64(handled)
}

// DeniedPct returns denials as a percentage of all requests.
func (c Counts) DeniedPct() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return float64(c.Denied) * 100 / float64(total)
}

// Tracker maintains sliding windows of outcome timestamps.
// Single source of truth for the health overload and degraded checks.
type Tracker struct {
	mu    sync.Mutex
	now   func() time.Time
	times [numOutcomes][]time.Time
}

// NewTracker returns a Tracker. A nil now uses time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Record appends the current time to the outcome's window.
func (t *Tracker) Record(o Outcome) {
	t.RecordN(o, 1)
}

// RecordN appends n timestamps for the outcome under one lock.
func (t *Tracker) RecordN(o Outcome, n int) {
	if o < 0 || o >= numOutcomes || n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for i := 0; i < n; i++ {
		t.times[o] = append(t.times[o], now)
	}
	t.pruneLocked(now)
}

// Snapshot counts each outcome not older than window.
func (t *Tracker) Snapshot(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return Counts{
		Served: countSince(t.times[Served], cutoff),
		Faults: countSince(t.times[Fault], cutoff),
		Denied: countSince(t.times[Denied], cutoff),
	}
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.times {
		t.times[i] = nil
	}
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Slices are append-only in time
// order, so the expired prefix is contiguous. Caller holds mu.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for o := range t.times {
		times := t.times[o]
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
