package traffic

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// TestSnapshot_Empty verifies that a fresh tracker reports zero for every outcome.
func TestSnapshot_Empty(t *testing.T) {
	tr := NewTracker(nil)
	if got := tr.Snapshot(time.Minute); got != (Counts{}) {
		t.Errorf("Snapshot() = %+v, want zero", got)
	}
}

func TestRecord_CountsPerOutcome(t *testing.T) {
	tr := NewTracker(nil)
	tr.Record(Served)
	tr.Record(Served)
	tr.Record(Fault)
	tr.Record(Denied)
	tr.RecordN(Denied, 3)

	got := tr.Snapshot(time.Minute)
	want := Counts{Served: 2, Faults: 1, Denied: 4}
	if got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}
	if got.Total() != 7 {
		t.Errorf("Total() = %d, want 7", got.Total())
	}
}

func TestRecordN_IgnoresInvalidInput(t *testing.T) {
	tr := NewTracker(nil)
	tr.RecordN(Served, 0)
	tr.RecordN(Served, -2)
	tr.RecordN(Outcome(99), 5)
	if got := tr.Snapshot(time.Minute); got.Total() != 0 {
		t.Errorf("Total() = %d, want 0", got.Total())
	}
}

// TestSnapshot_ExcludesOutsideWindow verifies the window boundary using a fake clock.
func TestSnapshot_ExcludesOutsideWindow(t *testing.T) {
	clk := newFakeClock()
	tr := NewTracker(clk.Now)
	tr.Record(Denied)
	clk.Advance(45 * time.Second)
	tr.Record(Denied)
	clk.Advance(30 * time.Second)

	if got := tr.Snapshot(time.Minute).Denied; got != 1 {
		t.Errorf("Denied in last minute = %d, want 1", got)
	}
	if got := tr.Snapshot(2 * time.Minute).Denied; got != 2 {
		t.Errorf("Denied in last 2 minutes = %d, want 2", got)
	}
}

func TestRecord_PrunesPastRetention(t *testing.T) {
	clk := newFakeClock()
	tr := NewTracker(clk.Now)
	tr.RecordN(Served, 10)
	clk.Advance(retention + time.Second)
	tr.Record(Served)

	if got := tr.Snapshot(time.Hour).Served; got != 1 {
		t.Errorf("Served after retention = %d, want 1 (old entries pruned)", got)
	}
}

func TestCounts_Percentages(t *testing.T) {
	tests := []struct {
		name      string
		c         Counts
		faultPct  float64
		deniedPct float64
	}{
		{"empty", Counts{}, 0, 0},
		{"faults only of handled", Counts{Served: 3, Faults: 1, Denied: 4}, 25, 50},
		{"all denied", Counts{Denied: 5}, 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.FaultPct(); got != tt.faultPct {
				t.Errorf("FaultPct() = %v, want %v", got, tt.faultPct)
			}
			if got := tt.c.DeniedPct(); got != tt.deniedPct {
				t.Errorf("DeniedPct() = %v, want %v", got, tt.deniedPct)
			}
		})
	}
}

func TestReset(t *testing.T) {
	Reset()
	Record(Served)
	RecordN(Fault, 2)
	Reset()
	if got := Snapshot(time.Minute); got.Total() != 0 {
		t.Errorf("after Reset, Total() = %d, want 0", got.Total())
	}
}

func TestOutcome_String(t *testing.T) {
	for o, want := range map[Outcome]string{Served: "served", Fault: "fault", Denied: "denied", Outcome(7): "unknown"} {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(o), got, want)
		}
	}
}
