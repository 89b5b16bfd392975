package lifecycle

import "sync/atomic"

// State is the process lifecycle phase reported by /health.
type State int32

const (
	Serving State = iota
	Draining
)

func (s State) String() string {
	switch s {
	case Serving:
		return "serving"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

var current atomic.Int32

// Set records the lifecycle phase. main sets Draining when SIGTERM/SIGINT arrives.
func Set(s State) {
	current.Store(int32(s))
}

// Current returns the lifecycle phase.
func Current() State {
	return State(current.Load())
}

// IsDraining reports whether the process should stop receiving new traffic.
func IsDraining() bool {
	return Current() == Draining
}
