package circuit

import (
	"fmt"
	"time"
)

// State represents the current state of a circuit breaker.
type State int32

const (
	// Closed indicates the circuit is closed and requests are passing through normally.
	Closed State = iota
	// Open indicates the circuit is open and requests fail fast.
	Open
	// HalfOpen indicates the circuit is testing recovery with a single in-flight probe.
	HalfOpen
)

// String returns the string representation of the circuit state.
func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Metrics holds a point-in-time snapshot of a circuit breaker's counters.
type Metrics struct {
	Name             string
	State            State
	TotalRequests    int64
	TotalFailures    int64
	TotalSuccesses   int64
	ConsecutiveFails int64
	StateChanges     int64
	LastFailure      time.Time
	LastSuccess      time.Time
	LastStateChange  time.Time
}

// FailureRate returns the lifetime failure rate as a fraction in [0, 1].
func (m Metrics) FailureRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.TotalFailures) / float64(m.TotalRequests)
}

// IsHealthy reports whether the breaker is closed with no consecutive failures.
func (m Metrics) IsHealthy() bool {
	return m.State == Closed && m.ConsecutiveFails == 0
}
