// Package circuit provides a closed/open/half-open circuit breaker that
// guards a potentially failing operation, with a single in-flight probe
// gate in half-open (never more than one probe admitted at a time) and an
// optional rolling failure-rate window layered on top of the classic
// consecutive-failure trip condition.
package circuit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kolosys/pipelinekit/shared"
)

// Breaker is a circuit breaker guarding calls to a potentially failing operation.
type Breaker struct {
	name   string
	config *Config
	window *slidingWindow
	obs    *shared.Observability

	state         atomic.Int32 // State
	probeInFlight atomic.Int32 // 0 or 1, gates HalfOpen to a single in-flight probe

	consecutiveFailures  atomic.Int64
	consecutiveSuccesses atomic.Int64
	openUntilNano        atomic.Int64
	lastFailureNano      atomic.Int64
	lastSuccessNano      atomic.Int64
	lastStateChangeNano  atomic.Int64

	totalRequests  atomic.Int64
	totalFailures  atomic.Int64
	totalSuccesses atomic.Int64
	stateChanges   atomic.Int64
}

// New creates a circuit breaker with the given name and options. It panics if
// the resulting configuration is invalid, matching the fail-fast construction
// convention used across pipelinekit components.
func New(name string, opts ...Option) *Breaker {
	cfg := DefaultConfig()
	obs := shared.NewObservability()

	for _, opt := range opts {
		opt(cfg, obs)
	}
	if err := cfg.Validate(); err != nil {
		panic("circuit: invalid configuration: " + err.Error())
	}

	cb := &Breaker{
		name:   name,
		config: cfg,
		window: newSlidingWindow(cfg.SampleSize),
		obs:    obs,
	}
	cb.lastStateChangeNano.Store(time.Now().UnixNano())

	obs.Logger.Info("circuit breaker created",
		"name", name, "failure_threshold", cfg.FailureThreshold, "open_duration", cfg.OpenDuration)

	return cb
}

// Execute runs fn under circuit breaker protection. If the circuit denies the
// request, it returns *shared.CircuitRejectedError without calling fn.
// Otherwise the wrapped operation's own error, if any, is propagated unchanged.
func (cb *Breaker) Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	allowed, isProbe, reopensAt := cb.allowRequest()
	if !allowed {
		cb.obs.Metrics.Inc("pipelinekit_circuit_requests_rejected", "name", cb.name, "state", cb.State().String())
		return nil, &shared.CircuitRejectedError{CircuitName: cb.name, ReopensAt: reopensAt}
	}

	cb.totalRequests.Add(1)
	cb.obs.Metrics.Inc("pipelinekit_circuit_requests_total", "name", cb.name, "state", cb.State().String())

	spanCtx, finish := cb.obs.Tracer.Start(ctx, "circuit.execute", "name", cb.name)
	start := time.Now()
	result, err := fn(spanCtx)
	finish(err)
	cb.obs.Metrics.Histogram("pipelinekit_circuit_request_duration_seconds", time.Since(start).Seconds(), "name", cb.name)

	if cb.isFailure(err) {
		cb.recordFailure(isProbe)
		cb.obs.Metrics.Inc("pipelinekit_circuit_requests_failed", "name", cb.name)
	} else {
		cb.recordSuccess(isProbe)
		cb.obs.Metrics.Inc("pipelinekit_circuit_requests_succeeded", "name", cb.name)
	}

	return result, err
}

// Call is the side-effect-only convenience form of Execute.
func (cb *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	_, err := cb.Execute(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// State returns the breaker's current state.
func (cb *Breaker) State() State {
	return State(cb.state.Load())
}

// Metrics returns a snapshot of the breaker's lifetime counters.
func (cb *Breaker) Metrics() Metrics {
	return Metrics{
		Name:             cb.name,
		State:            cb.State(),
		TotalRequests:    cb.totalRequests.Load(),
		TotalFailures:    cb.totalFailures.Load(),
		TotalSuccesses:   cb.totalSuccesses.Load(),
		ConsecutiveFails: cb.consecutiveFailures.Load(),
		StateChanges:     cb.stateChanges.Load(),
		LastFailure:      nanoToTime(cb.lastFailureNano.Load()),
		LastSuccess:      nanoToTime(cb.lastSuccessNano.Load()),
		LastStateChange:  nanoToTime(cb.lastStateChangeNano.Load()),
	}
}

// Reset forces the breaker back to Closed, clearing all counters. Intended
// for operator-driven recovery, not for use by the protected call path.
func (cb *Breaker) Reset() {
	from := cb.State()
	cb.state.Store(int32(Closed))
	cb.probeInFlight.Store(0)
	cb.consecutiveFailures.Store(0)
	cb.consecutiveSuccesses.Store(0)
	if from != Closed {
		cb.transitioned(from, Closed)
	}
	cb.obs.Logger.Info("circuit breaker manually reset", "name", cb.name)
	cb.obs.Metrics.Inc("pipelinekit_circuit_manual_reset", "name", cb.name)
}

// allowRequest decides whether a request may proceed, and if the circuit is
// HalfOpen, whether this particular request claims the single probe slot.
func (cb *Breaker) allowRequest() (allowed, isProbe bool, reopensAt time.Time) {
	for {
		switch State(cb.state.Load()) {
		case Closed:
			return true, false, time.Time{}

		case Open:
			until := nanoToTime(cb.openUntilNano.Load())
			if time.Now().Before(until) {
				return false, false, until
			}
			if cb.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
				cb.transitioned(Open, HalfOpen)
			}
			continue // re-evaluate as HalfOpen, whether we won the transition or not

		case HalfOpen:
			if cb.probeInFlight.CompareAndSwap(0, 1) {
				return true, true, time.Time{}
			}
			return false, false, nanoToTime(cb.openUntilNano.Load())

		default:
			return false, false, time.Time{}
		}
	}
}

func (cb *Breaker) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if cb.config.IsFailure != nil {
		return cb.config.IsFailure(err)
	}
	return true
}

func (cb *Breaker) recordSuccess(isProbe bool) {
	now := time.Now()
	cb.totalSuccesses.Add(1)
	cb.lastSuccessNano.Store(now.UnixNano())
	cb.recordSample(false)

	switch State(cb.state.Load()) {
	case Closed:
		cb.consecutiveFailures.Store(0)

	case HalfOpen:
		cb.probeInFlight.Store(0)
		successes := cb.consecutiveSuccesses.Add(1)
		if successes >= cb.config.SuccessThreshold {
			if cb.state.CompareAndSwap(int32(HalfOpen), int32(Closed)) {
				cb.transitioned(HalfOpen, Closed)
			}
		}
	}
	_ = isProbe
}

func (cb *Breaker) recordFailure(isProbe bool) {
	now := time.Now()
	cb.totalFailures.Add(1)
	prevFailureNano := cb.lastFailureNano.Swap(now.UnixNano())
	_, rollingRate := cb.recordSample(true)

	switch State(cb.state.Load()) {
	case Closed:
		if prevFailureNano != 0 && now.Sub(nanoToTime(prevFailureNano)) > cb.config.ResetWindow {
			cb.consecutiveFailures.Store(0)
		}
		failures := cb.consecutiveFailures.Add(1)
		if failures >= cb.config.FailureThreshold || rollingRate {
			cb.trip(Closed, now)
		}

	case HalfOpen:
		cb.probeInFlight.Store(0)
		cb.trip(HalfOpen, now)
	}
	_ = isProbe
}

func (cb *Breaker) trip(from State, now time.Time) {
	until := now.Add(cb.config.OpenDuration)
	cb.openUntilNano.Store(until.UnixNano())
	cb.consecutiveSuccesses.Store(0)
	if cb.state.CompareAndSwap(int32(from), int32(Open)) {
		cb.transitioned(from, Open)
	}
}

// recordSample feeds the optional rolling window and reports whether the
// window's trip condition (min_requests present, failure rate over threshold)
// is currently met. Returns (0, false) when no window is configured.
func (cb *Breaker) recordSample(failed bool) (count int, tripped bool) {
	if cb.window == nil {
		return 0, false
	}
	n, rate := cb.window.record(failed)
	return n, n >= cb.config.MinRequests && rate >= cb.config.FailureRateThreshold
}

func (cb *Breaker) transitioned(from, to State) {
	cb.lastStateChangeNano.Store(time.Now().UnixNano())
	cb.stateChanges.Add(1)
	cb.obs.Metrics.Inc("pipelinekit_circuit_state_changes", "name", cb.name, "from", from.String(), "to", to.String())
	cb.obs.Logger.Info("circuit breaker state changed", "name", cb.name, "from", from.String(), "to", to.String())
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

func nanoToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
