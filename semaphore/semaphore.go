// Package semaphore provides a cancellation-safe, asynchronous counted
// semaphore with FIFO waiters, per-waiter timeouts, and targeted
// cancellation without phantom permits.
//
// The semaphore generalizes the classic counting semaphore to weighted
// permits (acquiring n units at once) while still exposing the simple
// single-unit Wait/Signal vocabulary as a thin convenience layer. Every
// successful Acquire/Wait returns a *Permit that must be released exactly
// once; Permit.Release is idempotent so it is safe to defer unconditionally.
package semaphore

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kolosys/pipelinekit/shared"
)

// Fairness defines the ordering behavior for semaphore waiters.
type Fairness int

const (
	// FIFO processes waiters in first-in-first-out order (default).
	FIFO Fairness = iota
	// LIFO processes waiters in last-in-first-out order.
	LIFO
	// None provides no fairness guarantees, allowing maximum performance.
	None
)

// String returns the string representation of the fairness mode.
func (f Fairness) String() string {
	switch f {
	case FIFO:
		return "FIFO"
	case LIFO:
		return "LIFO"
	case None:
		return "None"
	default:
		return fmt.Sprintf("Fairness(%d)", int(f))
	}
}

// WaiterID identifies a single pending waiter, stable for the lifetime of
// its wait. Callers that need targeted cancellation (e.g. the backpressure
// regulator's DropOldest/DropPriority strategies) capture the ID handed to
// them via AcquireNotify and later pass it to Cancel.
type WaiterID = uuid.UUID

// waiterState is the terminal-state machine for a single waiter. A waiter
// starts pending and transitions exactly once, via compare-and-swap, to
// exactly one of the three terminal states.
type waiterState int32

const (
	statePending waiterState = iota
	stateCompleted
	stateCancelled
	stateTimedOut
)

// Semaphore is a weighted, cancellation-safe counted semaphore.
type Semaphore struct {
	name           string
	capacity       int64
	fairness       Fairness
	acquireTimeout time.Duration
	sweepInterval  time.Duration

	obs *shared.Observability

	mu      sync.Mutex
	current int64
	waiters waiterQueue
	closed  bool

	sweepStop chan struct{}
	sweepOnce sync.Once
	sweepWG   sync.WaitGroup
}

// Option configures semaphore behavior.
type Option func(*config)

type config struct {
	name           string
	fairness       Fairness
	acquireTimeout time.Duration
	sweepInterval  time.Duration
	obs            *shared.Observability
}

// WithName sets the semaphore name for observability and error reporting.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithFairness sets the fairness mode for waiter ordering.
func WithFairness(fairness Fairness) Option {
	return func(c *config) { c.fairness = fairness }
}

// WithAcquireTimeout sets the default timeout applied to Acquire when no
// context deadline is already set.
func WithAcquireTimeout(timeout time.Duration) Option {
	return func(c *config) { c.acquireTimeout = timeout }
}

// WithSweepInterval overrides the default 1s period of the background
// collector that drops waiters whose deadlines have elapsed even without
// signal traffic. Mostly useful for tests.
func WithSweepInterval(interval time.Duration) Option {
	return func(c *config) { c.sweepInterval = interval }
}

// WithLogger sets the logger for observability.
func WithLogger(logger shared.Logger) Option {
	return func(c *config) { c.obs = c.obs.WithLogger(logger) }
}

// WithMetrics sets the metrics recorder for observability.
func WithMetrics(metrics shared.Metrics) Option {
	return func(c *config) { c.obs = c.obs.WithMetrics(metrics) }
}

// WithTracer sets the tracer for observability.
func WithTracer(tracer shared.Tracer) Option {
	return func(c *config) { c.obs = c.obs.WithTracer(tracer) }
}

// New creates a new semaphore with the given capacity. The semaphore starts
// with all permits available and panics if capacity is non-positive,
// matching the construction-time validation convention used by every other
// pipelinekit component.
func New(capacity int64, opts ...Option) *Semaphore {
	if capacity <= 0 {
		panic("semaphore: capacity must be positive")
	}

	cfg := &config{
		fairness:      FIFO,
		sweepInterval: time.Second,
		obs:           shared.NewObservability(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Semaphore{
		name:           cfg.name,
		capacity:       capacity,
		current:        capacity,
		fairness:       cfg.fairness,
		acquireTimeout: cfg.acquireTimeout,
		sweepInterval:  cfg.sweepInterval,
		obs:            cfg.obs,
		waiters: waiterQueue{
			fairness: cfg.fairness,
			waiters:  make([]*waiter, 0),
		},
		sweepStop: make(chan struct{}),
	}

	s.obs.Logger.Info("semaphore created",
		"name", s.name, "capacity", capacity, "fairness", cfg.fairness.String())

	s.startSweep()

	return s
}

// NewWeighted is an alias for New, kept for call sites migrating from a
// plain weighted-semaphore constructor name.
func NewWeighted(capacity int64, opts ...Option) *Semaphore {
	return New(capacity, opts...)
}

// Available returns the current number of free permits. This is a
// diagnostic snapshot only; per the semaphore's own invariants, no callsite
// may use it to decide whether to acquire instead of calling Acquire itself.
func (s *Semaphore) Available() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Capacity returns the semaphore's fixed capacity.
func (s *Semaphore) Capacity() int64 {
	return s.capacity
}

// Close stops the background sweep goroutine. It does not cancel pending
// waiters; callers that need that should cancel their own contexts first.
func (s *Semaphore) Close() {
	s.sweepOnce.Do(func() {
		close(s.sweepStop)
	})
	s.sweepWG.Wait()
}
