// Package backpressure provides admission control layered on a semaphore: a
// concurrency bound C (permits held during execution) and a wider outstanding
// bound O (concurrency plus queued admissions combined). Once outstanding
// reaches O, a configurable Strategy decides whether the newcomer suspends,
// errors, or trades places with an already-queued admission.
package backpressure

import (
	"sync"
	"time"

	"github.com/kolosys/pipelinekit/semaphore"
	"github.com/kolosys/pipelinekit/shared"
)

// Regulator is a dual-bound admission controller.
type Regulator struct {
	name        string
	concurrency int64 // C
	bound       int64 // O
	strategy    Strategy

	sem *semaphore.Semaphore // capacity C

	obs *shared.Observability

	mu             sync.Mutex
	outstanding    int64
	queue          []*queuedEntry
	totalProcessed int64
	totalRejected  int64
	maxQueueDepth  int64
}

type queuedEntry struct {
	id            semaphore.WaiterID
	priority      int
	enqueuedAt    time.Time
	droppedReason shared.BackPressureReason
}

// Option configures a Regulator.
type Option func(*config)

type config struct {
	name       string
	concurrency int64
	bound      int64
	strategy   Strategy
	fairness   semaphore.Fairness
	obs        *shared.Observability
}

// WithName sets the regulator's name for observability and structured errors.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithFairness sets the fairness mode of the underlying semaphore.
func WithFairness(f semaphore.Fairness) Option {
	return func(c *config) { c.fairness = f }
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

// New builds a Regulator with concurrency bound C and outstanding bound O,
// governed by strategy. It panics if concurrency or outstanding is
// non-positive, or if outstanding is smaller than concurrency, matching the
// fail-fast construction convention used across every pipelinekit component.
func New(concurrency, outstanding int64, strategy Strategy, opts ...Option) *Regulator {
	if concurrency <= 0 {
		panic("backpressure: concurrency must be positive")
	}
	if outstanding < concurrency {
		panic("backpressure: outstanding bound must be >= concurrency bound")
	}
	if strategy == nil {
		panic("backpressure: strategy must not be nil")
	}

	cfg := &config{
		fairness: semaphore.FIFO,
		obs:      shared.NewObservability(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := &Regulator{
		name:        cfg.name,
		concurrency: concurrency,
		bound:       outstanding,
		strategy:    strategy,
		obs:         cfg.obs,
	}
	r.sem = semaphore.New(concurrency,
		semaphore.WithName(cfg.name),
		semaphore.WithFairness(cfg.fairness),
		semaphore.WithLogger(cfg.obs.Logger),
		semaphore.WithMetrics(cfg.obs.Metrics),
		semaphore.WithTracer(cfg.obs.Tracer),
	)

	r.obs.Logger.Info("backpressure regulator created",
		"name", r.name, "concurrency", concurrency, "outstanding", outstanding, "strategy", strategy.String())

	return r
}

// Stats is a point-in-time snapshot of the regulator's counters, taken under
// a single lock acquisition.
type Stats struct {
	Active                int64
	Queued                int64
	TotalProcessed        int64
	TotalRejected         int64
	MaxQueueDepthObserved int64
}

// Stats returns a consistent snapshot of the regulator's state.
func (r *Regulator) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := r.outstanding - int64(len(r.queue))
	return Stats{
		Active:                active,
		Queued:                int64(len(r.queue)),
		TotalProcessed:        r.totalProcessed,
		TotalRejected:         r.totalRejected,
		MaxQueueDepthObserved: r.maxQueueDepth,
	}
}

// MaxConcurrency returns the regulator's concurrency bound C.
func (r *Regulator) MaxConcurrency() int64 { return r.concurrency }

// MaxOutstanding returns the regulator's outstanding bound O.
func (r *Regulator) MaxOutstanding() int64 { return r.bound }

// Close releases the regulator's underlying semaphore resources.
func (r *Regulator) Close() {
	r.sem.Close()
}
