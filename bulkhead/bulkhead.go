// Package bulkhead bounds concurrent execution with a fixed number of active
// slots and a bounded wait queue, built on top of workerpool. Admission
// beyond both bounds is handled by a pluggable RejectionPolicy.
package bulkhead

import (
	"context"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/kolosys/pipelinekit/shared"
	"github.com/kolosys/pipelinekit/workerpool"
)

type result struct {
	val any
	err error
}

// Bulkhead limits in-flight operations to maxConcurrency, queues up to
// maxQueue additional callers, and applies a RejectionPolicy once both are
// exhausted.
type Bulkhead struct {
	name         string
	maxActive    int
	maxQueue     int
	queueTimeout time.Duration
	policy       RejectionPolicy

	pool       *workerpool.Pool
	rejected   atomic.Uint64
	resultType reflect.Type

	obs *shared.Observability
}

// Option configures a Bulkhead.
type Option func(*Bulkhead)

// WithName sets the bulkhead's name for observability and error reporting.
func WithName(name string) Option {
	return func(b *Bulkhead) { b.name = name }
}

// WithLogger sets the logger for observability.
func WithLogger(logger shared.Logger) Option {
	return func(b *Bulkhead) { b.obs = b.obs.WithLogger(logger) }
}

// WithMetrics sets the metrics recorder for observability.
func WithMetrics(metrics shared.Metrics) Option {
	return func(b *Bulkhead) { b.obs = b.obs.WithMetrics(metrics) }
}

// WithResultType declares the command's Result type by example. When set, a
// value synthesized by a Fallback or Custom rejection policy is checked
// against it; a mismatch is reported as shared.TypeMismatchError instead of
// silently returning the wrong shape.
func WithResultType(exemplar any) Option {
	return func(b *Bulkhead) { b.resultType = reflect.TypeOf(exemplar) }
}

// New builds a Bulkhead with maxConcurrency active slots and a queue of
// maxQueue waiters, each bounded by queueTimeout while waiting for an active
// slot. It panics if maxConcurrency is non-positive, maxQueue is negative, or
// queueTimeout is non-positive, matching the fail-fast construction
// convention used across pipelinekit components.
func New(maxConcurrency, maxQueue int, queueTimeout time.Duration, policy RejectionPolicy, opts ...Option) *Bulkhead {
	if maxConcurrency <= 0 {
		panic("bulkhead: max concurrency must be positive")
	}
	if maxQueue < 0 {
		panic("bulkhead: max queue must not be negative")
	}
	if queueTimeout <= 0 {
		panic("bulkhead: queue timeout must be positive")
	}
	if policy == nil {
		policy = FailFast()
	}

	b := &Bulkhead{
		maxActive:    maxConcurrency,
		maxQueue:     maxQueue,
		queueTimeout: queueTimeout,
		policy:       policy,
		obs:          shared.NewObservability(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.pool = workerpool.New(maxConcurrency, maxQueue,
		workerpool.WithName(b.name),
		workerpool.WithLogger(b.obs.Logger),
		workerpool.WithMetrics(b.obs.Metrics),
	)

	return b
}

// Stats is a point-in-time snapshot of bulkhead occupancy.
type Stats struct {
	Active         int
	Queued         int
	MaxActive      int
	MaxQueue       int
	TotalProcessed uint64
	TotalRejected  uint64
}

// Stats returns a snapshot of the bulkhead's current occupancy and lifetime
// counters.
func (b *Bulkhead) Stats() Stats {
	pm := b.pool.Metrics()
	return Stats{
		Active:         int(pm.Running),
		Queued:         int(pm.Queued),
		MaxActive:      b.maxActive,
		MaxQueue:       b.maxQueue,
		TotalProcessed: pm.Completed + pm.Failed,
		TotalRejected:  b.rejected.Load(),
	}
}

// Close shuts the underlying worker pool down, waiting for in-flight and
// still-queued work to finish or ctx to expire.
func (b *Bulkhead) Close(ctx context.Context) error {
	return b.pool.Close(ctx)
}

// checkType validates a value synthesized by a rejection policy against the
// declared result type, when one was configured via WithResultType.
func (b *Bulkhead) checkType(op string, v any) error {
	if b.resultType == nil || v == nil {
		return nil
	}
	if actual := reflect.TypeOf(v); actual != b.resultType {
		return &shared.TypeMismatchError{
			Op:       op,
			Expected: b.resultType.String(),
			Actual:   actual.String(),
		}
	}
	return nil
}

func (b *Bulkhead) rejectedError() *shared.BulkheadRejectedError {
	b.rejected.Add(1)
	s := b.Stats()
	return &shared.BulkheadRejectedError{
		BulkheadName: b.name,
		Active:       s.Active,
		Queued:       s.Queued,
		MaxActive:    s.MaxActive,
		MaxQueue:     s.MaxQueue,
	}
}
