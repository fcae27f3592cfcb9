package pipeline

import (
	"context"

	"github.com/kolosys/pipelinekit/backpressure"
	"github.com/kolosys/pipelinekit/bulkhead"
	"github.com/kolosys/pipelinekit/circuit"
	"github.com/kolosys/pipelinekit/retry"
	"github.com/kolosys/pipelinekit/timeoutctl"
)

// CircuitMiddleware gates next behind a circuit.Breaker, occupying the
// PriorityResilience tier. A denial short-circuits the chain with
// shared.CircuitRejectedError without ever calling next.
type CircuitMiddleware struct {
	name    string
	breaker *circuit.Breaker
}

// NewCircuitMiddleware wraps brk as resilience middleware.
func NewCircuitMiddleware(name string, brk *circuit.Breaker) *CircuitMiddleware {
	return &CircuitMiddleware{name: name, breaker: brk}
}

func (m *CircuitMiddleware) Name() string       { return m.name }
func (m *CircuitMiddleware) Priority() Priority { return PriorityResilience }

func (m *CircuitMiddleware) Execute(ctx context.Context, pctx *Context, cmd Command, next Next) (any, error) {
	return m.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		return next(ctx, cmd)
	})
}

// RetryMiddleware retries next per a retry.Controller's delay strategy and
// predicate, occupying the PriorityResilience tier. It calls next once per
// attempt, so it must suppress the chain's next-guard.
type RetryMiddleware struct {
	name       string
	controller *retry.Controller
}

// NewRetryMiddleware wraps controller as resilience middleware.
func NewRetryMiddleware(name string, controller *retry.Controller) *RetryMiddleware {
	return &RetryMiddleware{name: name, controller: controller}
}

func (m *RetryMiddleware) Name() string                 { return m.name }
func (m *RetryMiddleware) Priority() Priority            { return PriorityResilience }
func (m *RetryMiddleware) SuppressesNextGuard() bool     { return true }

func (m *RetryMiddleware) Execute(ctx context.Context, pctx *Context, cmd Command, next Next) (any, error) {
	return m.controller.Run(ctx, func(ctx context.Context) (any, error) {
		return next(ctx, cmd)
	})
}

// TimeoutMiddleware races next against a timeoutctl.Controller's resolved
// deadline, occupying the PriorityResilience tier. Because it races next
// against a timer rather than strictly calling it once synchronously, it
// suppresses the chain's next-guard.
type TimeoutMiddleware struct {
	name       string
	controller *timeoutctl.Controller
}

// NewTimeoutMiddleware wraps controller as resilience middleware.
func NewTimeoutMiddleware(name string, controller *timeoutctl.Controller) *TimeoutMiddleware {
	return &TimeoutMiddleware{name: name, controller: controller}
}

func (m *TimeoutMiddleware) Name() string             { return m.name }
func (m *TimeoutMiddleware) Priority() Priority       { return PriorityResilience }
func (m *TimeoutMiddleware) SuppressesNextGuard() bool { return true }

func (m *TimeoutMiddleware) Execute(ctx context.Context, pctx *Context, cmd Command, next Next) (any, error) {
	return m.controller.Run(ctx, cmd, func(ctx context.Context) (any, error) {
		return next(ctx, cmd)
	})
}

// BackpressureMiddleware admits the dispatch through a backpressure.Regulator
// before calling next, releasing its token once next returns. It occupies
// the PriorityResilience tier and calls next exactly once when admitted, so
// it does not need to suppress the next-guard.
type BackpressureMiddleware struct {
	name      string
	regulator *backpressure.Regulator
	priority  func(cmd Command) int
}

// NewBackpressureMiddleware wraps regulator as resilience middleware.
// priorityFn is consulted on every admission and is only meaningful for a
// regulator configured with backpressure.DropPriority; pass nil to always
// use priority 0.
func NewBackpressureMiddleware(name string, regulator *backpressure.Regulator, priorityFn func(Command) int) *BackpressureMiddleware {
	if priorityFn == nil {
		priorityFn = func(Command) int { return 0 }
	}
	return &BackpressureMiddleware{name: name, regulator: regulator, priority: priorityFn}
}

func (m *BackpressureMiddleware) Name() string       { return m.name }
func (m *BackpressureMiddleware) Priority() Priority { return PriorityResilience }

func (m *BackpressureMiddleware) Execute(ctx context.Context, pctx *Context, cmd Command, next Next) (any, error) {
	token, err := m.regulator.Admit(ctx, m.priority(cmd))
	if err != nil {
		return nil, err
	}
	defer token.Release()
	return next(ctx, cmd)
}

// BulkheadMiddleware admits the dispatch through a bulkhead.Bulkhead before
// calling next, occupying the PriorityResilience tier. A rejection policy
// that synthesizes a substitute result (Fallback, Custom) never invokes
// next, so this middleware suppresses the chain's next-guard.
type BulkheadMiddleware struct {
	name string
	bh   *bulkhead.Bulkhead
}

// NewBulkheadMiddleware wraps bh as resilience middleware.
func NewBulkheadMiddleware(name string, bh *bulkhead.Bulkhead) *BulkheadMiddleware {
	return &BulkheadMiddleware{name: name, bh: bh}
}

func (m *BulkheadMiddleware) Name() string             { return m.name }
func (m *BulkheadMiddleware) Priority() Priority       { return PriorityResilience }
func (m *BulkheadMiddleware) SuppressesNextGuard() bool { return true }

func (m *BulkheadMiddleware) Execute(ctx context.Context, pctx *Context, cmd Command, next Next) (any, error) {
	return m.bh.Execute(ctx, func(ctx context.Context) (any, error) {
		return next(ctx, cmd)
	})
}
