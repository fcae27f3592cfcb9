package bulkhead

import (
	"context"

	"github.com/kolosys/pipelinekit/shared"
)

// RejectionPolicy decides what happens to a caller once both the active
// slots and the wait queue are exhausted.
type RejectionPolicy interface {
	apply(ctx context.Context, b *Bulkhead, fn func(context.Context) (any, error)) (any, error)
	String() string
}

type failFastPolicy struct{}

// FailFast rejects admission immediately with shared.BulkheadRejectedError.
func FailFast() RejectionPolicy { return failFastPolicy{} }

func (failFastPolicy) String() string { return "FailFast" }

func (failFastPolicy) apply(_ context.Context, b *Bulkhead, _ func(context.Context) (any, error)) (any, error) {
	return nil, b.rejectedError()
}

type queuePolicy struct{}

// Queue ignores the queue bound for this one caller, blocking until an
// active slot actually frees rather than failing outright. It still honours
// ctx cancellation.
func Queue() RejectionPolicy { return queuePolicy{} }

func (queuePolicy) String() string { return "Queue" }

func (queuePolicy) apply(ctx context.Context, b *Bulkhead, fn func(context.Context) (any, error)) (any, error) {
	started := make(chan struct{})
	results := make(chan result, 1)
	task := func(taskCtx context.Context) error {
		close(started)
		val, err := fn(taskCtx)
		results <- result{val, err}
		return err
	}

	if err := b.pool.Submit(ctx, task); err != nil {
		return nil, shared.ErrCancelled
	}

	select {
	case r := <-results:
		return r.val, r.err
	case <-ctx.Done():
		return nil, shared.ErrCancelled
	}
}

type fallbackPolicy struct{ value any }

// Fallback returns value without ever running the wrapped operation, once
// admission is denied. value is checked against the configured result type,
// if any.
func Fallback(value any) RejectionPolicy { return fallbackPolicy{value: value} }

func (fallbackPolicy) String() string { return "Fallback" }

func (p fallbackPolicy) apply(_ context.Context, b *Bulkhead, _ func(context.Context) (any, error)) (any, error) {
	if err := b.checkType("bulkhead.fallback", p.value); err != nil {
		return nil, err
	}
	return p.value, nil
}

type customPolicy struct {
	handler func(ctx context.Context) (any, error)
}

// Custom delegates to handler once admission is denied. The handler's
// result is checked against the configured result type, if any, when it
// succeeds.
func Custom(handler func(ctx context.Context) (any, error)) RejectionPolicy {
	return customPolicy{handler: handler}
}

func (customPolicy) String() string { return "Custom" }

func (p customPolicy) apply(ctx context.Context, b *Bulkhead, _ func(context.Context) (any, error)) (any, error) {
	val, err := p.handler(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.checkType("bulkhead.custom", val); err != nil {
		return nil, err
	}
	return val, nil
}
