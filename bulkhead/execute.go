package bulkhead

import (
	"context"
	"time"

	"github.com/kolosys/pipelinekit/shared"
)

// Execute admits fn if an active slot is free, queues it behind at most
// maxQueue other waiters otherwise, and applies the configured
// RejectionPolicy once both are exhausted. A queued caller that is still
// waiting when queueTimeout elapses gets shared.TimeoutError; the
// underlying task is not withdrawn from the pool and still runs, occupying
// its queue slot until a worker actually picks it up.
func (b *Bulkhead) Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	started := make(chan struct{})
	results := make(chan result, 1)
	task := func(taskCtx context.Context) error {
		close(started)
		val, err := fn(taskCtx)
		results <- result{val, err}
		return err
	}

	if err := b.pool.TrySubmit(task); err != nil {
		b.obs.Logger.Debug("bulkhead admission denied", "name", b.name, "policy", b.policy.String())
		b.obs.Metrics.Inc("pipelinekit_bulkhead_rejected_total", "name", b.name)
		return b.policy.apply(ctx, b, fn)
	}

	timer := time.NewTimer(b.queueTimeout)
	defer timer.Stop()

	select {
	case <-started:
		return b.await(ctx, results)
	case r := <-results:
		return r.val, r.err
	case <-timer.C:
		return nil, &shared.TimeoutError{Phase: shared.TimeoutPhaseInitial, Duration: b.queueTimeout}
	case <-ctx.Done():
		return nil, shared.ErrCancelled
	}
}

func (b *Bulkhead) await(ctx context.Context, results chan result) (any, error) {
	select {
	case r := <-results:
		return r.val, r.err
	case <-ctx.Done():
		return nil, shared.ErrCancelled
	}
}
