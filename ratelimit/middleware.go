package ratelimit

import (
	"context"
	"time"

	"github.com/kolosys/pipelinekit/pipeline"
	"github.com/kolosys/pipelinekit/shared"
)

// Middleware gates a dispatch behind a Limiter, occupying the resilience
// tier alongside circuit breaker, retry, bulkhead, and backpressure
// middleware. A denial short-circuits the chain without ever calling next.
type Middleware struct {
	name    string
	limiter Limiter
	cost    func(pipeline.Command) int
	block   bool
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

// WithCost sets a per-command token cost; the default cost is 1.
func WithCost(cost func(pipeline.Command) int) MiddlewareOption {
	return func(m *Middleware) { m.cost = cost }
}

// WithBlocking makes the middleware call WaitN instead of AllowN, suspending
// the dispatch until tokens are available (or ctx is done) rather than
// rejecting it outright.
func WithBlocking() MiddlewareOption {
	return func(m *Middleware) { m.block = true }
}

// NewMiddleware wraps limiter (a *TokenBucket, *LeakyBucket, or any other
// Limiter) as pipeline resilience middleware.
func NewMiddleware(name string, limiter Limiter, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		name:    name,
		limiter: limiter,
		cost:    func(pipeline.Command) int { return 1 },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Middleware) Name() string             { return m.name }
func (m *Middleware) Priority() pipeline.Priority { return pipeline.PriorityResilience }

func (m *Middleware) Execute(ctx context.Context, pctx *pipeline.Context, cmd pipeline.Command, next pipeline.Next) (any, error) {
	n := m.cost(cmd)

	if m.block {
		if err := m.limiter.WaitN(ctx, n); err != nil {
			return nil, err
		}
		return next(ctx, cmd)
	}

	if !m.limiter.AllowN(time.Now(), n) {
		return nil, shared.NewRateLimitExceededError(m.name, 0)
	}
	return next(ctx, cmd)
}
