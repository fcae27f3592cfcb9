package ratelimit

import (
	"context"

	"github.com/kolosys/pipelinekit/pipeline"
	"github.com/kolosys/pipelinekit/shared"
)

// KeyedMiddleware gates a dispatch behind a MultiTierLimiter, occupying the
// resilience tier alongside Middleware. Unlike Middleware (which gates on a
// plain token cost), it derives a *Request from the command via the
// requestFor function given to NewKeyedMiddleware,
// so the global/route/resource tiers can each see the method, endpoint, and
// resource identifiers a single command carries.
type KeyedMiddleware struct {
	name       string
	limiter    *MultiTierLimiter
	requestFor func(pipeline.Command) *Request
	block      bool
}

// KeyedMiddlewareOption configures a KeyedMiddleware.
type KeyedMiddlewareOption func(*KeyedMiddleware)

// WithKeyedBlocking makes the middleware call WaitN instead of AllowN,
// suspending the dispatch until every tier admits it (or ctx is done)
// rather than rejecting it outright.
func WithKeyedBlocking() KeyedMiddlewareOption {
	return func(m *KeyedMiddleware) { m.block = true }
}

// NewKeyedMiddleware wraps limiter as pipeline resilience middleware.
// requestFor extracts the route/resource/user identity the limiter's tiers
// key on from an incoming command; it must not return nil.
func NewKeyedMiddleware(name string, limiter *MultiTierLimiter, requestFor func(pipeline.Command) *Request, opts ...KeyedMiddlewareOption) *KeyedMiddleware {
	m := &KeyedMiddleware{name: name, limiter: limiter, requestFor: requestFor}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *KeyedMiddleware) Name() string                { return m.name }
func (m *KeyedMiddleware) Priority() pipeline.Priority { return pipeline.PriorityResilience }

func (m *KeyedMiddleware) Execute(ctx context.Context, pctx *pipeline.Context, cmd pipeline.Command, next pipeline.Next) (any, error) {
	req := m.requestFor(cmd)
	req.Context = ctx

	if m.block {
		if err := m.limiter.WaitN(req, 1); err != nil {
			return nil, err
		}
		return next(ctx, cmd)
	}

	if !m.limiter.AllowN(req, 1) {
		return nil, shared.NewRateLimitExceededError(m.name, 0)
	}
	return next(ctx, cmd)
}
