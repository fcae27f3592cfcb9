package pipeline

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/kolosys/pipelinekit/shared"
)

// Chain is a priority-ordered, immutable-once-built sequence of middleware
// terminating in a handler dispatch.
type Chain struct {
	name        string
	middlewares []Middleware
	obs         *shared.Observability
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithChainName sets the chain's name for observability.
func WithChainName(name string) ChainOption {
	return func(c *Chain) { c.name = name }
}

// WithChainLogger sets the logger for observability.
func WithChainLogger(logger shared.Logger) ChainOption {
	return func(c *Chain) { c.obs = c.obs.WithLogger(logger) }
}

// WithChainMetrics sets the metrics recorder for observability.
func WithChainMetrics(metrics shared.Metrics) ChainOption {
	return func(c *Chain) { c.obs = c.obs.WithMetrics(metrics) }
}

// NewChain builds an empty Chain. Middleware is added with Add.
func NewChain(opts ...ChainOption) *Chain {
	c := &Chain{obs: shared.NewObservability()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add registers a middleware. Insertion respects m.Priority(), then arrival
// order among middleware sharing a priority (a stable sort preserves it).
func (c *Chain) Add(m Middleware) {
	c.middlewares = append(c.middlewares, m)
	sort.SliceStable(c.middlewares, func(i, j int) bool {
		return c.middlewares[i].Priority() < c.middlewares[j].Priority()
	})
}

// Middlewares returns the chain's current middleware in execution order.
func (c *Chain) Middlewares() []Middleware {
	out := make([]Middleware, len(c.middlewares))
	copy(out, c.middlewares)
	return out
}

// Execute runs cmd through every middleware in priority order and finally
// through handler, unless a middleware short-circuits the chain first.
func (c *Chain) Execute(ctx context.Context, pctx *Context, cmd Command, handler Handler) (any, error) {
	next := Next(handler)
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		next = c.guard(pctx, c.middlewares[i], next)
	}
	return next(ctx, cmd)
}

// guard binds mw into the chain: it builds the guarded Next passed to mw,
// enforcing the at-most-once call contract unless mw opts out via
// NextGuardSuppressor, and returns the Next the preceding middleware sees.
func (c *Chain) guard(pctx *Context, mw Middleware, inner Next) Next {
	suppress := false
	if s, ok := mw.(NextGuardSuppressor); ok {
		suppress = s.SuppressesNextGuard()
	}

	return func(ctx context.Context, cmd Command) (any, error) {
		var called atomic.Bool

		guarded := Next(func(ctx context.Context, cmd Command) (any, error) {
			if !suppress && !called.CompareAndSwap(false, true) {
				c.obs.Logger.Error("middleware called next more than once", nil,
					"chain", c.name, "middleware", mw.Name())
				return nil, &shared.InvalidStateError{
					Component: mw.Name(),
					Current:   "next-already-called",
					Expected:  "called-at-most-once",
				}
			}
			called.Store(true)
			return inner(ctx, cmd)
		})

		val, err := mw.Execute(ctx, pctx, cmd, guarded)
		if !suppress && err == nil && !called.Load() {
			c.obs.Logger.Debug("middleware completed without calling next or returning an error",
				"chain", c.name, "middleware", mw.Name())
		}
		return val, err
	}
}
