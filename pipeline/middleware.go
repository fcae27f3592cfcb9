package pipeline

import "context"

// Priority orders middleware within a chain; lower fires earlier. Ties are
// broken by registration order.
type Priority int

const (
	PriorityAuthentication Priority = iota
	PriorityValidation
	PriorityResilience
	PriorityProcessing
	PriorityPostProcessing
	PriorityObservability
	PriorityCustom
)

func (p Priority) String() string {
	switch p {
	case PriorityAuthentication:
		return "authentication"
	case PriorityValidation:
		return "validation"
	case PriorityResilience:
		return "resilience"
	case PriorityProcessing:
		return "processing"
	case PriorityPostProcessing:
		return "post-processing"
	case PriorityObservability:
		return "observability"
	case PriorityCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Command is an opaque payload dispatched through a Chain. Handlers are
// keyed by its concrete type.
type Command any

// Next invokes the remainder of the chain. It must be called at most once
// and never after Middleware.Execute returns, unless the middleware
// declares itself next-guard-suppressing via NextGuardSuppressor.
type Next func(ctx context.Context, cmd Command) (any, error)

// Handler produces a command's result. It is the terminal step of a chain.
type Handler func(ctx context.Context, cmd Command) (any, error)

// Middleware is one link in a Chain.
type Middleware interface {
	// Name identifies the middleware for diagnostics and registration order
	// bookkeeping.
	Name() string
	// Priority reports the tier this middleware fires in.
	Priority() Priority
	// Execute runs the middleware's logic, calling next to continue the
	// chain or returning without calling it to short-circuit.
	Execute(ctx context.Context, pctx *Context, cmd Command, next Next) (any, error)
}

// NextGuardSuppressor is implemented by middleware whose correct behavior
// requires calling next zero, or more than one, times (a retry controller
// calling the wrapped operation across several attempts, a timeout
// controller racing it against a deadline). The chain's runtime next-guard
// is disabled for any middleware that reports true.
type NextGuardSuppressor interface {
	SuppressesNextGuard() bool
}

// MiddlewareFunc adapts a plain function to the Middleware interface.
type MiddlewareFunc struct {
	name     string
	priority Priority
	suppress bool
	fn       func(ctx context.Context, pctx *Context, cmd Command, next Next) (any, error)
}

// NewMiddlewareFunc builds a Middleware from a plain function, for
// lightweight or test-only middleware that doesn't warrant its own type.
func NewMiddlewareFunc(name string, priority Priority, fn func(context.Context, *Context, Command, Next) (any, error)) *MiddlewareFunc {
	return &MiddlewareFunc{name: name, priority: priority, fn: fn}
}

// SuppressNextGuard marks this MiddlewareFunc as next-guard-suppressing.
func (m *MiddlewareFunc) SuppressNextGuard() *MiddlewareFunc {
	m.suppress = true
	return m
}

func (m *MiddlewareFunc) Name() string           { return m.name }
func (m *MiddlewareFunc) Priority() Priority      { return m.priority }
func (m *MiddlewareFunc) SuppressesNextGuard() bool { return m.suppress }

func (m *MiddlewareFunc) Execute(ctx context.Context, pctx *Context, cmd Command, next Next) (any, error) {
	return m.fn(ctx, pctx, cmd, next)
}
