package pipeline

import (
	"context"
	"reflect"
	"sync"

	"github.com/kolosys/pipelinekit/backpressure"
	"github.com/kolosys/pipelinekit/circuit"
	"github.com/kolosys/pipelinekit/shared"
)

// Bus is a type-keyed command dispatcher: it owns handler registration, a
// default middleware chain shared by every command type, and the optional
// per-type chain overrides that replace it.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[reflect.Type]Handler
	pipelines map[reflect.Type]*Chain
	chain     *Chain

	regulators map[string]*backpressure.Regulator
	breakers   map[string]*circuit.Breaker

	obs *shared.Observability
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger for observability.
func WithBusLogger(logger shared.Logger) BusOption {
	return func(b *Bus) { b.obs = b.obs.WithLogger(logger) }
}

// WithBusMetrics sets the metrics recorder for observability.
func WithBusMetrics(metrics shared.Metrics) BusOption {
	return func(b *Bus) { b.obs = b.obs.WithMetrics(metrics) }
}

// NewBus builds a Bus with an empty default chain.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		handlers:   make(map[reflect.Type]Handler),
		pipelines:  make(map[reflect.Type]*Chain),
		regulators: make(map[string]*backpressure.Regulator),
		breakers:   make(map[string]*circuit.Breaker),
		obs:        shared.NewObservability(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.chain = NewChain(WithChainLogger(b.obs.Logger), WithChainMetrics(b.obs.Metrics))
	return b
}

// Register binds handler to every command of cmdExemplar's concrete type.
// Idempotent: a second call for the same type replaces the prior handler.
func (b *Bus) Register(cmdExemplar any, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[reflect.TypeOf(cmdExemplar)] = handler
}

// RegisterPipeline binds a dedicated chain to cmdExemplar's concrete type,
// overriding the default chain for that type alone. Idempotent.
func (b *Bus) RegisterPipeline(cmdExemplar any, chain *Chain) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pipelines[reflect.TypeOf(cmdExemplar)] = chain
}

// AddMiddleware appends m to the default chain shared by every command type
// that has no per-type pipeline override.
func (b *Bus) AddMiddleware(m Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chain.Add(m)
}

// RegisterRegulator associates a named backpressure.Regulator with the bus
// so CapacityStats can aggregate it.
func (b *Bus) RegisterRegulator(name string, r *backpressure.Regulator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regulators[name] = r
}

// RegisterBreaker associates a named circuit.Breaker with the bus so
// BreakerState can report it.
func (b *Bus) RegisterBreaker(name string, brk *circuit.Breaker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.breakers[name] = brk
}

// BreakerState reports the current state of a breaker registered under
// name. ok is false if no breaker was registered under that name.
func (b *Bus) BreakerState(name string) (state circuit.State, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	brk, found := b.breakers[name]
	if !found {
		return circuit.Closed, false
	}
	return brk.State(), true
}

// CapacityStats is a point-in-time aggregate of every regulator registered
// with the bus.
type CapacityStats struct {
	MaxConcurrency int64
	MaxOutstanding int64
	Active         int64
	Queued         int64
	Utilization    float64
}

// CapacityStats aggregates backpressure.Regulator.Stats() across every
// regulator registered with the bus.
func (b *Bus) CapacityStats() CapacityStats {
	b.mu.RLock()
	regs := make([]*backpressure.Regulator, 0, len(b.regulators))
	for _, r := range b.regulators {
		regs = append(regs, r)
	}
	b.mu.RUnlock()

	var out CapacityStats
	for _, r := range regs {
		s := r.Stats()
		out.Active += s.Active
		out.Queued += s.Queued
		out.MaxConcurrency += r.MaxConcurrency()
		out.MaxOutstanding += r.MaxOutstanding()
	}
	if out.MaxConcurrency > 0 {
		out.Utilization = float64(out.Active) / float64(out.MaxConcurrency)
	}
	return out
}

// Execute dispatches cmd through the registered chain (per-type override if
// one exists, the default chain otherwise) to its registered handler. It
// fails with shared.ErrNoHandler if cmd's type was never registered.
func (b *Bus) Execute(ctx context.Context, cmd Command) (any, error) {
	t := reflect.TypeOf(cmd)

	b.mu.RLock()
	handler, ok := b.handlers[t]
	chain := b.pipelines[t]
	if chain == nil {
		chain = b.chain
	}
	b.mu.RUnlock()

	if !ok {
		return nil, shared.ErrNoHandler
	}

	pctx := NewContext(b.obs)
	return chain.Execute(ctx, pctx, cmd, handler)
}
