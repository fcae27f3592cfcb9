// Package parallel fans a dispatch out across several middleware branches
// over a shared or forked command context, wrapping the result back into a
// single pipeline.Middleware.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/kolosys/pipelinekit/pipeline"
	"github.com/kolosys/pipelinekit/shared"
)

// Strategy selects how a Wrapper's branches interact with the shared
// command context and the outer continuation.
type Strategy int

const (
	// PreValidation runs every branch concurrently; each one calls its own
	// next only to signal approval. If any branch errors, the rest are
	// cancelled and the error propagates. If all approve, the outer next
	// is called exactly once.
	PreValidation Strategy = iota
	// SideEffectsOnly runs every branch concurrently for side effects
	// (logging, notification, ...). Branches must not call next; the
	// outer next is called once every branch has finished, per the
	// configured FailurePolicy.
	SideEffectsOnly
	// SideEffectsWithMerge is SideEffectsOnly, except each branch runs
	// against its own forked Context; the forks are merged back onto the
	// shared context in registration order (last writer wins) once every
	// branch has finished.
	SideEffectsWithMerge
)

func (s Strategy) String() string {
	switch s {
	case PreValidation:
		return "PreValidation"
	case SideEffectsOnly:
		return "SideEffectsOnly"
	case SideEffectsWithMerge:
		return "SideEffectsWithMerge"
	default:
		return "Unknown"
	}
}

// FailurePolicy governs what happens to the remaining branches, and to the
// outer next, when a SideEffectsOnly or SideEffectsWithMerge branch errors.
type FailurePolicy int

const (
	// FailFast cancels the remaining branches on the first error and skips
	// the outer next, propagating that error.
	FailFast FailurePolicy = iota
	// CollectAll lets every branch run to completion regardless of
	// earlier failures, merges every error with multierr, and still calls
	// the outer next; the merged branch errors and next's own error (if
	// any) are combined in the returned error.
	CollectAll
)

// Wrapper fans a dispatch out across its branches per Strategy, then
// behaves as a single pipeline.Middleware.
type Wrapper struct {
	name     string
	priority pipeline.Priority
	strategy Strategy
	policy   FailurePolicy
	branches []pipeline.Middleware

	obs *shared.Observability
}

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithPriority sets the tier the wrapper itself occupies in its parent
// chain. Defaults to pipeline.PriorityProcessing.
func WithPriority(p pipeline.Priority) Option {
	return func(w *Wrapper) { w.priority = p }
}

// WithFailurePolicy sets the failure policy for SideEffectsOnly and
// SideEffectsWithMerge. Ignored by PreValidation, which is always FailFast.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(w *Wrapper) { w.policy = p }
}

// WithLogger sets the logger for observability.
func WithLogger(logger shared.Logger) Option {
	return func(w *Wrapper) { w.obs = w.obs.WithLogger(logger) }
}

// WithMetrics sets the metrics recorder for observability.
func WithMetrics(metrics shared.Metrics) Option {
	return func(w *Wrapper) { w.obs = w.obs.WithMetrics(metrics) }
}

// New builds a Wrapper running branches concurrently under strategy. It
// panics if branches is empty, matching the fail-fast construction
// convention used across pipelinekit components.
func New(name string, strategy Strategy, branches []pipeline.Middleware, opts ...Option) *Wrapper {
	if len(branches) == 0 {
		panic("parallel: at least one branch is required")
	}

	w := &Wrapper{
		name:     name,
		priority: pipeline.PriorityProcessing,
		strategy: strategy,
		branches: branches,
		obs:      shared.NewObservability(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Wrapper) Name() string              { return w.name }
func (w *Wrapper) Priority() pipeline.Priority { return w.priority }

// SuppressesNextGuard reports true: a Wrapper's branches each consult their
// own guarded next internally, independent of the chain's at-most-once
// tracking for the Wrapper itself.
func (w *Wrapper) SuppressesNextGuard() bool { return true }

func (w *Wrapper) Execute(ctx context.Context, pctx *pipeline.Context, cmd pipeline.Command, next pipeline.Next) (any, error) {
	switch w.strategy {
	case PreValidation:
		return w.runPreValidation(ctx, pctx, cmd, next)
	case SideEffectsWithMerge:
		return w.runSideEffects(ctx, pctx, cmd, next, true)
	default:
		return w.runSideEffects(ctx, pctx, cmd, next, false)
	}
}

// runPreValidation implements the PreValidation strategy: every branch must
// approve (call its own next) before the outer next runs once.
func (w *Wrapper) runPreValidation(ctx context.Context, pctx *pipeline.Context, cmd pipeline.Command, next pipeline.Next) (any, error) {
	g, gctx := errgroup.WithContext(ctx)

	for _, branch := range w.branches {
		branch := branch
		g.Go(func() error {
			approved := false
			stub := pipeline.Next(func(context.Context, pipeline.Command) (any, error) {
				approved = true
				return nil, nil
			})
			if _, err := branch.Execute(gctx, pctx, cmd, stub); err != nil {
				return err
			}
			if !approved {
				return &shared.InvalidStateError{
					Component: branch.Name(),
					Current:   "did-not-approve",
					Expected:  "next-called",
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		w.obs.Logger.Debug("parallel wrapper branch denied", "name", w.name, "error", err)
		return nil, err
	}
	return next(ctx, cmd)
}
