package parallel

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"github.com/kolosys/pipelinekit/pipeline"
	"github.com/kolosys/pipelinekit/shared"
)

// forbidNext is handed to SideEffectsOnly/SideEffectsWithMerge branches.
// Calling it is a contract violation: those branches must only produce side
// effects and never themselves continue the outer chain.
func forbidNext(branchName string) pipeline.Next {
	return func(context.Context, pipeline.Command) (any, error) {
		return nil, &shared.InvalidStateError{
			Component: branchName,
			Current:   "called-next",
			Expected:  "side-effect-branch-must-not-call-next",
		}
	}
}

// runSideEffects implements both SideEffectsOnly and, when merge is true,
// SideEffectsWithMerge.
func (w *Wrapper) runSideEffects(ctx context.Context, pctx *pipeline.Context, cmd pipeline.Command, next pipeline.Next, merge bool) (any, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		combined error
	)

	runCtx := ctx
	var cancel context.CancelFunc
	if w.policy == FailFast {
		runCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	baseline := pctx.Snapshot()
	branchCtxs := make([]*pipeline.Context, len(w.branches))
	for i := range w.branches {
		if merge {
			branchCtxs[i] = pctx.Fork()
		} else {
			branchCtxs[i] = pctx
		}
	}

	for i, branch := range w.branches {
		i, branch := i, branch

		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := branch.Execute(runCtx, branchCtxs[i], cmd, forbidNext(branch.Name()))
			if err == nil {
				return
			}

			mu.Lock()
			combined = multierr.Append(combined, err)
			mu.Unlock()

			if w.policy == FailFast && cancel != nil {
				cancel()
			}
		}()
	}

	wg.Wait()

	// Merge forked contexts back in branch registration order, after every
	// branch has finished, so a later branch's write always wins a
	// conflicting key regardless of which branch happened to finish first.
	if merge {
		for _, branchCtx := range branchCtxs {
			pctx.MergeFrom(branchCtx, baseline)
		}
	}

	if combined != nil && w.policy == FailFast {
		w.obs.Logger.Debug("parallel wrapper side-effect branch failed", "name", w.name, "error", combined)
		return nil, combined
	}

	val, err := next(ctx, cmd)
	if combined != nil {
		return val, multierr.Append(combined, err)
	}
	return val, err
}
