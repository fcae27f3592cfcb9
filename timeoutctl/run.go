package timeoutctl

import (
	"context"
	"time"

	"github.com/kolosys/pipelinekit/shared"
)

type opResult struct {
	val any
	err error
}

// Run resolves the effective timeout for cmd (used only for resolution; it
// is not passed to fn) and races fn against it. If fn completes first, its
// result is returned unchanged, with a near_timeout event if completion fell
// within the last 10% of the deadline. If the deadline elapses first and no
// grace period is configured, Run fails with *shared.TimeoutError{Phase:
// TimeoutPhaseInitial} without waiting any further. With a grace period, Run
// waits up to an additional grace for a late completion before failing with
// phase TimeoutPhaseGraceExpired. An external ctx cancellation not caused by
// the controller itself is reported as shared.ErrCancelled.
func (c *Controller) Run(ctx context.Context, cmd any, fn func(context.Context) (any, error)) (any, error) {
	d := c.resolve(cmd)

	opCtx := ctx
	var cancelOp context.CancelFunc
	if c.cancelOnTimeout {
		opCtx, cancelOp = context.WithCancel(ctx)
		defer cancelOp()
	}

	done := make(chan opResult, 1)
	start := time.Now()
	go func() {
		val, err := fn(opCtx)
		done <- opResult{val, err}
	}()

	c.emit("timeout_started", d)
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case r := <-done:
		if elapsed := time.Since(start); elapsed >= nearTimeoutThreshold(d) {
			c.emit("near_timeout", elapsed)
		}
		return r.val, r.err

	case <-ctx.Done():
		if cancelOp != nil {
			cancelOp()
		}
		return nil, shared.ErrCancelled

	case <-timer.C:
		c.emit("timeout_exceeded", d)
		if cancelOp != nil {
			cancelOp()
		}

		if c.grace <= 0 {
			return nil, &shared.TimeoutError{Phase: shared.TimeoutPhaseInitial, Duration: d}
		}

		c.emit("grace_period_started", c.grace)
		graceTimer := time.NewTimer(c.grace)
		defer graceTimer.Stop()

		select {
		case r := <-done:
			c.emit("grace_recovered", time.Since(start))
			return r.val, r.err
		case <-graceTimer.C:
			return nil, &shared.TimeoutError{Phase: shared.TimeoutPhaseGraceExpired, Duration: d, Grace: c.grace}
		}
	}
}

func nearTimeoutThreshold(d time.Duration) time.Duration {
	return time.Duration(0.9 * float64(d))
}

func (c *Controller) emit(event string, d time.Duration) {
	c.obs.Logger.Debug("timeoutctl event", "name", c.name, "event", event, "duration", d)
	c.obs.Metrics.Inc("pipelinekit_timeoutctl_events_total", "name", c.name, "event", event)
}
