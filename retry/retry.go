// Package retry provides a retry controller with pluggable delay strategies,
// a predicate over error values, and an optional circuit-breaker interlock.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/kolosys/pipelinekit/shared"
)

// Interlock is satisfied by *circuit.Breaker. When configured, the breaker
// gates every attempt: a rejection ends the retry loop immediately,
// independent of ShouldRetry.
type Interlock interface {
	Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error)
}

// Controller retries an operation according to a delay strategy and a
// retry predicate, up to a fixed attempt budget.
type Controller struct {
	name        string
	maxAttempts int
	delay       DelayStrategy
	shouldRetry func(error) bool
	interlock   Interlock

	obs *shared.Observability
}

// Option configures a Controller.
type Option func(*Controller)

// WithName sets the controller's name for observability.
func WithName(name string) Option {
	return func(c *Controller) { c.name = name }
}

// WithShouldRetry sets the predicate deciding whether a given failure
// warrants another attempt. The default retries every non-nil error.
func WithShouldRetry(fn func(error) bool) Option {
	return func(c *Controller) { c.shouldRetry = fn }
}

// WithInterlock wires a circuit breaker into the retry loop: when it
// rejects an attempt, the loop stops and propagates the rejection instead
// of sleeping for another round.
func WithInterlock(interlock Interlock) Option {
	return func(c *Controller) { c.interlock = interlock }
}

// WithLogger sets the logger for observability.
func WithLogger(logger shared.Logger) Option {
	return func(c *Controller) { c.obs = c.obs.WithLogger(logger) }
}

// WithMetrics sets the metrics recorder for observability.
func WithMetrics(metrics shared.Metrics) Option {
	return func(c *Controller) { c.obs = c.obs.WithMetrics(metrics) }
}

// New builds a Controller. It panics if maxAttempts is non-positive or
// delay is nil, matching the fail-fast construction convention used across
// pipelinekit components.
func New(maxAttempts int, delay DelayStrategy, opts ...Option) *Controller {
	if maxAttempts <= 0 {
		panic("retry: max attempts must be positive")
	}
	if delay == nil {
		panic("retry: delay strategy must not be nil")
	}

	c := &Controller{
		maxAttempts: maxAttempts,
		delay:       delay,
		shouldRetry: func(error) bool { return true },
		obs:         shared.NewObservability(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run invokes fn up to maxAttempts times, sleeping between attempts per the
// configured delay strategy, until it succeeds, the attempt budget is
// exhausted, ShouldRetry declines the error, or the interlock rejects.
func (c *Controller) Run(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	seq := c.delay.NewSequence()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		c.emit("retry_attempt", attempt, 0)

		var val any
		var err error
		if c.interlock != nil {
			val, err = c.interlock.Execute(ctx, fn)
		} else {
			val, err = fn(ctx)
		}

		if err == nil {
			return val, nil
		}
		lastErr = err

		var rejected *shared.CircuitRejectedError
		interlockDenied := errors.As(err, &rejected)

		if attempt == c.maxAttempts || interlockDenied || !c.shouldRetry(err) {
			c.emit("retry_exhausted", attempt, 0)
			return nil, lastErr
		}

		d := seq.Next(attempt)
		c.emit("retry_delay", attempt, d)

		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, shared.ErrCancelled
		}
	}

	return nil, lastErr
}

func (c *Controller) emit(event string, attempt int, d time.Duration) {
	c.obs.Logger.Debug("retry event", "name", c.name, "event", event, "attempt", attempt, "delay", d)
	c.obs.Metrics.Inc("pipelinekit_retry_events_total", "name", c.name, "event", event)
}
