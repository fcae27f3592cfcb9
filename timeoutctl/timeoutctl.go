// Package timeoutctl races an operation against a deadline, with an optional
// grace period during which a late completion is still accepted, cooperative
// cancellation of the operation once the deadline passes, and a resolution
// chain for picking the effective timeout per command.
package timeoutctl

import (
	"reflect"
	"time"

	"github.com/kolosys/pipelinekit/shared"
)

// Overrider lets a command carry its own timeout, taking precedence over
// every other resolution step.
type Overrider interface {
	Timeout() (time.Duration, bool)
}

// Resolver is a custom fallback consulted after per-command and per-type
// overrides are exhausted.
type Resolver func(cmd any) (time.Duration, bool)

// Controller races operations against a resolved deadline.
type Controller struct {
	name            string
	defaultTimeout  time.Duration
	grace           time.Duration
	cancelOnTimeout bool
	perType         map[reflect.Type]time.Duration
	resolver        Resolver

	obs *shared.Observability
}

// Option configures a Controller.
type Option func(*Controller)

// WithName sets the controller's name for observability.
func WithName(name string) Option {
	return func(c *Controller) { c.name = name }
}

// WithGrace sets the additional time granted after the primary deadline
// during which a late completion is still accepted.
func WithGrace(g time.Duration) Option {
	return func(c *Controller) { c.grace = g }
}

// WithCancelOnTimeout requests cancellation of the operation's context once
// the deadline passes, rather than letting it run to completion unobserved.
func WithCancelOnTimeout(cancel bool) Option {
	return func(c *Controller) { c.cancelOnTimeout = cancel }
}

// WithTypeTimeout registers the effective timeout for every command of type
// exemplar's concrete type, consulted after per-command overrides.
func WithTypeTimeout(exemplar any, d time.Duration) Option {
	return func(c *Controller) {
		c.perType[reflect.TypeOf(exemplar)] = d
	}
}

// WithResolver sets the custom resolver callback, consulted after
// per-command overrides and the per-type map.
func WithResolver(r Resolver) Option {
	return func(c *Controller) { c.resolver = r }
}

// WithLogger sets the logger for observability.
func WithLogger(logger shared.Logger) Option {
	return func(c *Controller) { c.obs = c.obs.WithLogger(logger) }
}

// WithMetrics sets the metrics recorder for observability.
func WithMetrics(metrics shared.Metrics) Option {
	return func(c *Controller) { c.obs = c.obs.WithMetrics(metrics) }
}

// New builds a Controller with the given default timeout. It panics if
// defaultTimeout is non-positive, matching the fail-fast construction
// convention used across pipelinekit components.
func New(defaultTimeout time.Duration, opts ...Option) *Controller {
	if defaultTimeout <= 0 {
		panic("timeoutctl: default timeout must be positive")
	}

	c := &Controller{
		defaultTimeout: defaultTimeout,
		perType:        make(map[reflect.Type]time.Duration),
		obs:            shared.NewObservability(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// resolve picks the effective timeout for cmd following the controller's
// resolution chain: per-command override, per-type map, resolver callback,
// default.
func (c *Controller) resolve(cmd any) time.Duration {
	if cmd != nil {
		if o, ok := cmd.(Overrider); ok {
			if d, ok := o.Timeout(); ok {
				return d
			}
		}
		if d, ok := c.perType[reflect.TypeOf(cmd)]; ok {
			return d
		}
	}
	if c.resolver != nil {
		if d, ok := c.resolver(cmd); ok {
			return d
		}
	}
	return c.defaultTimeout
}
