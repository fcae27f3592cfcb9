package circuit

import (
	"fmt"
	"time"

	"github.com/kolosys/pipelinekit/shared"
)

// Config holds circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures in Closed that trips the circuit.
	FailureThreshold int64
	// SuccessThreshold is the number of consecutive probe successes in HalfOpen required to close.
	SuccessThreshold int64
	// OpenDuration is how long the circuit stays Open before admitting a probe.
	OpenDuration time.Duration
	// ResetWindow is how long the circuit must be idle (no failures) in Closed before the
	// consecutive-failure counter decays back to zero.
	ResetWindow time.Duration

	// SampleSize, if > 0, enables a rolling window of the last SampleSize outcomes. The
	// circuit also trips when the window holds at least MinRequests samples and the
	// observed failure rate reaches FailureRateThreshold, independent of consecutive-failure logic.
	SampleSize           int
	MinRequests          int
	FailureRateThreshold float64

	// IsFailure classifies an operation error as failure/success for breaker purposes.
	// nil means every non-nil error counts as a failure.
	IsFailure func(error) bool

	// OnStateChange, if set, is invoked synchronously on every state transition.
	OnStateChange func(from, to State)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenDuration:     30 * time.Second,
		ResetWindow:      60 * time.Second,
	}
}

// Validate checks the configuration, matching the fail-fast construction convention
// used across pipelinekit components.
func (c *Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold <= 0 {
		return fmt.Errorf("success threshold must be positive, got %d", c.SuccessThreshold)
	}
	if c.OpenDuration <= 0 {
		return fmt.Errorf("open duration must be positive, got %v", c.OpenDuration)
	}
	if c.ResetWindow <= 0 {
		return fmt.Errorf("reset window must be positive, got %v", c.ResetWindow)
	}
	if c.SampleSize < 0 {
		return fmt.Errorf("sample size must not be negative, got %d", c.SampleSize)
	}
	if c.SampleSize > 0 {
		if c.MinRequests <= 0 {
			return fmt.Errorf("min requests must be positive when sample size is set, got %d", c.MinRequests)
		}
		if c.MinRequests > c.SampleSize {
			return fmt.Errorf("min requests (%d) cannot exceed sample size (%d)", c.MinRequests, c.SampleSize)
		}
		if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1 {
			return fmt.Errorf("failure rate threshold must be in (0, 1], got %v", c.FailureRateThreshold)
		}
	}
	return nil
}

// Option configures a circuit breaker.
type Option func(*Config, *shared.Observability)

// WithFailureThreshold sets the consecutive-failure trip threshold.
func WithFailureThreshold(threshold int64) Option {
	return func(c *Config, _ *shared.Observability) { c.FailureThreshold = threshold }
}

// WithSuccessThreshold sets the number of consecutive probe successes required to close.
func WithSuccessThreshold(threshold int64) Option {
	return func(c *Config, _ *shared.Observability) { c.SuccessThreshold = threshold }
}

// WithOpenDuration sets how long the circuit stays open before admitting a probe.
func WithOpenDuration(d time.Duration) Option {
	return func(c *Config, _ *shared.Observability) { c.OpenDuration = d }
}

// WithResetWindow sets the idle duration after which the consecutive-failure counter decays.
func WithResetWindow(d time.Duration) Option {
	return func(c *Config, _ *shared.Observability) { c.ResetWindow = d }
}

// WithRollingWindow enables the optional rolling sample window described in the
// breaker's failure taxonomy: the window keeps the last sampleSize outcomes, and
// once at least minRequests of them are present, a failure rate at or above
// threshold also trips the circuit, independent of the consecutive-failure counter.
func WithRollingWindow(sampleSize, minRequests int, failureRateThreshold float64) Option {
	return func(c *Config, _ *shared.Observability) {
		c.SampleSize = sampleSize
		c.MinRequests = minRequests
		c.FailureRateThreshold = failureRateThreshold
	}
}

// WithFailurePredicate sets a custom predicate for classifying operation errors.
func WithFailurePredicate(isFailure func(error) bool) Option {
	return func(c *Config, _ *shared.Observability) { c.IsFailure = isFailure }
}

// WithStateChangeCallback sets a callback invoked on every state transition.
func WithStateChangeCallback(callback func(from, to State)) Option {
	return func(c *Config, _ *shared.Observability) { c.OnStateChange = callback }
}

// WithLogger sets the logger for observability.
func WithLogger(logger shared.Logger) Option {
	return func(_ *Config, obs *shared.Observability) { *obs = *obs.WithLogger(logger) }
}

// WithMetrics sets the metrics recorder for observability.
func WithMetrics(metrics shared.Metrics) Option {
	return func(_ *Config, obs *shared.Observability) { *obs = *obs.WithMetrics(metrics) }
}

// WithTracer sets the tracer for observability.
func WithTracer(tracer shared.Tracer) Option {
	return func(_ *Config, obs *shared.Observability) { *obs = *obs.WithTracer(tracer) }
}

// QuickFailover favors fast recovery attempts for non-critical operations.
func QuickFailover() []Option {
	return []Option{
		WithFailureThreshold(3),
		WithOpenDuration(10 * time.Second),
		WithSuccessThreshold(1),
	}
}

// Conservative favors stability over fast recovery for critical operations.
func Conservative() []Option {
	return []Option{
		WithFailureThreshold(10),
		WithOpenDuration(60 * time.Second),
		WithSuccessThreshold(3),
	}
}

// Aggressive trips quickly and takes time to recover, for protecting against cascades.
func Aggressive() []Option {
	return []Option{
		WithFailureThreshold(2),
		WithOpenDuration(45 * time.Second),
		WithSuccessThreshold(1),
	}
}
