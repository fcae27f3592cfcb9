package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kolosys/pipelinekit/pipeline"
	"github.com/kolosys/pipelinekit/shared"
)

func recordingMiddleware(name string, priority pipeline.Priority, order *[]string) pipeline.Middleware {
	return pipeline.NewMiddlewareFunc(name, priority, func(ctx context.Context, pctx *pipeline.Context, cmd pipeline.Command, next pipeline.Next) (any, error) {
		*order = append(*order, name)
		return next(ctx, cmd)
	})
}

func TestChainRunsMiddlewareInPriorityOrder(t *testing.T) {
	var order []string
	c := pipeline.NewChain()
	c.Add(recordingMiddleware("observability", pipeline.PriorityObservability, &order))
	c.Add(recordingMiddleware("auth", pipeline.PriorityAuthentication, &order))
	c.Add(recordingMiddleware("validation", pipeline.PriorityValidation, &order))

	val, err := c.Execute(context.Background(), pipeline.NewContext(nil), "cmd", func(ctx context.Context, cmd pipeline.Command) (any, error) {
		order = append(order, "handler")
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", val)
	require.Equal(t, []string{"auth", "validation", "observability", "handler"}, order)
}

func TestChainPreservesRegistrationOrderWithinATier(t *testing.T) {
	var order []string
	c := pipeline.NewChain()
	c.Add(recordingMiddleware("first", pipeline.PriorityProcessing, &order))
	c.Add(recordingMiddleware("second", pipeline.PriorityProcessing, &order))

	_, err := c.Execute(context.Background(), pipeline.NewContext(nil), "cmd", func(context.Context, pipeline.Command) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, order)
}

func TestChainShortCircuitsWhenMiddlewareDoesNotCallNext(t *testing.T) {
	denied := errors.New("denied")
	handlerRan := false

	c := pipeline.NewChain()
	c.Add(pipeline.NewMiddlewareFunc("gate", pipeline.PriorityAuthentication, func(ctx context.Context, pctx *pipeline.Context, cmd pipeline.Command, next pipeline.Next) (any, error) {
		return nil, denied
	}))

	_, err := c.Execute(context.Background(), pipeline.NewContext(nil), "cmd", func(context.Context, pipeline.Command) (any, error) {
		handlerRan = true
		return nil, nil
	})

	require.ErrorIs(t, err, denied)
	require.False(t, handlerRan)
}

func TestChainNextGuardRejectsSecondInvocation(t *testing.T) {
	c := pipeline.NewChain()
	c.Add(pipeline.NewMiddlewareFunc("double-call", pipeline.PriorityProcessing, func(ctx context.Context, pctx *pipeline.Context, cmd pipeline.Command, next pipeline.Next) (any, error) {
		if _, err := next(ctx, cmd); err != nil {
			return nil, err
		}
		return next(ctx, cmd)
	}))

	_, err := c.Execute(context.Background(), pipeline.NewContext(nil), "cmd", func(context.Context, pipeline.Command) (any, error) {
		return "ok", nil
	})

	var invalid *shared.InvalidStateError
	require.ErrorAs(t, err, &invalid)
}

func TestChainNextGuardSuppressedAllowsMultipleCalls(t *testing.T) {
	calls := 0
	c := pipeline.NewChain()
	c.Add(pipeline.NewMiddlewareFunc("retry-like", pipeline.PriorityResilience, func(ctx context.Context, pctx *pipeline.Context, cmd pipeline.Command, next pipeline.Next) (any, error) {
		var lastErr error
		for i := 0; i < 3; i++ {
			if _, err := next(ctx, cmd); err != nil {
				lastErr = err
				continue
			}
			return "ok", nil
		}
		return nil, lastErr
	}).SuppressNextGuard())

	_, err := c.Execute(context.Background(), pipeline.NewContext(nil), "cmd", func(context.Context, pipeline.Command) (any, error) {
		calls++
		if calls < 2 {
			return nil, errors.New("flaky")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
