package timeoutctl_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kolosys/pipelinekit/shared"
	"github.com/kolosys/pipelinekit/timeoutctl"
)

func sleepAndReturn(d time.Duration, val any, err error) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		select {
		case <-time.After(d):
			return val, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestRunReturnsResultWhenOperationBeatsDeadline(t *testing.T) {
	c := timeoutctl.New(100 * time.Millisecond)

	val, err := c.Run(context.Background(), nil, sleepAndReturn(10*time.Millisecond, "ok", nil))
	require.NoError(t, err)
	require.Equal(t, "ok", val)
}

func TestRunFailsImmediatelyWithoutGrace(t *testing.T) {
	c := timeoutctl.New(30 * time.Millisecond)

	_, err := c.Run(context.Background(), nil, sleepAndReturn(200*time.Millisecond, "late", nil))
	var timeoutErr *shared.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, shared.TimeoutPhaseInitial, timeoutErr.Phase)
}

func TestRunRecoversWithinGrace(t *testing.T) {
	c := timeoutctl.New(100*time.Millisecond, timeoutctl.WithGrace(200*time.Millisecond))

	val, err := c.Run(context.Background(), nil, sleepAndReturn(150*time.Millisecond, "recovered", nil))
	require.NoError(t, err)
	require.Equal(t, "recovered", val)
}

func TestRunFailsAfterGraceExpires(t *testing.T) {
	c := timeoutctl.New(100*time.Millisecond, timeoutctl.WithGrace(100*time.Millisecond))

	_, err := c.Run(context.Background(), nil, sleepAndReturn(500*time.Millisecond, nil, nil))
	var timeoutErr *shared.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, shared.TimeoutPhaseGraceExpired, timeoutErr.Phase)
}

type timedCommand struct {
	d time.Duration
}

func (t timedCommand) Timeout() (time.Duration, bool) { return t.d, true }

func TestRunResolvesPerCommandOverrideFirst(t *testing.T) {
	c := timeoutctl.New(10*time.Millisecond, timeoutctl.WithTypeTimeout(timedCommand{}, 20*time.Millisecond))

	val, err := c.Run(context.Background(), timedCommand{d: 500 * time.Millisecond}, sleepAndReturn(50*time.Millisecond, "ok", nil))
	require.NoError(t, err)
	require.Equal(t, "ok", val)
}

func TestRunResolvesPerTypeMapOverDefault(t *testing.T) {
	type otherCommand struct{}
	c := timeoutctl.New(10*time.Millisecond, timeoutctl.WithTypeTimeout(otherCommand{}, 100*time.Millisecond))

	val, err := c.Run(context.Background(), otherCommand{}, sleepAndReturn(50*time.Millisecond, "ok", nil))
	require.NoError(t, err)
	require.Equal(t, "ok", val)
}

func TestRunPropagatesOperationError(t *testing.T) {
	c := timeoutctl.New(100 * time.Millisecond)
	boom := errors.New("boom")

	_, err := c.Run(context.Background(), nil, sleepAndReturn(10*time.Millisecond, nil, boom))
	require.ErrorIs(t, err, boom)
}

func TestRunExternalCancellationIsDistinctFromTimeout(t *testing.T) {
	c := timeoutctl.New(time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx, nil, sleepAndReturn(time.Second, nil, nil))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, shared.ErrCancelled))
	case <-time.After(time.Second):
		t.Fatal("cancellation did not unblock Run")
	}
}

func TestNewPanicsOnNonPositiveDefault(t *testing.T) {
	defer func() {
		require.NotNil(t, recover())
	}()
	timeoutctl.New(0)
}
