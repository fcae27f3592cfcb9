package backpressure_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kolosys/pipelinekit/backpressure"
	"github.com/kolosys/pipelinekit/shared"
)

func TestErrorStrategyRejectsImmediatelyWhenFull(t *testing.T) {
	r := backpressure.New(1, 1, backpressure.Error(0))
	defer r.Close()

	tok, err := r.Admit(context.Background(), 0)
	require.NoError(t, err)
	defer tok.Release()

	_, err = r.Admit(context.Background(), 0)
	var bpErr *shared.BackPressureError
	require.ErrorAs(t, err, &bpErr)
	require.Equal(t, shared.BackPressureQueueFull, bpErr.Reason)
}

func TestErrorStrategyWithTimeoutFailsAfterDeadline(t *testing.T) {
	r := backpressure.New(1, 2, backpressure.Error(20*time.Millisecond))
	defer r.Close()

	tok, err := r.Admit(context.Background(), 0)
	require.NoError(t, err)
	defer tok.Release()

	_, err = r.Admit(context.Background(), 0)
	var bpErr *shared.BackPressureError
	require.ErrorAs(t, err, &bpErr)
	require.Equal(t, shared.BackPressureTimeout, bpErr.Reason)
}

func TestSuspendResumesWhenPermitFreed(t *testing.T) {
	r := backpressure.New(1, 2, backpressure.Suspend())
	defer r.Close()

	tok, err := r.Admit(context.Background(), 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		second, err := r.Admit(context.Background(), 0)
		if err == nil {
			second.Release()
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	tok.Release()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("suspended admission never resumed")
	}
}

func TestDropNewestRejectsTheNewcomer(t *testing.T) {
	r := backpressure.New(1, 1, backpressure.DropNewest())
	defer r.Close()

	tok, err := r.Admit(context.Background(), 0)
	require.NoError(t, err)
	defer tok.Release()

	_, err = r.Admit(context.Background(), 0)
	var bpErr *shared.BackPressureError
	require.ErrorAs(t, err, &bpErr)
	require.Equal(t, shared.BackPressureDroppedNewest, bpErr.Reason)
}

func TestDropOldestCancelsQueuedWaiterForNewcomer(t *testing.T) {
	r := backpressure.New(1, 2, backpressure.DropOldest())
	defer r.Close()

	held, err := r.Admit(context.Background(), 0)
	require.NoError(t, err)

	oldestResult := make(chan error, 1)
	go func() {
		_, err := r.Admit(context.Background(), 0)
		oldestResult <- err
	}()
	time.Sleep(20 * time.Millisecond) // ensure it is queued before the newcomer arrives

	newcomerResult := make(chan error, 1)
	go func() {
		tok, err := r.Admit(context.Background(), 0)
		if err == nil {
			tok.Release()
		}
		newcomerResult <- err
	}()

	err = <-oldestResult
	var bpErr *shared.BackPressureError
	require.ErrorAs(t, err, &bpErr)
	require.Equal(t, shared.BackPressureDroppedOldest, bpErr.Reason)

	held.Release()
	require.NoError(t, <-newcomerResult)
}

func TestDropPriorityRejectsLowerPriorityNewcomer(t *testing.T) {
	r := backpressure.New(1, 1, backpressure.DropPriority())
	defer r.Close()

	tok, err := r.Admit(context.Background(), 5)
	require.NoError(t, err)
	defer tok.Release()

	_, err = r.Admit(context.Background(), 1)
	var bpErr *shared.BackPressureError
	require.ErrorAs(t, err, &bpErr)
	require.Equal(t, shared.BackPressureDroppedLowPrio, bpErr.Reason)
}

func TestStatsSnapshotReflectsProcessedAndRejected(t *testing.T) {
	r := backpressure.New(1, 1, backpressure.Error(0))
	defer r.Close()

	tok, err := r.Admit(context.Background(), 0)
	require.NoError(t, err)

	_, err = r.Admit(context.Background(), 0)
	require.Error(t, err)

	tok.Release()

	stats := r.Stats()
	require.Equal(t, int64(1), stats.TotalProcessed)
	require.Equal(t, int64(1), stats.TotalRejected)
	require.Equal(t, int64(0), stats.Active)
}

func TestContextCancellationDuringSuspendIsDistinctFromDrop(t *testing.T) {
	r := backpressure.New(1, 2, backpressure.Suspend())
	defer r.Close()

	held, err := r.Admit(context.Background(), 0)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Admit(ctx, 0)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, shared.ErrCancelled))
	case <-time.After(time.Second):
		t.Fatal("cancellation did not wake the suspended admission")
	}
}

func TestNewPanicsWhenOutstandingBelowConcurrency(t *testing.T) {
	defer func() {
		require.NotNil(t, recover())
	}()
	backpressure.New(2, 1, backpressure.Suspend())
}
