package semaphore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kolosys/pipelinekit/shared"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	s := New(2)
	defer s.Close()

	p1, err := s.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := s.Available(); got != 1 {
		t.Fatalf("available = %d, want 1", got)
	}

	p2, err := s.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := s.Available(); got != 0 {
		t.Fatalf("available = %d, want 0", got)
	}

	p1.Release()
	if got := s.Available(); got != 1 {
		t.Fatalf("available after release = %d, want 1", got)
	}

	// Double release must not double-credit.
	p1.Release()
	if got := s.Available(); got != 1 {
		t.Fatalf("available after double release = %d, want 1", got)
	}

	p2.Release()
	if got := s.Available(); got != 2 {
		t.Fatalf("available after final release = %d, want 2", got)
	}
}

func TestTryAcquireDoesNotBlock(t *testing.T) {
	s := New(1)
	defer s.Close()

	p, ok := s.TryAcquire(1)
	if !ok || p == nil {
		t.Fatalf("expected TryAcquire to succeed on empty semaphore")
	}

	if _, ok := s.TryAcquire(1); ok {
		t.Fatalf("expected TryAcquire to fail when no permits remain")
	}

	p.Release()
	if _, ok := s.TryAcquire(1); !ok {
		t.Fatalf("expected TryAcquire to succeed after release")
	}
}

func TestAcquireFIFOOrder(t *testing.T) {
	s := New(1, WithFairness(FIFO))
	defer s.Close()

	held, err := s.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	order := make(chan int, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			p, err := s.Acquire(context.Background(), 1)
			if err != nil {
				return
			}
			order <- i
			p.Release()
		}()
		time.Sleep(20 * time.Millisecond) // ensure enqueue order
	}

	held.Release()
	wg.Wait()
	close(order)

	got := make([]int, 0, 3)
	for v := range order {
		got = append(got, v)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("FIFO order violated: got %v", got)
		}
	}
}

func TestAcquireTimeoutDistinctFromCancel(t *testing.T) {
	s := New(1)
	defer s.Close()

	held, err := s.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	_, err = s.AcquireTimeout(context.Background(), 1, 20*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	var semErr *shared.SemaphoreError
	if !errors.As(err, &semErr) {
		t.Fatalf("expected *shared.SemaphoreError, got %T: %v", err, err)
	}
	if errors.Is(err, shared.ErrCancelled) {
		t.Fatalf("timeout must not be reported as cancellation")
	}
}

func TestAcquireContextCancellationIsDistinctErr(t *testing.T) {
	s := New(1)
	defer s.Close()

	held, err := s.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Acquire(ctx, 1)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, shared.ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancellation did not wake the waiter")
	}
}

func TestCancelIsolatesMiddleWaiterWithoutPhantomPermits(t *testing.T) {
	s := New(1, WithFairness(FIFO))
	defer s.Close()

	held, err := s.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	type outcome struct {
		idx int
		err error
		p   *Permit
	}
	results := make(chan outcome, 3)
	ids := make(chan WaiterID, 3)

	for i := 0; i < 3; i++ {
		i := i
		go func() {
			p, err := s.AcquireNotify(context.Background(), 1, func(id WaiterID) {
				ids <- id
			})
			results <- outcome{idx: i, err: err, p: p}
		}()
		time.Sleep(20 * time.Millisecond)
	}

	// Cancel the middle (second enqueued) waiter.
	collected := make([]WaiterID, 0, 3)
	for i := 0; i < 3; i++ {
		collected = append(collected, <-ids)
	}
	if !s.Cancel(collected[1]) {
		t.Fatalf("expected to cancel the middle waiter")
	}

	held.Release()

	seenCancel := 0
	seenGrant := 0
	for i := 0; i < 3; i++ {
		o := <-results
		switch {
		case errors.Is(o.err, shared.ErrCancelled):
			seenCancel++
			if o.idx != 1 {
				t.Fatalf("wrong waiter cancelled: idx %d", o.idx)
			}
		case o.err == nil:
			seenGrant++
			if seenGrant == 1 {
				// The first grantee releases so the last waiter can be granted;
				// the last grantee keeps its permit.
				o.p.Release()
			}
		default:
			t.Fatalf("unexpected error: %v", o.err)
		}
	}

	if seenCancel != 1 || seenGrant != 2 {
		t.Fatalf("expected exactly 1 cancellation and 2 grants, got cancel=%d grant=%d", seenCancel, seenGrant)
	}
	if got := s.Available(); got != 0 {
		t.Fatalf("available = %d, want 0 (no phantom permits)", got)
	}
}

func TestWeightExceedsCapacityRejectedImmediately(t *testing.T) {
	s := New(2)
	defer s.Close()

	_, err := s.Acquire(context.Background(), 3)
	if err == nil {
		t.Fatalf("expected error for weight exceeding capacity")
	}
}

func TestReleaseBeyondCapacityPanics(t *testing.T) {
	s := New(1)
	defer s.Close()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on over-release")
		}
	}()
	s.release(5)
}

func TestSweepDropsExpiredWaiterWithoutSignal(t *testing.T) {
	s := New(1, WithSweepInterval(10*time.Millisecond))
	defer s.Close()

	held, err := s.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	_, err = s.AcquireTimeout(context.Background(), 1, 30*time.Millisecond)
	if err == nil {
		t.Fatalf("expected sweep-driven timeout error")
	}
	if got := s.Available(); got != 0 {
		t.Fatalf("available = %d, want 0 while held permit is outstanding", got)
	}
}

func TestNewPanicsOnNonPositiveCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for non-positive capacity")
		}
	}()
	New(0)
}
