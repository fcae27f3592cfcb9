package semaphore

import (
	"context"
	"time"

	"github.com/kolosys/pipelinekit/shared"
)

// Acquire blocks until n permits are available or ctx is done. On success it
// returns a Permit that the caller must Release exactly once. A context
// cancellation resolves with shared.ErrCancelled; expiry of ctx's deadline
// (or of the semaphore's default acquire timeout, when ctx has no deadline)
// resolves with the same TimedOut error that AcquireTimeout returns.
func (s *Semaphore) Acquire(ctx context.Context, n int64) (*Permit, error) {
	return s.acquire(ctx, n, nil)
}

// AcquireNotify behaves like Acquire, but if the request cannot be satisfied
// immediately, enqueued is invoked synchronously with the new waiter's ID
// right after it joins the queue and before the call blocks. This is the
// hook the backpressure regulator uses to index a waiter for later targeted
// cancellation (DropOldest / DropPriority) without reaching into the
// semaphore's internals.
func (s *Semaphore) AcquireNotify(ctx context.Context, n int64, enqueued func(WaiterID)) (*Permit, error) {
	return s.acquire(ctx, n, enqueued)
}

// AcquireTimeout behaves like Acquire but fails with a TimedOut error
// (distinct from Cancelled) if d elapses before a permit becomes available.
// If a signal and the timeout race, whichever wins the waiter's
// compare-and-swap decides the outcome: the other party's effect is
// discarded (a racing signal is re-offered to the next pending waiter; a
// racing timeout never consumes a permit).
func (s *Semaphore) AcquireTimeout(ctx context.Context, n int64, d time.Duration) (*Permit, error) {
	if n <= 0 {
		return nil, shared.ErrInvalidWeight
	}
	if n > s.capacity {
		return nil, shared.NewWeightExceedsCapacityError(s.name, n, s.capacity)
	}

	if p := s.tryAcquireFast(n); p != nil {
		return p, nil
	}

	deadline := time.Now().Add(d)
	w := newWaiter(n, deadline)
	if err := s.enqueue(w); err != nil {
		return nil, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case err := <-w.result:
		return s.resolve(w, err)

	case <-ctx.Done():
		if w.tryTransition(stateCancelled) {
			s.dequeue(w)
			return nil, shared.ErrCancelled
		}
		return s.resolve(w, <-w.result)

	case <-timer.C:
		if w.tryTransition(stateTimedOut) {
			s.dequeue(w)
			return nil, shared.NewAcquireTimeoutError(s.name)
		}
		return s.resolve(w, <-w.result)
	}
}

// TryAcquire attempts to acquire n permits without blocking.
func (s *Semaphore) TryAcquire(n int64) (*Permit, bool) {
	if n <= 0 || n > s.capacity {
		return nil, false
	}
	p := s.tryAcquireFast(n)
	return p, p != nil
}

// Wait is the single-unit convenience form of Acquire named after the
// spec's wait()/signal() vocabulary.
func (s *Semaphore) Wait(ctx context.Context) (*Permit, error) {
	return s.Acquire(ctx, 1)
}

// WaitTimeout is the single-unit convenience form of AcquireTimeout.
func (s *Semaphore) WaitTimeout(ctx context.Context, d time.Duration) (*Permit, error) {
	return s.AcquireTimeout(ctx, 1, d)
}

// Signal releases one permit, equivalent to Release(1) without holding a
// Permit value. It exists for call sites that model a raw signal/wait pair
// rather than a scoped acquisition.
func (s *Semaphore) Signal() {
	s.release(1)
}

func (s *Semaphore) acquire(ctx context.Context, n int64, enqueued func(WaiterID)) (*Permit, error) {
	if n <= 0 {
		return nil, shared.ErrInvalidWeight
	}
	if n > s.capacity {
		return nil, shared.NewWeightExceedsCapacityError(s.name, n, s.capacity)
	}

	if p := s.tryAcquireFast(n); p != nil {
		return p, nil
	}

	var deadline time.Time
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	} else if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
		deadline = time.Now().Add(s.acquireTimeout)
	}

	w := newWaiter(n, deadline)
	if err := s.enqueue(w); err != nil {
		return nil, err
	}
	if enqueued != nil {
		enqueued(w.id)
	}

	select {
	case err := <-w.result:
		return s.resolve(w, err)

	case <-ctx.Done():
		if w.tryTransition(stateCancelled) {
			s.dequeue(w)
			if ctx.Err() == context.DeadlineExceeded && !deadline.IsZero() {
				return nil, shared.NewAcquireTimeoutError(s.name)
			}
			return nil, shared.ErrCancelled
		}
		return s.resolve(w, <-w.result)
	}
}

func (s *Semaphore) resolve(w *waiter, err error) (*Permit, error) {
	if err != nil {
		return nil, err
	}
	return &Permit{sem: s, weight: w.weight}, nil
}

func (s *Semaphore) tryAcquireFast(n int64) *Permit {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.current < n {
		return nil
	}
	s.current -= n
	s.obs.Metrics.Gauge("pipelinekit_semaphore_current_permits", float64(s.current), "semaphore_name", s.name)
	return &Permit{sem: s, weight: n}
}

func (s *Semaphore) enqueue(w *waiter) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return shared.NewAcquireTimeoutError(s.name)
	}
	s.waiters.push(w)
	n := s.waiters.len()
	s.mu.Unlock()

	s.obs.Metrics.Gauge("pipelinekit_semaphore_waiting_goroutines", float64(n), "semaphore_name", s.name)
	s.obs.Logger.Debug("semaphore acquire waiting", "semaphore_name", s.name, "weight", w.weight, "waiting_count", n)
	return nil
}

func (s *Semaphore) dequeue(w *waiter) {
	s.mu.Lock()
	s.waiters.removeWaiter(w)
	n := s.waiters.len()
	s.mu.Unlock()
	s.obs.Metrics.Gauge("pipelinekit_semaphore_waiting_goroutines", float64(n), "semaphore_name", s.name)
}

// notifyWaiters grants permits to as many ready waiters as current permits
// allow. Must be called with s.mu held. A waiter found already in a
// terminal state is skipped (its slot was already accounted for by the
// party that terminated it) without being granted a permit.
func (s *Semaphore) notifyWaiters() {
	for s.current > 0 {
		w := s.waiters.popReady(s.current)
		if w == nil {
			break
		}
		if !w.tryTransition(stateCompleted) {
			// Lost the race to a concurrent cancel/timeout; the permit this
			// waiter would have consumed must not be spent. Re-offer it to
			// the next eligible waiter on the next loop iteration.
			continue
		}
		s.current -= w.weight
		w.result <- nil
	}

	s.obs.Metrics.Gauge("pipelinekit_semaphore_current_permits", float64(s.current), "semaphore_name", s.name)
	s.obs.Metrics.Gauge("pipelinekit_semaphore_waiting_goroutines", float64(s.waiters.len()), "semaphore_name", s.name)
}
