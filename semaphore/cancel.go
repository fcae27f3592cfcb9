package semaphore

import "github.com/kolosys/pipelinekit/shared"

// Cancel performs targeted cancellation of a specific pending waiter,
// identified by the ID handed to AcquireNotify's callback. It returns true
// if the waiter was pending and is now cancelled; false if the waiter was
// already resolved (granted, cancelled, or timed out) or unknown. Cancelling
// a pending waiter never modifies the semaphore's available count — the
// permit it was hoping for was never spent.
func (s *Semaphore) Cancel(id WaiterID) bool {
	s.mu.Lock()
	w, found := s.waiters.removeByID(id)
	s.mu.Unlock()
	if !found {
		return false
	}

	if !w.tryTransition(stateCancelled) {
		return false
	}
	// Non-blocking: the waiter's own goroutine may or may not still be
	// selecting on result (it could have already observed a racing
	// grant/timeout and drained it itself), but the buffered channel means
	// this never blocks the canceller.
	select {
	case w.result <- shared.ErrCancelled:
	default:
	}
	return true
}

// PendingWaiters returns a snapshot of currently queued waiter IDs in
// queue order, for diagnostics and for strategies (DropOldest,
// DropPriority) that need to pick a specific waiter to cancel.
func (s *Semaphore) PendingWaiters() []WaiterID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]WaiterID, 0, s.waiters.len())
	for _, w := range s.waiters.waiters {
		ids = append(ids, w.id)
	}
	return ids
}
