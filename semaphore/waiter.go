package semaphore

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// waiter represents one pending request for n permits. Its state is the
// single unit the whole package's at-most-once guarantee is built on:
// cancellation (by the waiter's own context or by a targeted Cancel call),
// a timeout firing, and a signal granting the permit race to transition
// state from pending to exactly one terminal value via compare-and-swap.
type waiter struct {
	id         WaiterID
	weight     int64
	enqueuedAt time.Time
	deadline   time.Time // zero if none

	state  atomic.Int32
	result chan error // buffered 1; nil means granted
}

func newWaiter(weight int64, deadline time.Time) *waiter {
	return &waiter{
		id:         uuid.New(),
		weight:     weight,
		enqueuedAt: time.Now(),
		deadline:   deadline,
		result:     make(chan error, 1),
	}
}

// tryTransition attempts the single allowed pending -> terminal transition.
func (w *waiter) tryTransition(to waiterState) bool {
	return w.state.CompareAndSwap(int32(statePending), int32(to))
}

func (w *waiter) currentState() waiterState {
	return waiterState(w.state.Load())
}

// waiterQueue manages the queue of waiting goroutines according to the
// semaphore's configured fairness mode.
type waiterQueue struct {
	fairness Fairness
	waiters  []*waiter
}

func (q *waiterQueue) push(w *waiter) {
	q.waiters = append(q.waiters, w)
}

// popReady removes and returns the first waiter (per fairness policy) whose
// weight can be satisfied by available permits, skipping (and dropping) any
// waiter already in a terminal state without disturbing the relative order
// of the others.
func (q *waiterQueue) popReady(available int64) *waiter {
	for {
		index := q.nextCandidate(available)
		if index == -1 {
			return nil
		}

		w := q.waiters[index]
		q.removeAt(index)

		if w.currentState() != statePending {
			// Already resolved (cancelled/timed out) by a racing party; it
			// does not hold a slot in the queue anymore, keep scanning.
			continue
		}
		return w
	}
}

func (q *waiterQueue) nextCandidate(available int64) int {
	switch q.fairness {
	case LIFO:
		for i := len(q.waiters) - 1; i >= 0; i-- {
			if q.waiters[i].weight <= available {
				return i
			}
		}
	default: // FIFO and None both scan oldest-first; None carries no ordering guarantee to callers
		for i, w := range q.waiters {
			if w.weight <= available {
				return i
			}
		}
	}
	return -1
}

func (q *waiterQueue) removeAt(i int) {
	q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
}

// removeByID removes a specific waiter from the queue, for cancellation.
func (q *waiterQueue) removeByID(id WaiterID) (*waiter, bool) {
	for i, w := range q.waiters {
		if w.id == id {
			q.removeAt(i)
			return w, true
		}
	}
	return nil, false
}

func (q *waiterQueue) removeWaiter(target *waiter) bool {
	for i, w := range q.waiters {
		if w == target {
			q.removeAt(i)
			return true
		}
	}
	return false
}

func (q *waiterQueue) len() int {
	return len(q.waiters)
}
