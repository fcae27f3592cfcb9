package backpressure

import (
	"context"
	"time"

	"github.com/kolosys/pipelinekit/semaphore"
	"github.com/kolosys/pipelinekit/shared"
)

// Admit blocks (depending on strategy) until the request is either granted a
// Token or rejected under the regulator's configured strategy. priority is
// only consulted by DropPriority; pass 0 for strategies that ignore it.
func (r *Regulator) Admit(ctx context.Context, priority int) (*Token, error) {
	r.mu.Lock()

	if r.outstanding < r.bound {
		r.outstanding++
		r.mu.Unlock()
		if es, ok := r.strategy.(errorStrategy); ok && es.timeout > 0 {
			return r.enqueueAndAcquire(ctx, priority, es.timeout, true)
		}
		return r.enqueueAndAcquire(ctx, priority, 0, false)
	}

	act, timeout := r.strategy.apply(r, priority)

	switch act {
	case actionSuspend:
		r.outstanding++
		r.mu.Unlock()
		return r.enqueueAndAcquire(ctx, priority, 0, false)

	case actionErrorWait:
		r.outstanding++
		r.mu.Unlock()
		return r.enqueueAndAcquire(ctx, priority, timeout, true)

	case actionErrorNow:
		r.totalRejected++
		out, bound := r.outstanding, r.bound
		r.mu.Unlock()
		return nil, &shared.BackPressureError{
			Reason: shared.BackPressureQueueFull, RegulatorName: r.name, Outstanding: out, Bound: bound,
		}

	case actionRejectNewest:
		r.totalRejected++
		out, bound := r.outstanding, r.bound
		r.mu.Unlock()
		return nil, &shared.BackPressureError{
			Reason: shared.BackPressureDroppedNewest, RegulatorName: r.name, Outstanding: out, Bound: bound,
		}

	case actionDropOldest:
		victim := r.oldestQueuedLocked()
		if victim == nil {
			// Nothing queued to make room for; fall back to suspending.
			r.outstanding++
			r.mu.Unlock()
			return r.enqueueAndAcquire(ctx, priority, 0, false)
		}
		victim.droppedReason = shared.BackPressureDroppedOldest
		r.removeQueuedLocked(victim)
		r.outstanding++ // victim's slot is freed by the cancel below; newcomer takes it
		r.mu.Unlock()
		r.sem.Cancel(victim.id)
		return r.enqueueAndAcquire(ctx, priority, 0, false)

	case actionDropPriority:
		victim := r.lowestPriorityQueuedLocked()
		if victim == nil || victim.priority >= priority {
			r.totalRejected++
			out, bound := r.outstanding, r.bound
			r.mu.Unlock()
			return nil, &shared.BackPressureError{
				Reason: shared.BackPressureDroppedLowPrio, RegulatorName: r.name, Outstanding: out, Bound: bound,
			}
		}
		victim.droppedReason = shared.BackPressureDroppedLowPrio
		r.removeQueuedLocked(victim)
		r.outstanding++
		r.mu.Unlock()
		r.sem.Cancel(victim.id)
		return r.enqueueAndAcquire(ctx, priority, 0, false)

	default:
		r.mu.Unlock()
		panic("backpressure: unhandled strategy action")
	}
}

// enqueueAndAcquire performs the actual semaphore wait for an admitted
// request, translating outcomes back into the regulator's own failure
// taxonomy and bookkeeping outstanding/queue counters along the way.
// r.outstanding has already been incremented by the caller.
func (r *Regulator) enqueueAndAcquire(ctx context.Context, priority int, timeout time.Duration, hasDeadline bool) (*Token, error) {
	entry := &queuedEntry{priority: priority, enqueuedAt: time.Now()}

	waitCtx := ctx
	var cancel context.CancelFunc
	if hasDeadline {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var permit *semaphore.Permit
	var err error
	permit, err = r.sem.AcquireNotify(waitCtx, 1, func(id semaphore.WaiterID) {
		entry.id = id
		r.trackQueued(entry)
	})

	r.mu.Lock()
	r.untrackQueuedLocked(entry)
	if err != nil {
		r.outstanding--
		r.totalRejected++
		reason := entry.droppedReason
		out, bound := r.outstanding, r.bound
		r.mu.Unlock()

		if reason != "" {
			return nil, &shared.BackPressureError{Reason: reason, RegulatorName: r.name, Outstanding: out, Bound: bound}
		}
		if hasDeadline && waitCtx.Err() == context.DeadlineExceeded {
			return nil, &shared.BackPressureError{Reason: shared.BackPressureTimeout, RegulatorName: r.name, Outstanding: out, Bound: bound}
		}
		return nil, err
	}
	r.mu.Unlock()

	return &Token{regulator: r, permit: permit}, nil
}

func (r *Regulator) trackQueued(e *queuedEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, e)
	if depth := int64(len(r.queue)); depth > r.maxQueueDepth {
		r.maxQueueDepth = depth
	}
}

// untrackQueuedLocked removes e from the queue if still present (it may have
// already been removed by a drop strategy). Caller holds r.mu.
func (r *Regulator) untrackQueuedLocked(e *queuedEntry) {
	r.removeQueuedLocked(e)
}

func (r *Regulator) removeQueuedLocked(e *queuedEntry) {
	for i, q := range r.queue {
		if q == e {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}

// oldestQueuedLocked returns the earliest-enqueued entry, caller holds r.mu.
func (r *Regulator) oldestQueuedLocked() *queuedEntry {
	var oldest *queuedEntry
	for _, q := range r.queue {
		if oldest == nil || q.enqueuedAt.Before(oldest.enqueuedAt) {
			oldest = q
		}
	}
	return oldest
}

// lowestPriorityQueuedLocked returns the queued entry with the lowest
// priority, caller holds r.mu.
func (r *Regulator) lowestPriorityQueuedLocked() *queuedEntry {
	var lowest *queuedEntry
	for _, q := range r.queue {
		if lowest == nil || q.priority < lowest.priority {
			lowest = q
		}
	}
	return lowest
}
