package semaphore

import (
	"time"

	"github.com/kolosys/pipelinekit/shared"
)

// startSweep launches the background collector that drops waiters whose
// deadlines have elapsed even if no signal traffic ever woke them. Without
// this, a waiter with a context deadline that nobody ever cancels or signals
// would sit in the queue until the process exits, since popReady only runs
// as a side effect of release.
func (s *Semaphore) startSweep() {
	s.sweepWG.Add(1)
	go func() {
		defer s.sweepWG.Done()

		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.sweepStop:
				return
			case <-ticker.C:
				s.sweepExpired()
			}
		}
	}()
}

func (s *Semaphore) sweepExpired() {
	now := time.Now()

	s.mu.Lock()
	var expired []*waiter
	remaining := s.waiters.waiters[:0]
	for _, w := range s.waiters.waiters {
		if !w.deadline.IsZero() && now.After(w.deadline) && w.tryTransition(stateTimedOut) {
			expired = append(expired, w)
			continue
		}
		remaining = append(remaining, w)
	}
	s.waiters.waiters = remaining
	waiting := s.waiters.len()
	s.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	for _, w := range expired {
		w.result <- shared.NewAcquireTimeoutError(s.name)
	}

	s.obs.Metrics.Gauge("pipelinekit_semaphore_waiting_goroutines", float64(waiting), "semaphore_name", s.name)
	s.obs.Logger.Debug("semaphore swept expired waiters", "semaphore_name", s.name, "expired_count", len(expired))
}
