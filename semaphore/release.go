package semaphore

import "fmt"

// release returns n permits to the semaphore, potentially unblocking
// waiters. It is the single path both Permit.Release and the bare Signal
// convenience method funnel through.
func (s *Semaphore) release(n int64) {
	if n <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current+n > s.capacity {
		panic(fmt.Sprintf("semaphore: release would exceed capacity (current: %d, releasing: %d, capacity: %d)",
			s.current, n, s.capacity))
	}

	s.obs.Logger.Debug("semaphore releasing permits", "semaphore_name", s.name, "permits", n, "current_before", s.current)

	s.current += n
	s.notifyWaiters()
}

// Current returns the number of permits currently available. Diagnostic
// only, same caveat as Available.
func (s *Semaphore) Current() int64 {
	return s.Available()
}
