package semaphore

import "sync"

// Permit is a scoped acquisition of one or more units of a semaphore's
// capacity. A Permit must be released exactly once; Release is idempotent
// (backed by sync.Once) so callers can unconditionally `defer permit.Release()`
// on every exit path, including panics, without double-crediting the
// semaphore.
type Permit struct {
	sem    *Semaphore
	weight int64
	once   sync.Once
}

// Release returns the permit's weight to its semaphore, waking as many FIFO
// waiters as the returned units can satisfy (at most one for a single-unit
// permit). Calling Release more than once is a no-op.
func (p *Permit) Release() {
	p.once.Do(func() {
		p.sem.release(p.weight)
	})
}

// Weight returns the number of units this permit holds.
func (p *Permit) Weight() int64 {
	return p.weight
}
