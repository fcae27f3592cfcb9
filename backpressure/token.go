package backpressure

import (
	"sync"

	"github.com/kolosys/pipelinekit/semaphore"
)

// Token represents one admitted unit of work. It must be released exactly
// once; Release is idempotent.
type Token struct {
	regulator *Regulator
	permit    *semaphore.Permit
	once      sync.Once
}

// Release returns the token's permit to the regulator's semaphore and
// decrements the outstanding counter, making room for the next admission.
func (t *Token) Release() {
	t.once.Do(func() {
		t.permit.Release()

		t.regulator.mu.Lock()
		t.regulator.outstanding--
		t.regulator.totalProcessed++
		t.regulator.mu.Unlock()
	})
}
