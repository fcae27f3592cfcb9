package pipeline

import (
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/kolosys/pipelinekit/shared"
)

// Context carries mutable key-value state alongside a command through a
// dispatch, plus the observability sinks every middleware in the chain
// shares. It is safe for concurrent use: scalar writes are last-writer-wins.
type Context struct {
	dispatchID uuid.UUID

	mu     sync.Mutex
	values map[string]any

	Obs *shared.Observability
}

// NewContext builds a fresh Context for one dispatch.
func NewContext(obs *shared.Observability) *Context {
	if obs == nil {
		obs = shared.NewObservability()
	}
	return &Context{
		dispatchID: uuid.New(),
		values:     make(map[string]any),
		Obs:        obs,
	}
}

// DispatchID identifies the dispatch this context belongs to. A Fork keeps
// its parent's dispatch ID.
func (c *Context) DispatchID() uuid.UUID { return c.dispatchID }

// Get reads a value by key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Set writes a value by key, overwriting whatever was there.
func (c *Context) Set(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = val
}

// Fork produces an independent snapshot of this context, sharing the
// dispatch ID and observability sinks but isolating value writes, for use
// by the parallel wrapper's SideEffectsWithMerge strategy.
func (c *Context) Fork() *Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make(map[string]any, len(c.values))
	for k, v := range c.values {
		snapshot[k] = v
	}
	return &Context{
		dispatchID: c.dispatchID,
		values:     snapshot,
		Obs:        c.Obs,
	}
}

// MergeFrom applies a forked context's writes back onto the receiver,
// last-writer-wins per key. forkedAt is the snapshot of the receiver's
// values at the moment the fork happened; only keys that differ from
// forkedAt are considered the branch's own writes, so an untouched key never
// overwrites a concurrent sibling's write with a stale copy.
func (c *Context) MergeFrom(forked *Context, forkedAt map[string]any) {
	forked.mu.Lock()
	branchValues := make(map[string]any, len(forked.values))
	for k, v := range forked.values {
		branchValues[k] = v
	}
	forked.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range branchValues {
		if base, ok := forkedAt[k]; ok && reflect.DeepEqual(base, v) {
			continue
		}
		c.values[k] = v
	}
}

// Snapshot returns a shallow copy of the current values, used as the
// forkedAt baseline passed back into MergeFrom.
func (c *Context) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[string]any, len(c.values))
	for k, v := range c.values {
		snapshot[k] = v
	}
	return snapshot
}
