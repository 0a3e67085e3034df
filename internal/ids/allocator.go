// Package ids implements the two monotonic ID allocators required by
// spec §4.3: one issuing positive IDs (imports/exports the local side
// assigns for things it pushes or is asked to resolve) and one issuing
// negative IDs (references to what the peer pushed). Both share the same
// counter shape; only the step direction differs.
package ids

import "sync"

// Allocator issues a monotonically increasing (or decreasing) sequence
// of non-zero IDs, per spec §4.3: "0 is never allocated; negative
// counter starts at -1 and decrements." The negative allocator in
// particular is reachable from every push's own evaluation goroutine
// (capability passing may export a stub from deep inside Evaluate), not
// just the session's single-writer read loop, so Allocator guards its
// counter with a mutex rather than relying on callers to serialize
// access themselves.
type Allocator struct {
	mu   sync.Mutex
	next int64
	step int64
}

// NewPositive returns an allocator that yields 1, 2, 3, ...
func NewPositive() *Allocator {
	return &Allocator{next: 1, step: 1}
}

// NewNegative returns an allocator that yields -1, -2, -3, ...
func NewNegative() *Allocator {
	return &Allocator{next: -1, step: -1}
}

// Next returns the next ID in sequence and advances the allocator. The
// returned value is never 0.
func (a *Allocator) Next() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	a.next += a.step
	return id
}

// Peek returns the next ID that Next would return, without allocating
// it. Useful for tests asserting monotonicity.
func (a *Allocator) Peek() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// FastForward advances the allocator so that Peek() reports next,
// without re-issuing any ID already handed out. Used when restoring a
// session from a resume token snapshot (spec §9).
func (a *Allocator) FastForward(next int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.step > 0 && next > a.next {
		a.next = next
	} else if a.step < 0 && next < a.next {
		a.next = next
	}
}
