// Package frame implements the physical frame allocator: a source of
// unique frame numbers, a fine-grained mutex over a counter, the same
// shape as mem.Physmem_t's lock/compute/unlock critical section in
// _phys_new, trimmed to a bare monotonic-counter contract. Physmem_t's
// richer free-list recycling and per-CPU caching track a real reclaiming
// allocator that is out of scope here: this simulator never frees a
// frame, it only ever hands out new ones.
package frame

import (
	"sync"

	"cortenmm/pte"
)

// DefaultBase is the frame number the allocator starts handing out from
// when none is configured.
const DefaultBase pte.Frame = 0x1000

// Allocator hands out unique physical frame numbers. Any implementation
// satisfying uniqueness is a valid substitute; this one is a monotonic
// counter guarded by its own mutex.
type Allocator struct {
	mu   sync.Mutex
	next pte.Frame
}

// NewAllocator constructs an Allocator that starts handing out frames at
// base.
func NewAllocator(base pte.Frame) *Allocator {
	return &Allocator{next: base}
}

// Allocate returns a frame number not previously returned by this
// allocator.
func (a *Allocator) Allocate() pte.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	f := a.next
	a.next++
	return f
}
