// Package rcu implements the grace-period reclaimer: a FIFO queue of
// detached page-table pages that gates their physical destruction until a
// grace interval has elapsed, so a concurrent reader that is still
// descending through a now-detached page never has its memory pulled out
// from under it.
//
// Deadlines are monotonic in arrival order, so a plain slice-backed queue
// suffices — no heap needed.
package rcu

import (
	"sync"
	"time"

	"cortenmm/pgtable"
)

// DefaultGrace is the default interval a detached page must wait before it
// may be reclaimed.
const DefaultGrace = time.Millisecond

type entry struct {
	deadline time.Time
	page     *pgtable.Page
}

// Reclaimer holds detached pages until their grace period elapses. now is
// a swappable function field, the same seam gopheros/kernel/mem/vmm's
// vmm_test.go uses for readCR2Fn/panicFn, so tests can control elapsed
// time without sleeping.
type Reclaimer struct {
	mu    sync.Mutex
	q     []entry
	grace time.Duration
	now   func() time.Time
}

// New constructs a Reclaimer with the given grace period.
func New(grace time.Duration) *Reclaimer {
	return &Reclaimer{grace: grace, now: time.Now}
}

// SetClock overrides the reclaimer's notion of "now", for deterministic
// tests. Must be called before any DeferFree/TryReclaim from another
// goroutine could race with it.
func (r *Reclaimer) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// DeferFree marks page stale and enqueues it with a deadline of
// now()+grace. The caller must already hold no lock on page other than
// having exclusive ownership of the detach: the page's own descriptor
// lock must already be released before this call, since MarkStale only
// needs to be visible, not locked, and the reclaimer takes no page lock
// itself.
func (r *Reclaimer) DeferFree(page *pgtable.Page) {
	page.MarkStale()
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	page.SetDetachedAt(now)
	r.q = append(r.q, entry{deadline: now.Add(r.grace), page: page})
}

// TryReclaim pops and drops every entry whose deadline has passed, and
// returns how many were reclaimed. Because deadlines are monotonic in
// arrival order, the queue can always be drained from the front.
func (r *Reclaimer) TryReclaim() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	i := 0
	for i < len(r.q) && !now.Before(r.q[i].deadline) {
		i++
	}
	if i == 0 {
		return 0
	}
	r.q = r.q[i:]
	return i
}

// Pending returns the number of pages still awaiting their grace period.
func (r *Reclaimer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.q)
}
