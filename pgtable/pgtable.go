// Package pgtable implements the page-table page and its descriptor: the
// single structure CortenMM uses both as a hardware page table and as the
// sole store of software mapping state, eliminating the separate VMA tree
// a traditional kernel keeps alongside it.
//
// The lock-free child-pointer load/store pair is adapted from
// hashtable.bucket_t's loadptr/storeptr (atomic.LoadPointer/StorePointer
// over an unsafe.Pointer chain link), generalized from a hash bucket's
// singly-linked list to a fan-out-512 tree and expressed with the modern
// generic atomic.Pointer[T] API rather than manual unsafe.Pointer casts.
package pgtable

import (
	"sync"
	"sync/atomic"
	"time"

	"cortenmm/pte"
	"cortenmm/vaddr"
)

// FanOut is the number of entries in one page-table page.
const FanOut = vaddr.FanOut

// descriptor bundles everything that must guard a page's entries and
// child references: one mutex, a one-way stale flag, and a version
// counter bumped on every entry mutation.
type descriptor struct {
	mu         sync.Mutex
	stale      atomic.Bool
	version    atomic.Uint64
	detachedAt time.Time
}

// Page is one page-table page: an array of hardware PTEs, an array of
// software metadata slots, and (on non-leaf levels) an array of child
// references, all guarded by one descriptor lock.
type Page struct {
	desc     *descriptor
	entries  [FanOut]pte.HardwarePTE
	meta     [FanOut]pte.Metadata
	children [FanOut]atomic.Pointer[Page]
	level    int
}

// New constructs a page-table page at the given level. Level 0 is a leaf;
// level L-1 is the root. All entries start Invalid/zeroed.
func New(level int) *Page {
	p := &Page{desc: &descriptor{}, level: level}
	for i := range p.entries {
		p.entries[i].Clear()
	}
	return p
}

// Level reports this page's distance from the leaves (0 = leaf).
func (p *Page) Level() int { return p.level }

// Lock acquires the descriptor mutex guarding every entry and child
// reference of this page.
func (p *Page) Lock() { p.desc.mu.Lock() }

// Unlock releases the descriptor mutex.
func (p *Page) Unlock() { p.desc.mu.Unlock() }

// IsStale reports whether this page has been detached and is awaiting
// reclamation. Safe to call without holding the lock (lock-free descent
// reads it only after acquiring the lock during lock-and-validate, but
// nothing prevents an unlocked peek).
func (p *Page) IsStale() bool { return p.desc.stale.Load() }

// MarkStale transitions is_stale from false to true. Idempotent and
// one-way: once true, it never reports false again.
func (p *Page) MarkStale() {
	p.desc.stale.Store(true)
}

// Version returns the current mutation version counter, for debugging and
// test assertions.
func (p *Page) Version() uint64 { return p.desc.version.Load() }

// BumpVersion increments the version counter. Must be called with the
// descriptor lock held, on every entry mutation.
func (p *Page) BumpVersion() {
	p.desc.version.Add(1)
}

// SetDetachedAt timestamps this page at the moment it was handed to the
// reclaimer.
func (p *Page) SetDetachedAt(t time.Time) { p.desc.detachedAt = t }

// DetachedAt returns the timestamp set by SetDetachedAt.
func (p *Page) DetachedAt() time.Time { return p.desc.detachedAt }

// LoadChild performs the lock-free read of child reference i: no lock is
// taken, and the result may be a page that has since been detached (the
// caller's subsequent lock-and-validate step is what catches that).
func (p *Page) LoadChild(i int) *Page {
	return p.children[i].Load()
}

// StoreChild publishes a new child reference at index i. Callers must hold
// the appropriate lock: the address space's structural mutex when
// installing a new interior page, the parent's descriptor lock when
// clearing a link during detach.
func (p *Page) StoreChild(i int, child *Page) {
	p.children[i].Store(child)
}

// PTE returns a pointer to the hardware PTE at index i. Callers must hold
// the descriptor lock for any mutation.
func (p *Page) PTE(i int) *pte.HardwarePTE {
	return &p.entries[i]
}

// Metadata returns a pointer to the software metadata slot at index i.
// Callers must hold the descriptor lock for any mutation.
func (p *Page) Metadata(i int) *pte.Metadata {
	return &p.meta[i]
}
