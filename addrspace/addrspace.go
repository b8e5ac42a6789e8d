// Package addrspace implements the page-table tree's root, its on-demand
// interior allocation, and the advanced locking protocol that replaces a
// single whole-address-space lock with fine-grained per-page mutexes:
// lock-free descent, lock-and-validate, optional DFS subtree locking, and
// detach-then-defer.
//
// Grounded on vm/as.go's Vm_t/Lock_pmap/Unlock_pmap/Lockassert_pmap trio —
// a structural lock guarding pmap mutation — generalized from one coarse
// lock into the fine-grained protocol below, with hashtable.go's atomic
// child pointers (now pgtable.Page.LoadChild/StoreChild) doing the
// lock-free traverse step.
package addrspace

import (
	"sync"

	"cortenmm/internal/metrics"
	"cortenmm/pgtable"
	"cortenmm/pte"
	"cortenmm/rcu"
	"cortenmm/vaddr"
)

// counters bundles the AddrSpace's diagnostic counters, adapted from
// stats.Counter_t: atomic int64s, always compiled in, cheap enough that
// stripping them later would only ever be a deletion, never a rewrite.
type counters struct {
	RetriesTotal      metrics.Counter
	LockFailuresTotal metrics.Counter
	ReclaimedTotal    metrics.Counter
}

// Metrics is a point-in-time snapshot of an AddrSpace's self-bookkeeping
// counters, readable the way a kernel exposes its own stats.
type Metrics struct {
	RetriesTotal      int64
	LockFailuresTotal int64
	ReclaimedTotal    int64
}

// Metrics snapshots the current counter values.
func (as *AddrSpace) Metrics() Metrics {
	return Metrics{
		RetriesTotal:      as.metrics.RetriesTotal.Load(),
		LockFailuresTotal: as.metrics.LockFailuresTotal.Load(),
		ReclaimedTotal:    as.metrics.ReclaimedTotal.Load(),
	}
}

// AddrSpace owns the page-table tree rooted at root and the locks, frame
// allocator, COW refcount map, and reclaimer that operate over it.
type AddrSpace struct {
	root   *pgtable.Page
	levels int

	structMu sync.Mutex

	reclaimer *rcu.Reclaimer
	frames    FrameAllocator

	cowMu   sync.Mutex
	cowRefs map[pte.Frame]*int64

	retryBudget int

	// EventSink, if set, receives diagnostic events (retries, lock
	// failures, reclaims). Nil by default; never required for correctness.
	EventSink func(Event)

	metrics counters
}

// New constructs an AddrSpace with an empty root page at level cfg.Levels-1.
func New(cfg Config) *AddrSpace {
	cfg = cfg.withDefaults()
	return &AddrSpace{
		root:        pgtable.New(cfg.Levels - 1),
		levels:      cfg.Levels,
		reclaimer:   rcu.New(cfg.Grace),
		frames:      cfg.Frames,
		cowRefs:     make(map[pte.Frame]*int64),
		retryBudget: cfg.RetryBudget,
	}
}

// Levels reports the configured page-table depth.
func (as *AddrSpace) Levels() int { return as.levels }

// AllocateFrame delegates to the configured frame allocator.
func (as *AddrSpace) AllocateFrame() pte.Frame {
	return as.frames.Allocate()
}

// Reclaim runs one pass of the RCU reclaimer and reports the diagnostic
// event if anything was reclaimed. Every Cursor.Release runs one pass;
// exposed so callers (and cortenmm.System) can also force a pass
// deterministically, e.g. in tests.
func (as *AddrSpace) Reclaim() int {
	n := as.reclaimer.TryReclaim()
	if n > 0 {
		as.metrics.ReclaimedTotal.Add(int64(n))
		as.emit(EventReclaimed, "")
	}
	return n
}

// COWRefcount returns the current global refcount for frame f (0 if never
// recorded). The map is shared across every cursor scope and mutated only
// under cowMu, a single coordinating lock chosen over partitioning by
// frame because COW frames are rare enough that one mutex sees no
// contention.
func (as *AddrSpace) COWRefcount(f pte.Frame) int {
	as.cowMu.Lock()
	defer as.cowMu.Unlock()
	if r, ok := as.cowRefs[f]; ok {
		return int(*r)
	}
	return 0
}

// COWSetRefcount fixes frame f's global refcount to n.
func (as *AddrSpace) COWSetRefcount(f pte.Frame, n int) {
	as.cowMu.Lock()
	defer as.cowMu.Unlock()
	v := int64(n)
	as.cowRefs[f] = &v
}

// COWIncRefcount increments frame f's global refcount (a fresh frame with
// no recorded refcount is treated as one existing reference before the
// increment) and returns the new value.
func (as *AddrSpace) COWIncRefcount(f pte.Frame) int {
	as.cowMu.Lock()
	defer as.cowMu.Unlock()
	r, ok := as.cowRefs[f]
	if !ok {
		v := int64(1)
		r = &v
		as.cowRefs[f] = r
	}
	*r++
	return int(*r)
}

// COWDecRefcount decrements frame f's global refcount and returns the new
// value.
func (as *AddrSpace) COWDecRefcount(f pte.Frame) int {
	as.cowMu.Lock()
	defer as.cowMu.Unlock()
	r, ok := as.cowRefs[f]
	if !ok {
		return 0
	}
	*r--
	return int(*r)
}

// leafSpan is the virtual-address range covered by one leaf page: FanOut
// entries of PageSize each.
func (as *AddrSpace) leafSpan() uintptr {
	return vaddr.FanOut * vaddr.PageSize
}

// leafAddresses returns the leaf-aligned start address of every leaf page
// that covers some part of [start, end).
func (as *AddrSpace) leafAddresses(start, end uintptr) []uintptr {
	span := as.leafSpan()
	first := start &^ (span - 1)
	var addrs []uintptr
	for a := first; a < end; a += span {
		addrs = append(addrs, a)
	}
	return addrs
}

// walkLockFree descends from the root to the leaf covering addr, reading
// child references with no lock taken at any level. It returns nil if any
// interior link along the path is absent.
func (as *AddrSpace) walkLockFree(addr uintptr) *pgtable.Page {
	indices := vaddr.Split(addr, as.levels)
	cur := as.root
	for i := 0; i < as.levels-1; i++ {
		cur = cur.LoadChild(int(indices[i]))
		if cur == nil {
			return nil
		}
	}
	return cur
}

// walkPathLockFree is walkLockFree but returns every page visited,
// root-to-leaf inclusive, or nil if the path is incomplete.
func (as *AddrSpace) walkPathLockFree(addr uintptr) []*pgtable.Page {
	indices := vaddr.Split(addr, as.levels)
	path := make([]*pgtable.Page, 1, as.levels)
	path[0] = as.root
	cur := as.root
	for i := 0; i < as.levels-1; i++ {
		cur = cur.LoadChild(int(indices[i]))
		if cur == nil {
			return nil
		}
		path = append(path, cur)
	}
	return path
}

// ensurePath creates, under the structural mutex, whatever interior/leaf
// pages are missing along the path to addr. Safe to call even when the
// path already exists: it re-walks under the lock and only allocates
// links it actually finds missing.
func (as *AddrSpace) ensurePath(addr uintptr) *pgtable.Page {
	if leaf := as.walkLockFree(addr); leaf != nil {
		return leaf
	}
	as.structMu.Lock()
	defer as.structMu.Unlock()

	indices := vaddr.Split(addr, as.levels)
	cur := as.root
	for i := 0; i < as.levels-1; i++ {
		idx := int(indices[i])
		child := cur.LoadChild(idx)
		if child == nil {
			childLevel := as.levels - 2 - i
			child = pgtable.New(childLevel)
			cur.StoreChild(idx, child)
		}
		cur = child
	}
	return cur
}

// ensureLeavesExist runs ensurePath for every leaf address the range
// touches.
func (as *AddrSpace) ensureLeavesExist(leafAddrs []uintptr) {
	for _, a := range leafAddrs {
		as.ensurePath(a)
	}
}

// entryIndex returns the in-leaf entry index for addr (the lowest-level
// index Split produces).
func entryIndex(addr uintptr, levels int) int {
	indices := vaddr.Split(addr, levels)
	return int(indices[levels-1])
}
