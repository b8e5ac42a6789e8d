package addrspace

import (
	"fmt"

	"cortenmm/internal/diag"
	"cortenmm/pgtable"
	"cortenmm/vaddr"
)

// ScopedLock is the address space's locking entry point: on success it
// returns a Cursor owning every lock needed to observe and
// mutate [start, end), and the caller must Release it (typically via
// defer) to guarantee the locks are dropped and the reclaimer nudged.
//
// deep requests DFS subtree locking: instead of locking only the leaves
// touching the range, the top-level page(s) covering it are locked along
// with their entire existing subtree, parent before child, ascending
// index among siblings. No current caller in this module sets deep=true;
// it is exercised directly by addrspace's own tests.
func (as *AddrSpace) ScopedLock(start, end uintptr, deep bool) (*Cursor, error) {
	if end <= start {
		return nil, ErrAddressOutOfRange
	}

	leafAddrs := as.leafAddresses(start, end)

	for attempt := 0; attempt < as.retryBudget; attempt++ {
		as.ensureLeavesExist(leafAddrs)

		var locked []*pgtable.Page
		var ok bool
		if deep {
			locked, ok = as.tryLockDeep(leafAddrs)
		} else {
			locked, ok = as.tryLockShallow(leafAddrs)
		}
		if !ok {
			as.metrics.RetriesTotal.Inc()
			as.emit(EventRetry, "")
			continue
		}

		leaves := make([]*pgtable.Page, len(leafAddrs))
		for i, a := range leafAddrs {
			leaves[i] = as.walkLockFree(a)
		}

		return &Cursor{
			as:     as,
			start:  start,
			end:    end,
			leaves: leaves,
			locked: locked,
		}, nil
	}

	as.metrics.LockFailuresTotal.Inc()
	as.emit(EventLockFailure, "")
	return nil, ErrLockAcquisitionFailed
}

// tryLockShallow locks exactly the leaves covering leafAddrs, in ascending
// address order — the same ascending-index sibling-lock rule tryLockDeep
// applies across whole subtrees. On observing a stale leaf it releases
// everything acquired so far, in reverse order, and reports failure so the
// caller restarts the whole attempt.
func (as *AddrSpace) tryLockShallow(leafAddrs []uintptr) (locked []*pgtable.Page, ok bool) {
	locked = make([]*pgtable.Page, 0, len(leafAddrs))
	for _, a := range leafAddrs {
		leaf := as.walkLockFree(a)
		if leaf == nil {
			releaseAll(locked)
			return nil, false
		}
		leaf.Lock()
		if leaf.IsStale() {
			leaf.Unlock()
			releaseAll(locked)
			return nil, false
		}
		locked = append(locked, leaf)
	}
	return locked, true
}

// tryLockDeep locks the full existing subtree rooted at every top-level
// page covering leafAddrs. The top-level entry point of each subtree is
// reached via lock-free traverse and is retryable if found stale; once
// locked and confirmed live, staleness anywhere beneath it is a protocol
// violation (the structural mutex's serialization of detach makes that
// state unreachable) and panics rather than retrying.
func (as *AddrSpace) tryLockDeep(leafAddrs []uintptr) (locked []*pgtable.Page, ok bool) {
	entryAddrs := as.topLevelEntryAddresses(leafAddrs)

	locked = make([]*pgtable.Page, 0, len(entryAddrs))
	for _, a := range entryAddrs {
		var entry *pgtable.Page
		if as.levels == 1 {
			entry = as.root
		} else {
			entry = as.root.LoadChild(entryTopIndex(a, as.levels))
		}
		if entry == nil {
			releaseAll(locked)
			return nil, false
		}

		entry.Lock()
		if entry.IsStale() {
			entry.Unlock()
			releaseAll(locked)
			return nil, false
		}
		locked = append(locked, entry)
		as.lockSubtreeFatal(entry, &locked)
	}
	return locked, true
}

// lockSubtreeFatal recursively locks every existing child of p (already
// locked and confirmed live by the caller), treating a stale child beneath
// it as a protocol bug rather than a retry condition.
func (as *AddrSpace) lockSubtreeFatal(p *pgtable.Page, locked *[]*pgtable.Page) {
	if p.Level() == 0 {
		return
	}
	for i := 0; i < pgtable.FanOut; i++ {
		child := p.LoadChild(i)
		if child == nil {
			continue
		}
		child.Lock()
		if child.IsStale() {
			child.Unlock()
			panic(fmt.Errorf("%w\n%s", ErrProtocolViolation, diag.Trace(1)))
		}
		*locked = append(*locked, child)
		as.lockSubtreeFatal(child, locked)
	}
}

// topLevelSpan is the virtual-address range covered by one root child.
func (as *AddrSpace) topLevelSpan() uintptr {
	if as.levels == 1 {
		return as.leafSpan()
	}
	span := as.leafSpan()
	for i := 0; i < as.levels-2; i++ {
		span *= pgtable.FanOut
	}
	return span
}

// topLevelEntryAddresses returns the distinct top-level-aligned addresses
// that cover every address in leafAddrs.
func (as *AddrSpace) topLevelEntryAddresses(leafAddrs []uintptr) []uintptr {
	span := as.topLevelSpan()
	seen := make(map[uintptr]bool)
	var out []uintptr
	for _, a := range leafAddrs {
		top := a &^ (span - 1)
		if !seen[top] {
			seen[top] = true
			out = append(out, top)
		}
	}
	return out
}

func entryTopIndex(addr uintptr, levels int) int {
	return int(vaddr.Split(addr, levels)[0])
}

func releaseAll(pages []*pgtable.Page) {
	for i := len(pages) - 1; i >= 0; i-- {
		pages[i].Unlock()
	}
}
