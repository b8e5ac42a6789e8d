package addrspace

import "cortenmm/vaddr"

// RemovePageTable isolates the subtree reachable through the interior
// entry covering vaddrValue: take the structural mutex, descend to the
// parent, lock both parent and target (so
// no concurrent reader can observe the target disappear from a parent it
// already holds locked — the basis for DFS subtree locking's fatal-on-
// stale-child invariant), clear the parent's child reference, unlock both,
// and hand the target to the reclaimer. A no-op if no page is installed at
// that slot.
func (as *AddrSpace) RemovePageTable(vaddrValue uintptr) error {
	as.structMu.Lock()
	defer as.structMu.Unlock()

	path := as.walkPathLockFree(vaddrValue)
	if path == nil || len(path) < 2 {
		return nil
	}
	parent := path[len(path)-2]
	target := path[len(path)-1]

	indices := vaddr.Split(vaddrValue, as.levels)
	idx := int(indices[len(path)-2])

	parent.Lock()
	target.Lock()
	target.MarkStale()
	parent.StoreChild(idx, nil)
	target.Unlock()
	parent.Unlock()

	as.reclaimer.DeferFree(target)
	return nil
}
