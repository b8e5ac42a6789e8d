package addrspace

import (
	"cortenmm/pgtable"
	"cortenmm/pte"
	"cortenmm/vaddr"
)

// Cursor is the sole mutation interface over a locked range, grounded on
// vm/as.go's Userdmap8_inner/Lockassert_pmap shape: it asserts its own
// bounds on every call and returns a typed error instead of panicking on
// an out-of-range address. Created only by AddrSpace.ScopedLock.
type Cursor struct {
	as    *AddrSpace
	start uintptr
	end   uintptr

	// leaves holds, in address order, the leaf page covering each
	// leaf-aligned span of [start, end). Populated after locking succeeds;
	// always a subset of (or equal to) locked.
	leaves []*pgtable.Page

	// locked holds every page this cursor's ScopedLock call acquired, in
	// acquisition order, so Release can unwind in exactly reverse order.
	locked []*pgtable.Page

	released bool
}

// leafFor locates the locked leaf page and in-leaf entry index covering
// vaddrValue, or ErrAddressOutOfRange if it falls outside [start, end).
func (c *Cursor) leafFor(vaddrValue uintptr) (*pgtable.Page, int, error) {
	if vaddrValue < c.start || vaddrValue >= c.end {
		return nil, 0, ErrAddressOutOfRange
	}
	span := c.as.leafSpan()
	first := c.start &^ (span - 1)
	i := int((vaddrValue &^ (span - 1) - first) / span)
	if i < 0 || i >= len(c.leaves) {
		return nil, 0, ErrAddressOutOfRange
	}
	idx := entryIndex(vaddrValue, c.as.levels)
	return c.leaves[i], idx, nil
}

// Query reads the metadata status of the entry containing vaddrValue.
// Returns Invalid if the address is not covered by this cursor — the one
// operation that tolerates an out-of-range address rather than erroring.
func (c *Cursor) Query(vaddrValue uintptr) pte.Status {
	leaf, idx, err := c.leafFor(vaddrValue)
	if err != nil {
		return pte.Invalid
	}
	return leaf.Metadata(idx).Status
}

// Map installs a live hardware mapping: frame bound, present, rw=writable,
// user=true, and metadata status=Mapped with soft_perm RWX or R·X.
func (c *Cursor) Map(vaddrValue uintptr, frame pte.Frame, writable bool) error {
	leaf, idx, err := c.leafFor(vaddrValue)
	if err != nil {
		return err
	}
	p := leaf.PTE(idx)
	p.SetFrame(frame)
	p.SetPresent(true)
	p.SetRW(writable)
	p.SetUser(true)

	m := leaf.Metadata(idx)
	m.Status = pte.Mapped
	if writable {
		m.Perm = pte.PermRWX
	} else {
		m.Perm = pte.PermRX
	}
	leaf.BumpVersion()
	return nil
}

// Mark writes status and perm into the metadata of every entry in
// [start, end) without touching any PTE — the lazy-allocation primitive
// mmap uses.
func (c *Cursor) Mark(status pte.Status, perm pte.Perm) error {
	return c.forEachEntry(func(leaf *pgtable.Page, idx int) {
		m := leaf.Metadata(idx)
		m.Status = status
		m.Perm = perm
		leaf.BumpVersion()
	})
}

// Unmap clears the PTE and resets the metadata of the entry containing
// vaddrValue to Invalid/0/0.
func (c *Cursor) Unmap(vaddrValue uintptr) error {
	leaf, idx, err := c.leafFor(vaddrValue)
	if err != nil {
		return err
	}
	leaf.PTE(idx).Clear()
	leaf.Metadata(idx).Reset()
	leaf.BumpVersion()
	return nil
}

// UnmapRange applies Unmap to every entry in [start, end) whose status is
// not already Invalid.
func (c *Cursor) UnmapRange() error {
	return c.forEachEntry(func(leaf *pgtable.Page, idx int) {
		if leaf.Metadata(idx).Status == pte.Invalid {
			return
		}
		leaf.PTE(idx).Clear()
		leaf.Metadata(idx).Reset()
		leaf.BumpVersion()
	})
}

// GetPTEAndMetadata returns a borrowed mutable view of the hardware entry
// and software metadata for vaddrValue, as used by COW resolution.
func (c *Cursor) GetPTEAndMetadata(vaddrValue uintptr) (*pte.HardwarePTE, *pte.Metadata, error) {
	leaf, idx, err := c.leafFor(vaddrValue)
	if err != nil {
		return nil, nil, err
	}
	return leaf.PTE(idx), leaf.Metadata(idx), nil
}

// forEachEntry walks every page-aligned address in [start, end) and
// invokes fn with the leaf and in-leaf index covering it. Linear in the
// number of pages the range spans.
func (c *Cursor) forEachEntry(fn func(leaf *pgtable.Page, idx int)) error {
	for a := c.start; a < c.end; a += vaddr.PageSize {
		leaf, idx, err := c.leafFor(a)
		if err != nil {
			return err
		}
		fn(leaf, idx)
	}
	return nil
}

// Release drops every lock this cursor holds, in exactly reverse
// acquisition order, and nudges the reclaimer. Idempotent: a second call
// is a no-op, so a deferred Release is always safe even when an earlier
// explicit call already ran. Callers that panic inside a cursor scope
// still get their locks released, the same guarantee Go's defer already
// provides — no recovery logic is needed inside Cursor itself.
func (c *Cursor) Release() {
	if c.released {
		return
	}
	c.released = true
	for i := len(c.locked) - 1; i >= 0; i-- {
		c.locked[i].Unlock()
	}
	c.as.Reclaim()
}
