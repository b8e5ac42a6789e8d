// Package cortenmm ties the page-table tree, the locking protocol, and the
// RCU reclaimer together into the mapping operations a caller actually
// drives: mmap, munmap, page-fault handling, and fork-COW downgrade.
//
// The fault-classification shape (guard/perm checks first, then dispatch
// by mapping type) follows vm/as.go's Sys_pgfault, the COW-on-write-fault
// copy-then-remap sequence follows gopheros/kernel/mem/vmm/vmm.go's
// pageFaultHandler, and the fork-COW downgrade (permission drop plus
// refcount bump) follows wilinz-gvisor/pkg/sentry/mm/lifecycle.go's Fork,
// adapted from VMA-granularity to per-entry granularity since this module
// keeps no VMA tree at all.
package cortenmm

import (
	"cortenmm/addrspace"
	"cortenmm/pte"
	"cortenmm/vaddr"
)

// System is the address space plus the mapping operations layered over
// it. It embeds *addrspace.AddrSpace the way fd.Fd_t embeds an interface,
// so ScopedLock, RemovePageTable, and AllocateFrame are promoted directly.
type System struct {
	*addrspace.AddrSpace
}

// NewSystem constructs a System over a freshly created address space.
func NewSystem(cfg addrspace.Config) *System {
	return &System{AddrSpace: addrspace.New(cfg)}
}

// Mmap page-aligns [vaddrValue, vaddrValue+length), marks every covered
// entry PrivateAnon with the requested software permission, and returns
// the aligned start. No physical frame is allocated here; binding happens
// lazily on first fault. Returns an error if the range cannot be locked.
func (s *System) Mmap(vaddrValue, length uintptr, prot pte.Perm) (uintptr, error) {
	start, end := vaddr.PageAlign(vaddrValue, length)

	cur, err := s.ScopedLock(start, end, false)
	if err != nil {
		return 0, err
	}
	defer cur.Release()

	if err := cur.Mark(pte.PrivateAnon, prot); err != nil {
		return 0, err
	}
	return start, nil
}

// Munmap page-aligns [vaddrValue, vaddrValue+length) and clears every
// mapping in it. Leaves that end up entirely Invalid stay attached: Munmap
// does not detach them, and neither does the reclaimer, which only frees
// pages that RemovePageTable has already detached.
func (s *System) Munmap(vaddrValue, length uintptr) error {
	start, end := vaddr.PageAlign(vaddrValue, length)

	cur, err := s.ScopedLock(start, end, false)
	if err != nil {
		return err
	}
	defer cur.Release()

	return cur.UnmapRange()
}

// HandlePageFault page-aligns vaddrValue and resolves the fault under one
// one-page cursor scope. Returns whether the fault was handled; false
// means the access is a genuine segmentation violation.
func (s *System) HandlePageFault(vaddrValue uintptr, isWrite bool) bool {
	aligned := vaddr.AlignDown(vaddrValue)

	cur, err := s.ScopedLock(aligned, aligned+vaddr.PageSize, false)
	if err != nil {
		return false
	}
	defer cur.Release()

	switch cur.Query(aligned) {
	case pte.PrivateAnon:
		f := s.AllocateFrame()
		return cur.Map(aligned, f, true) == nil

	case pte.COW:
		p, _, err := cur.GetPTEAndMetadata(aligned)
		if err != nil {
			return false
		}
		if !isWrite {
			return p.Present()
		}
		return s.resolveCOW(cur, aligned) == nil

	case pte.Mapped:
		p, _, err := cur.GetPTEAndMetadata(aligned)
		if err != nil {
			return false
		}
		if isWrite && !p.RW() {
			// A Mapped entry's PTE.rw is always set to match soft_perm by
			// Map; the two disagreeing here is a data inconsistency, not a
			// recoverable permission check.
			return false
		}
		return true

	default: // Invalid
		return false
	}
}

// resolveCOW resolves a write fault against a COW entry: copy the frame if
// another entry still shares it, otherwise flip the PTE writable in place.
func (s *System) resolveCOW(cur *addrspace.Cursor, vaddrValue uintptr) error {
	p, m, err := cur.GetPTEAndMetadata(vaddrValue)
	if err != nil {
		return err
	}
	oldFrame, _ := p.Frame()
	refcount := s.COWRefcount(oldFrame)

	if refcount > 1 {
		newFrame := s.AllocateFrame()
		// Conceptually copy oldFrame's contents into newFrame: this
		// simulator has no backing store, so the copy is the bookkeeping
		// step alone.
		if err := cur.Map(vaddrValue, newFrame, true); err != nil {
			return err
		}
		s.COWDecRefcount(oldFrame)
		s.COWSetRefcount(newFrame, 1)
		m.Status = pte.PrivateAnon
		m.Refcount = 1
		return nil
	}

	p.SetRW(true)
	m.Status = pte.PrivateAnon
	m.Refcount = 1
	return nil
}

// ForkCOW downgrades every Mapped entry with a valid PTE in
// [vaddrValue, vaddrValue+length) to COW: metadata status becomes COW,
// PTE.rw is cleared, and the frame's global refcount is incremented and
// mirrored into metadata.Refcount. Executed under one cursor scope over
// the range.
func (s *System) ForkCOW(vaddrValue, length uintptr) error {
	start, end := vaddr.PageAlign(vaddrValue, length)

	cur, err := s.ScopedLock(start, end, false)
	if err != nil {
		return err
	}
	defer cur.Release()

	for a := start; a < end; a += vaddr.PageSize {
		p, m, err := cur.GetPTEAndMetadata(a)
		if err != nil {
			return err
		}
		if m.Status != pte.Mapped || !p.IsValid() {
			continue
		}
		f, _ := p.Frame()
		p.SetRW(false)
		m.Status = pte.COW
		m.Refcount = s.COWIncRefcount(f)
	}
	return nil
}
