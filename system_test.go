package cortenmm

import (
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"

	"cortenmm/addrspace"
	"cortenmm/pte"
	"cortenmm/vaddr"
)

func TestLazyMmapAndFault(t *testing.T) {
	s := NewSystem(addrspace.Config{})

	start, err := s.Mmap(0x50000, 0x10000, pte.PermRWX)
	if err != nil {
		t.Fatalf("Mmap failed: %v", err)
	}
	if start != 0x50000 {
		t.Fatalf("expected aligned start 0x50000, got %#x", start)
	}

	cur, err := s.ScopedLock(0x50000, 0x60000, false)
	if err != nil {
		t.Fatalf("ScopedLock failed: %v", err)
	}
	if s := cur.Query(0x50000); s != pte.PrivateAnon {
		t.Fatalf("expected PrivateAnon at 0x50000, got %v", s)
	}
	p, _, err := cur.GetPTEAndMetadata(0x50000)
	if err != nil {
		t.Fatalf("GetPTEAndMetadata failed: %v", err)
	}
	if p.Present() {
		t.Fatalf("expected present=false before any fault")
	}
	cur.Release()

	if !s.HandlePageFault(0x53000, true) {
		t.Fatalf("expected write fault at 0x53000 to be handled")
	}

	cur, err = s.ScopedLock(0x50000, 0x60000, false)
	if err != nil {
		t.Fatalf("ScopedLock failed: %v", err)
	}
	defer cur.Release()

	p, _, err = cur.GetPTEAndMetadata(0x53000)
	if err != nil {
		t.Fatalf("GetPTEAndMetadata failed: %v", err)
	}
	if !p.Present() || !p.RW() {
		t.Fatalf("expected 0x53000 present+rw after fault")
	}
	if s := cur.Query(0x53000); s != pte.Mapped {
		t.Fatalf("expected Mapped at 0x53000, got %v", s)
	}

	for _, untouched := range []uintptr{0x50000, 0x5F000} {
		p, _, err := cur.GetPTEAndMetadata(untouched)
		if err != nil {
			t.Fatalf("GetPTEAndMetadata(%#x) failed: %v", untouched, err)
		}
		if p.Present() {
			t.Fatalf("expected %#x to remain present=false", untouched)
		}
	}
}

func TestSingleRefCOWShortCircuit(t *testing.T) {
	s := NewSystem(addrspace.Config{})

	if _, err := s.Mmap(0x20000, 0x1000, pte.PermRWX); err != nil {
		t.Fatalf("Mmap failed: %v", err)
	}
	if !s.HandlePageFault(0x20000, true) {
		t.Fatalf("expected initial write fault to be handled")
	}
	if err := s.ForkCOW(0x20000, 0x1000); err != nil {
		t.Fatalf("ForkCOW failed: %v", err)
	}

	cur, err := s.ScopedLock(0x20000, 0x21000, false)
	if err != nil {
		t.Fatalf("ScopedLock failed: %v", err)
	}
	p, _, err := cur.GetPTEAndMetadata(0x20000)
	if err != nil {
		t.Fatalf("GetPTEAndMetadata failed: %v", err)
	}
	frame, _ := p.Frame()
	if got := s.COWRefcount(frame); got != 2 {
		t.Fatalf("expected refcount 2 after fork, got %d", got)
	}
	cur.Release()

	// Simulate the sibling going away with a direct decrement.
	s.COWDecRefcount(frame)

	if !s.HandlePageFault(0x20000, true) {
		t.Fatalf("expected resolve-COW write fault to be handled")
	}

	cur, err = s.ScopedLock(0x20000, 0x21000, false)
	if err != nil {
		t.Fatalf("ScopedLock failed: %v", err)
	}
	defer cur.Release()
	p, m, err := cur.GetPTEAndMetadata(0x20000)
	if err != nil {
		t.Fatalf("GetPTEAndMetadata failed: %v", err)
	}
	newFrame, _ := p.Frame()
	if newFrame != frame {
		t.Fatalf("expected no new frame to be allocated, got %#x want %#x", newFrame, frame)
	}
	if !p.RW() {
		t.Fatalf("expected PTE.rw to flip to true")
	}
	if m.Status != pte.PrivateAnon {
		t.Fatalf("expected status PrivateAnon, got %v", m.Status)
	}
}

func TestTrueCOWCopy(t *testing.T) {
	s := NewSystem(addrspace.Config{})

	if _, err := s.Mmap(0x30000, 0x1000, pte.PermRWX); err != nil {
		t.Fatalf("Mmap failed: %v", err)
	}
	if !s.HandlePageFault(0x30000, true) {
		t.Fatalf("expected initial write fault to be handled")
	}

	cur, err := s.ScopedLock(0x30000, 0x31000, false)
	if err != nil {
		t.Fatalf("ScopedLock failed: %v", err)
	}
	p, _, err := cur.GetPTEAndMetadata(0x30000)
	if err != nil {
		t.Fatalf("GetPTEAndMetadata failed: %v", err)
	}
	f0, _ := p.Frame()
	cur.Release()

	if err := s.ForkCOW(0x30000, 0x1000); err != nil {
		t.Fatalf("ForkCOW failed: %v", err)
	}
	if got := s.COWRefcount(f0); got != 2 {
		t.Fatalf("expected refcount(F0)=2 after fork, got %d", got)
	}

	if !s.HandlePageFault(0x30000, true) {
		t.Fatalf("expected COW write fault to be handled")
	}

	cur, err = s.ScopedLock(0x30000, 0x31000, false)
	if err != nil {
		t.Fatalf("ScopedLock failed: %v", err)
	}
	defer cur.Release()
	p, m, err := cur.GetPTEAndMetadata(0x30000)
	if err != nil {
		t.Fatalf("GetPTEAndMetadata failed: %v", err)
	}
	f1, _ := p.Frame()
	if f1 == f0 {
		t.Fatalf("expected a new frame distinct from F0, got the same frame %#x", f0)
	}
	if !p.RW() {
		t.Fatalf("expected PTE.rw=true after copy")
	}
	if m.Status != pte.PrivateAnon {
		t.Fatalf("expected status PrivateAnon, got %v", m.Status)
	}
	if got := s.COWRefcount(f0); got != 1 {
		t.Fatalf("expected refcount(F0) decremented to 1, got %d", got)
	}
	if got := s.COWRefcount(f1); got != 1 {
		t.Fatalf("expected refcount(F1)=1, got %d", got)
	}
}

func TestInvalidAccessIsSegfault(t *testing.T) {
	s := NewSystem(addrspace.Config{})

	if s.HandlePageFault(0xDEAD000, false) {
		t.Fatalf("expected an access to a never-mapped address to fail")
	}
}

func TestConcurrentDisjointRangeFaulting(t *testing.T) {
	s := NewSystem(addrspace.Config{})
	const rangeSize = 40 * 1024
	const pagesPerRange = rangeSize / int(vaddr.PageSize)
	const threads = 4

	var g errgroup.Group
	for th := 0; th < threads; th++ {
		base := uintptr(th) * 0x200000 // keep ranges in distinct leaf spans
		g.Go(func() error {
			if _, err := s.Mmap(base, rangeSize, pte.PermRWX); err != nil {
				return err
			}
			for p := 0; p < pagesPerRange; p++ {
				addr := base + uintptr(p)*vaddr.PageSize
				if !s.HandlePageFault(addr, true) {
					return fmt.Errorf("page fault not handled at %#x", addr)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent mmap+fault failed: %v", err)
	}

	seen := make(map[pte.Frame]bool)
	for th := 0; th < threads; th++ {
		base := uintptr(th) * 0x200000
		cur, err := s.ScopedLock(base, base+rangeSize, false)
		if err != nil {
			t.Fatalf("ScopedLock failed: %v", err)
		}
		for p := 0; p < pagesPerRange; p++ {
			addr := base + uintptr(p)*vaddr.PageSize
			if st := cur.Query(addr); st != pte.Mapped {
				t.Fatalf("range %d page %d: expected Mapped, got %v", th, p, st)
			}
			pp, _, err := cur.GetPTEAndMetadata(addr)
			if err != nil {
				t.Fatalf("GetPTEAndMetadata failed: %v", err)
			}
			f, _ := pp.Frame()
			if seen[f] {
				t.Fatalf("frame %#x bound to more than one page", f)
			}
			seen[f] = true
		}
		cur.Release()
	}
	if len(seen) != pagesPerRange*threads {
		t.Fatalf("expected %d distinct frames, got %d", pagesPerRange*threads, len(seen))
	}
}

func TestMunmapAfterMap(t *testing.T) {
	s := NewSystem(addrspace.Config{})

	if _, err := s.Mmap(0x10000, 0x1000, pte.PermRWX); err != nil {
		t.Fatalf("Mmap failed: %v", err)
	}
	if !s.HandlePageFault(0x10000, true) {
		t.Fatalf("expected write fault to be handled")
	}
	if err := s.Munmap(0x10000, 0x1000); err != nil {
		t.Fatalf("Munmap failed: %v", err)
	}

	cur, err := s.ScopedLock(0x10000, 0x11000, false)
	if err != nil {
		t.Fatalf("ScopedLock failed: %v", err)
	}
	defer cur.Release()

	if st := cur.Query(0x10000); st != pte.Invalid {
		t.Fatalf("expected Invalid after munmap, got %v", st)
	}
	p, m, err := cur.GetPTEAndMetadata(0x10000)
	if err != nil {
		t.Fatalf("GetPTEAndMetadata failed: %v", err)
	}
	if p.Present() {
		t.Fatalf("expected PTE cleared after munmap")
	}
	if m.Refcount != 0 {
		t.Fatalf("expected metadata.refcount=0 after munmap, got %d", m.Refcount)
	}
}
