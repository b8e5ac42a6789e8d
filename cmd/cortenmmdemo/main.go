// Command cortenmmdemo exercises a cortenmm.System the way
// original_source/cortenmm-simulator/example.py exercises CortenMMSystem: four
// scenarios (basic operations, copy-on-write, concurrent disjoint-range
// access, and lazy allocation), printed to stdout. It is a driver, not
// part of the core: no logic here is load-bearing for cortenmm itself.
package main

import (
	"fmt"
	"sync"

	"cortenmm"
	"cortenmm/addrspace"
	"cortenmm/pte"
)

func main() {
	fmt.Println("CortenMM demo")
	fmt.Println()

	basicOperations()
	copyOnWrite()
	concurrentAccess()
	lazyAllocation()

	fmt.Println("done")
}

func basicOperations() {
	fmt.Println("== basic operations: mmap, page fault, query, munmap ==")
	s := cortenmm.NewSystem(addrspace.Config{})

	const vaddrValue, length = 0x10000, 0x1000
	if _, err := s.Mmap(vaddrValue, length, pte.PermRWX); err != nil {
		fmt.Printf("mmap failed: %v\n", err)
		return
	}
	fmt.Printf("mmap %#x..%#x ok\n", vaddrValue, vaddrValue+length)

	if s.HandlePageFault(vaddrValue, true) {
		fmt.Println("page fault handled, frame bound")
	} else {
		fmt.Println("page fault NOT handled")
	}

	cur, err := s.ScopedLock(vaddrValue, vaddrValue+length, false)
	if err != nil {
		fmt.Printf("scoped_lock failed: %v\n", err)
		return
	}
	fmt.Printf("status at %#x: %v\n", vaddrValue, cur.Query(vaddrValue))
	cur.Release()

	if err := s.Munmap(vaddrValue, length); err != nil {
		fmt.Printf("munmap failed: %v\n", err)
		return
	}
	fmt.Println("munmap ok")
	fmt.Println()
}

func copyOnWrite() {
	fmt.Println("== copy-on-write ==")
	s := cortenmm.NewSystem(addrspace.Config{})

	const vaddrValue = 0x20000
	s.Mmap(vaddrValue, 0x1000, pte.PermRWX)
	s.HandlePageFault(vaddrValue, true)

	cur, _ := s.ScopedLock(vaddrValue, vaddrValue+0x1000, false)
	p, _, _ := cur.GetPTEAndMetadata(vaddrValue)
	original, _ := p.Frame()
	cur.Release()
	fmt.Printf("original frame: %#x\n", original)

	if err := s.ForkCOW(vaddrValue, 0x1000); err != nil {
		fmt.Printf("fork_cow failed: %v\n", err)
		return
	}
	cur, _ = s.ScopedLock(vaddrValue, vaddrValue+0x1000, false)
	p, m, _ := cur.GetPTEAndMetadata(vaddrValue)
	fmt.Printf("after fork_cow: status=%v rw=%v refcount=%d\n", m.Status, p.RW(), m.Refcount)
	cur.Release()

	s.HandlePageFault(vaddrValue, true)
	cur, _ = s.ScopedLock(vaddrValue, vaddrValue+0x1000, false)
	p, m, _ = cur.GetPTEAndMetadata(vaddrValue)
	resolved, _ := p.Frame()
	fmt.Printf("after COW-resolve: frame=%#x (was %#x) rw=%v status=%v\n", resolved, original, p.RW(), m.Status)
	cur.Release()
	fmt.Println()
}

func concurrentAccess() {
	fmt.Println("== concurrent disjoint-range access ==")
	s := cortenmm.NewSystem(addrspace.Config{})

	const pagesPerWorker = 10
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		base := uintptr(0x100000 + i*0x100000)
		wg.Add(1)
		go func(id int, base uintptr) {
			defer wg.Done()
			s.Mmap(base, pagesPerWorker*0x1000, pte.PermRWX)
			for p := 0; p < pagesPerWorker; p++ {
				s.HandlePageFault(base+uintptr(p)*0x1000, true)
			}
			fmt.Printf("worker %d: mapped and faulted %d pages at %#x\n", id, pagesPerWorker, base)
		}(i, base)
	}
	wg.Wait()
	fmt.Println("all workers done; fine-grained locks let this run without one global lock")
	fmt.Println()
}

func lazyAllocation() {
	fmt.Println("== lazy allocation ==")
	s := cortenmm.NewSystem(addrspace.Config{})

	const vaddrValue, length = 0x50000, 0x10000
	s.Mmap(vaddrValue, length, pte.PermRWX)

	cur, _ := s.ScopedLock(vaddrValue, vaddrValue+0x1000, false)
	p, _, _ := cur.GetPTEAndMetadata(vaddrValue)
	fmt.Printf("status=%v present=%v (no frame yet)\n", cur.Query(vaddrValue), p.Present())
	cur.Release()

	for _, pageOffset := range []int{0, 5, 10} {
		addr := vaddrValue + uintptr(pageOffset)*0x1000
		s.HandlePageFault(addr, true)
		fmt.Printf("touched page %d (%#x)\n", pageOffset, addr)
	}

	cur, _ = s.ScopedLock(vaddrValue+0x3000, vaddrValue+0x4000, false)
	p, m, _ := cur.GetPTEAndMetadata(vaddrValue + 0x3000)
	fmt.Printf("page 3 (%#x): status=%v present=%v (still unallocated)\n", vaddrValue+0x3000, m.Status, p.Present())
	cur.Release()
	fmt.Println()
}
