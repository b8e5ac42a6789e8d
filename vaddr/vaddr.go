// Package vaddr implements virtual-address arithmetic: splitting an address
// into per-level page-table indices and reassembling it, and the
// page-alignment helpers every mapping operation needs.
//
// The page size and per-level fan-out are architectural constants, the way
// mem.PGSHIFT/mem.PGSIZE are constants in a real kernel rather than
// configuration: a page table built for one page size cannot be reused for
// another, so there is nothing to inject here.
package vaddr

// PageShift is the base-2 exponent of the page size.
const PageShift = 12

// PageSize is the size of a single page in bytes (4096).
const PageSize uintptr = 1 << PageShift

// PageOffsetMask masks the in-page offset bits of an address.
const PageOffsetMask uintptr = PageSize - 1

// FanOutBits is the base-2 exponent of the number of entries in one
// page-table page.
const FanOutBits = 9

// FanOut is the number of entries in one page-table page (512 = 2^9).
const FanOut = 1 << FanOutBits

const fanOutMask uint16 = FanOut - 1

// Split decomposes vaddr into levels per-level indices, highest level
// first. The in-page offset is discarded; callers that need it can mask
// vaddr with PageOffsetMask directly.
func Split(vaddrValue uintptr, levels int) []uint16 {
	idx := make([]uint16, levels)
	v := vaddrValue >> PageShift
	for l := 0; l < levels; l++ {
		shift := uint(levels-1-l) * FanOutBits
		idx[l] = uint16(v>>shift) & fanOutMask
	}
	return idx
}

// Join reassembles a virtual address from per-level indices (highest level
// first, as returned by Split) and an in-page offset. Behavior is
// undefined-but-safe when offset >= PageSize: only the low PageShift bits
// of offset are honored rather than panicking on an out-of-range value.
func Join(indices []uint16, offset uintptr) uintptr {
	levels := len(indices)
	var v uintptr
	for l := 0; l < levels; l++ {
		v = (v << FanOutBits) | uintptr(indices[l]&fanOutMask)
	}
	return (v << PageShift) | (offset & PageOffsetMask)
}

// AlignDown rounds v down to the nearest page boundary.
func AlignDown(v uintptr) uintptr {
	return v &^ PageOffsetMask
}

// AlignUp rounds v up to the nearest page boundary.
func AlignUp(v uintptr) uintptr {
	return AlignDown(v + PageOffsetMask)
}

// PageAlign returns an inclusive, page-aligned start and exclusive,
// page-aligned end covering [start, start+length).
func PageAlign(start, length uintptr) (alignedStart, alignedEnd uintptr) {
	alignedStart = AlignDown(start)
	alignedEnd = AlignUp(start + length)
	return
}

// MaxAddress returns the highest virtual address representable by a tree
// with the given level count: FanOut^levels*PageSize - 1.
func MaxAddress(levels int) uintptr {
	span := PageSize
	for i := 0; i < levels; i++ {
		span *= FanOut
	}
	return span - 1
}
