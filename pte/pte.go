// Package pte defines the two per-entry data types CortenMM binds
// together: the hardware-visible page table entry and the software
// metadata layered alongside it. There is no subclassing, just plain
// data plus the small predicates that follow directly from the field
// values.
package pte

import "math"

// Frame is an opaque physical frame number. 0 is a valid frame; unset
// frames are represented by NoFrame rather than overloading 0.
type Frame uint64

// NoFrame is the sentinel for "no frame bound".
const NoFrame Frame = math.MaxUint64

// HardwarePTE holds only the bits a real MMU would see: a frame number and
// the present/rw/user/accessed/dirty flags. Invariant: Present implies a
// frame is set. The zero value is a cleared entry: no frame bound and
// Present=false.
type HardwarePTE struct {
	frame    Frame
	bound    bool
	present  bool
	rw       bool
	user     bool
	accessed bool
	dirty    bool
}

// Frame returns the bound frame number and whether one is set.
func (p *HardwarePTE) Frame() (Frame, bool) {
	if !p.bound {
		return 0, false
	}
	return p.frame, true
}

// SetFrame binds the entry to a physical frame. Passing NoFrame unbinds it.
func (p *HardwarePTE) SetFrame(f Frame) {
	p.frame = f
	p.bound = f != NoFrame
}

// Present reports the present bit.
func (p *HardwarePTE) Present() bool { return p.present }

// SetPresent sets the present bit.
func (p *HardwarePTE) SetPresent(v bool) { p.present = v }

// RW reports the hardware read/write bit.
func (p *HardwarePTE) RW() bool { return p.rw }

// SetRW sets the hardware read/write bit.
func (p *HardwarePTE) SetRW(v bool) { p.rw = v }

// User reports the user-accessible bit.
func (p *HardwarePTE) User() bool { return p.user }

// SetUser sets the user-accessible bit.
func (p *HardwarePTE) SetUser(v bool) { p.user = v }

// Accessed reports the accessed bit.
func (p *HardwarePTE) Accessed() bool { return p.accessed }

// Dirty reports the dirty bit.
func (p *HardwarePTE) Dirty() bool { return p.dirty }

// Clear zeroes every field, including unbinding any frame.
func (p *HardwarePTE) Clear() {
	*p = HardwarePTE{frame: NoFrame}
}

// IsValid reports present && a frame is bound.
func (p *HardwarePTE) IsValid() bool {
	_, ok := p.Frame()
	return p.present && ok
}

// Status is the software-visible state of one page-table entry.
type Status int

const (
	// Invalid is both the terminal and initial state of an entry.
	Invalid Status = iota
	// Mapped means a frame is bound and the hardware mapping is live.
	Mapped
	// PrivateAnon means the entry has been promised anonymous memory but
	// no frame has been bound yet (lazy allocation).
	PrivateAnon
	// COW means the entry shares a frame with at least one other entry
	// and must copy on the next write.
	COW
	// FileMapped is reserved for file-backed mappings; no core path
	// produces it, but it is part of the closed enumeration.
	FileMapped
)

func (s Status) String() string {
	switch s {
	case Invalid:
		return "Invalid"
	case Mapped:
		return "Mapped"
	case PrivateAnon:
		return "PrivateAnon"
	case COW:
		return "COW"
	case FileMapped:
		return "FileMapped"
	default:
		return "Status(?)"
	}
}

// Perm is a 3-bit software permission mask: bit 0 read, bit 1 write, bit 2
// execute. These values are chosen to match golang.org/x/sys/unix's
// PROT_READ/PROT_WRITE/PROT_EXEC numerically, so callers that already
// think in mmap(2) terms can use those constants directly.
type Perm uint8

const (
	PermR Perm = 1 << 0
	PermW Perm = 1 << 1
	PermX Perm = 1 << 2

	PermRWX = PermR | PermW | PermX
	PermRX  = PermR | PermX
)

// Has reports whether every bit in want is set in p.
func (p Perm) Has(want Perm) bool {
	return p&want == want
}

// Metadata is the software-side bridge bundled with every hardware PTE:
// status, software permissions, a COW refcount, and an optional file
// offset reserved for file-backed mappings that no core path currently
// produces.
type Metadata struct {
	Status     Status
	Perm       Perm
	Refcount   int
	FileOffset int64
	HasOffset  bool
}

// Reset returns the entry to its initial Invalid state.
func (m *Metadata) Reset() {
	*m = Metadata{}
}
