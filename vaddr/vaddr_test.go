package vaddr

import "testing"

func TestSplitJoinRoundTrip(t *testing.T) {
	specs := []struct {
		addr   uintptr
		levels int
	}{
		{0x0, 4},
		{0x1000, 4},
		{0x50000, 4},
		{0xDEAD000, 4},
		{MaxAddress(4), 4},
		{0x123456789, 4},
	}

	for specIndex, spec := range specs {
		idx := Split(spec.addr, spec.levels)
		if len(idx) != spec.levels {
			t.Fatalf("[spec %d] expected %d indices, got %d", specIndex, spec.levels, len(idx))
		}
		got := Join(idx, spec.addr&PageOffsetMask)
		want := spec.addr
		if got != want {
			t.Errorf("[spec %d] round trip mismatch: split(%#x)=%v join=%#x want %#x", specIndex, spec.addr, idx, got, want)
		}
	}
}

func TestSplitHighestLevelFirst(t *testing.T) {
	// Two addresses that differ only in their top-level index must
	// disagree in idx[0] and agree everywhere else.
	a := Split(0x000000000000, 4)
	b := Split(0x008000000000, 4)
	if a[0] == b[0] {
		t.Fatalf("expected top-level indices to differ: %v vs %v", a, b)
	}
	for l := 1; l < 4; l++ {
		if a[l] != b[l] {
			t.Errorf("expected level %d indices to match: %v vs %v", l, a, b)
		}
	}
}

func TestPageAlign(t *testing.T) {
	specs := []struct {
		start, length uintptr
		wantS, wantE  uintptr
	}{
		{0x1000, 0x1000, 0x1000, 0x2000},
		{0x1001, 0x1000, 0x1000, 0x3000},
		{0x0, 0x1, 0x0, 0x1000},
		{0x500, 0x0, 0x0, 0x1000},
	}
	for specIndex, spec := range specs {
		s, e := PageAlign(spec.start, spec.length)
		if s != spec.wantS || e != spec.wantE {
			t.Errorf("[spec %d] PageAlign(%#x,%#x) = (%#x,%#x), want (%#x,%#x)",
				specIndex, spec.start, spec.length, s, e, spec.wantS, spec.wantE)
		}
	}
}

func TestAlignDownUpIdempotent(t *testing.T) {
	for _, v := range []uintptr{0, 1, 4095, 4096, 4097, 0xFFFFFFFF} {
		d := AlignDown(v)
		if AlignDown(d) != d {
			t.Errorf("AlignDown(%#x) not idempotent", v)
		}
		u := AlignUp(v)
		if AlignUp(u) != u {
			t.Errorf("AlignUp(%#x) not idempotent", v)
		}
		if d%PageSize != 0 || u%PageSize != 0 {
			t.Errorf("alignment not page-sized for %#x: down=%#x up=%#x", v, d, u)
		}
	}
}
