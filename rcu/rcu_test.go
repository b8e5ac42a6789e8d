package rcu

import (
	"testing"
	"time"

	"cortenmm/pgtable"
)

func TestDeferFreeMarksStale(t *testing.T) {
	r := New(time.Millisecond)
	p := pgtable.New(0)
	if p.IsStale() {
		t.Fatalf("fresh page should not be stale")
	}
	r.DeferFree(p)
	if !p.IsStale() {
		t.Fatalf("DeferFree must mark the page stale immediately")
	}
	if r.Pending() != 1 {
		t.Fatalf("expected 1 pending page, got %d", r.Pending())
	}
}

func TestTryReclaimRespectsGracePeriod(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }

	r := New(time.Millisecond)
	r.SetClock(clock)
	r.DeferFree(pgtable.New(0))

	if n := r.TryReclaim(); n != 0 {
		t.Fatalf("expected nothing reclaimable before the grace period elapses, reclaimed %d", n)
	}

	now = now.Add(2 * time.Millisecond)
	if n := r.TryReclaim(); n != 1 {
		t.Fatalf("expected 1 page reclaimed after the grace period, got %d", n)
	}
	if r.Pending() != 0 {
		t.Fatalf("expected 0 pending after reclaim, got %d", r.Pending())
	}
}

func TestTryReclaimPreservesArrivalOrder(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	r := New(time.Millisecond)
	r.SetClock(clock)

	for i := 0; i < 5; i++ {
		r.DeferFree(pgtable.New(0))
		now = now.Add(time.Microsecond)
	}
	now = now.Add(2 * time.Millisecond)
	if n := r.TryReclaim(); n != 5 {
		t.Fatalf("expected all 5 pages reclaimed, got %d", n)
	}
}

func TestTryReclaimPartialDrain(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	r := New(time.Millisecond)
	r.SetClock(clock)

	r.DeferFree(pgtable.New(0))
	now = now.Add(2 * time.Millisecond)
	r.DeferFree(pgtable.New(0)) // enqueued later, deadline is now+1ms, i.e. 3ms

	if n := r.TryReclaim(); n != 1 {
		t.Fatalf("expected exactly 1 reclaimable entry, got %d", n)
	}
	if r.Pending() != 1 {
		t.Fatalf("expected 1 page still pending, got %d", r.Pending())
	}
}
