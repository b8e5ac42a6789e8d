package addrspace

import (
	"time"

	"cortenmm/frame"
	"cortenmm/pte"
	"cortenmm/rcu"
)

// DefaultLevels is the default page-table depth.
const DefaultLevels = 4

// DefaultRetryBudget is the bounded retry count ScopedLock allows per
// acquisition before reporting failure.
const DefaultRetryBudget = 10

// FrameAllocator is the injected capability an AddrSpace uses to bind
// fresh physical frames. frame.Allocator satisfies it; tests may supply
// their own.
type FrameAllocator interface {
	Allocate() pte.Frame
}

// Config configures a new AddrSpace. Every field has a zero-value-safe
// default filled in by New, the way mem.Physmem and vmm's package-level
// state have fixed defaults that a caller only overrides for tests.
type Config struct {
	// Levels is the number of page-table levels.
	Levels int
	// FrameBase is the first frame number handed out when Frames is nil.
	FrameBase pte.Frame
	// Frames overrides the default monotonic frame allocator.
	Frames FrameAllocator
	// Grace is the RCU grace period detached pages must wait out.
	Grace time.Duration
	// RetryBudget is the bounded retry count R for ScopedLock.
	RetryBudget int
}

func (c Config) withDefaults() Config {
	if c.Levels <= 0 {
		c.Levels = DefaultLevels
	}
	if c.Frames == nil {
		base := c.FrameBase
		if base == 0 {
			base = frame.DefaultBase
		}
		c.Frames = frame.NewAllocator(base)
	}
	if c.Grace <= 0 {
		c.Grace = rcu.DefaultGrace
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = DefaultRetryBudget
	}
	return c
}
