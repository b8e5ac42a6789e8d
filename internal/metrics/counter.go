// Package metrics holds the small set of atomic counters the locking
// protocol and the reclaimer maintain about themselves: retry counts, lock
// failures, reclaimed pages. They are not a benchmark harness (that is an
// external collaborator per the core's scope) — just the same kind of
// always-on, nearly-free bookkeeping a kernel keeps about itself.
package metrics

import "sync/atomic"

// Enabled gates whether counters actually accumulate. It exists so the
// bookkeeping can be compiled away by changing one constant, the way a
// kernel guards debug counters behind a build-time flag.
const Enabled = true

// Counter is a monotonically increasing statistic.
type Counter struct {
	n atomic.Int64
}

// Inc increments the counter by one.
func (c *Counter) Inc() {
	if Enabled {
		c.n.Add(1)
	}
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) {
	if Enabled {
		c.n.Add(delta)
	}
}

// Load returns the current value.
func (c *Counter) Load() int64 {
	return c.n.Load()
}
