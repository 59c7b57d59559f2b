// Package epoch provides the global epoch clock and the per-thread
// reservation table. Together they answer the only question the
// reclamation engines ask: "which retire epochs are still protected
// by a reader somewhere?"
package epoch

import (
	"context"
	"sync/atomic"
	"time"
)

// Clock is a process-wide monotone counter. Overflow at 64 bits is
// ignored.
type Clock struct {
	e atomic.Uint64
}

// NewClock returns a clock starting at the given epoch. Starting near
// the top of the range is legal and used by tests.
func NewClock(start uint64) *Clock {
	c := &Clock{}
	c.e.Store(start)
	return c
}

// Now returns the current epoch.
func (c *Clock) Now() uint64 {
	return c.e.Load()
}

// Tick advances the epoch and returns the new value.
func (c *Clock) Tick() uint64 {
	return c.e.Add(1)
}

// StartTicker advances the clock on a coarse interval until ctx is
// cancelled. The engines also tick opportunistically, so the ticker is
// a liveness backstop, not the primary driver.
func (c *Clock) StartTicker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Tick()
			}
		}
	}()
}
