// Package clock wraps github.com/raulk/clock so every suspension point in
// the pipeline — scheduler ticks, retry backoffs, gas-bump retry sleeps —
// takes an injected, mockable notion of time instead of calling time.Now
// and time.Sleep directly.
package clock

import (
	"context"
	"time"

	"github.com/raulk/clock"
)

// Clock is an alias for raulk/clock's full Clock interface.
type Clock = clock.Clock

// New returns the real, wall-clock implementation.
func New() Clock {
	return clock.New()
}

// NewMock returns a mock clock for tests as a *clock.Mock, which satisfies
// Clock and adds Add/Set for deterministic time.
func NewMock() *clock.Mock {
	return clock.NewMock()
}

// Delay sleeps for d on the given clock, or returns ctx.Err() early if ctx
// is cancelled first. This is the one behavior the bare clock.Clock
// interface doesn't give for free, and the reason this package wraps it
// rather than re-exporting the type alone.
func Delay(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := c.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
