// Package clock provides the fixed-rate frame source that drives every
// other component once per tick.
package clock

import (
	"context"
	"sync/atomic"
	"time"

	"crateclash/internal/sim"
)

// DefaultPeriod is the nominal tick period (60 frames per second).
const DefaultPeriod = time.Second / 60

// TickFunc runs once per tick with the new frame. Returning an error stops Run.
type TickFunc func(frame sim.Frame) error

// Clock produces a strictly increasing frame number. Each tick advances the
// frame by exactly one regardless of wall-clock jitter; late ticks are
// neither skipped nor doubled.
type Clock struct {
	period time.Duration
	frame  atomic.Int64
}

func New(period time.Duration) *Clock {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Clock{period: period}
}

func (c *Clock) Period() time.Duration { return c.period }

// Frame is safe to read from any goroutine.
func (c *Clock) Frame() sim.Frame { return sim.Frame(c.frame.Load()) }

// Tick advances one frame and returns it.
func (c *Clock) Tick() sim.Frame { return sim.Frame(c.frame.Add(1)) }

// Rebase moves the frame counter. Only calibration should call it.
func (c *Clock) Rebase(frame sim.Frame) { c.frame.Store(int64(frame)) }

// FramesIn converts a duration into a fractional frame count.
func (c *Clock) FramesIn(d time.Duration) float64 {
	return float64(d) / float64(c.period)
}

// Run ticks at the configured period until ctx is cancelled or fn fails.
func (c *Clock) Run(ctx context.Context, fn TickFunc) error {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame := c.Tick()
			if fn == nil {
				continue
			}
			if err := fn(frame); err != nil {
				return err
			}
		}
	}
}
