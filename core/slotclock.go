package core

// slotclock.go implements the Slot Clock (§4.6): maps wall-clock to slot
// numbers and ticks the Chain Controller at each slot boundary. Grounded
// on core/consensus_params.go's tunable interval constants and the
// teacher's goroutine-per-ticker pattern (core/network.go's background
// service loops), generalized from the teacher's fixed 15-minute/1-second
// PoW/PoH intervals to the single configurable slot duration D this spec
// defines.

import (
	"context"
	"time"
)

// SlotClock maps wall-clock time to slot numbers: slot(t) = (t -
// genesisEpoch) / D.
type SlotClock struct {
	genesisEpoch time.Time
	duration     time.Duration
}

// NewSlotClock constructs a clock anchored at genesisEpoch with slot
// duration d.
func NewSlotClock(genesisEpoch time.Time, d time.Duration) *SlotClock {
	return &SlotClock{genesisEpoch: genesisEpoch, duration: d}
}

// SlotAt returns slot(t).
func (c *SlotClock) SlotAt(t time.Time) uint64 {
	d := t.Sub(c.genesisEpoch)
	if d < 0 {
		return 0
	}
	return uint64(d / c.duration)
}

// Now returns slot(time.Now()).
func (c *SlotClock) Now() uint64 { return c.SlotAt(time.Now()) }

// SlotStart returns the wall-clock instant slot s begins.
func (c *SlotClock) SlotStart(s uint64) time.Time {
	return c.genesisEpoch.Add(time.Duration(s) * c.duration)
}

// Duration returns the configured slot duration D.
func (c *SlotClock) Duration() time.Duration { return c.duration }

// Run emits the current slot number on tick for every slot boundary until
// ctx is cancelled, coalescing catch-up: if the goroutine is descheduled
// past one boundary, only the latest slot is sent (§5 "ticks are
// coalesced, only the latest tick matters").
func (c *SlotClock) Run(ctx context.Context, tick chan<- uint64) {
	for {
		now := time.Now()
		cur := c.SlotAt(now)
		next := c.SlotStart(cur + 1)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			select {
			case tick <- c.SlotAt(time.Now()):
			default:
				// Coalesce: drop if the controller hasn't drained the
				// previous tick yet, the next loop iteration will send a
				// newer slot number anyway.
			}
		}
	}
}
