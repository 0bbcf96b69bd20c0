package core_test

import (
	"context"
	"testing"
	"time"

	. "github.com/solacechain/node/core"
)

func TestSlotAtBoundaries(t *testing.T) {
	genesis := time.Unix(1000, 0)
	c := NewSlotClock(genesis, 10*time.Second)
	cases := []struct {
		t    time.Time
		want uint64
	}{
		{genesis, 0},
		{genesis.Add(9 * time.Second), 0},
		{genesis.Add(10 * time.Second), 1},
		{genesis.Add(25 * time.Second), 2},
	}
	for _, c2 := range cases {
		if got := c.SlotAt(c2.t); got != c2.want {
			t.Fatalf("SlotAt(%v): got %d want %d", c2.t, got, c2.want)
		}
	}
}

func TestSlotAtBeforeGenesisClampsToZero(t *testing.T) {
	genesis := time.Unix(1000, 0)
	c := NewSlotClock(genesis, time.Second)
	if got := c.SlotAt(genesis.Add(-time.Hour)); got != 0 {
		t.Fatalf("expected 0 before genesis, got %d", got)
	}
}

func TestSlotStartInverse(t *testing.T) {
	genesis := time.Unix(2000, 0)
	c := NewSlotClock(genesis, 5*time.Second)
	if got := c.SlotAt(c.SlotStart(7)); got != 7 {
		t.Fatalf("SlotStart/SlotAt round trip: got %d want 7", got)
	}
}

func TestRunEmitsOnBoundaryAndStopsOnCancel(t *testing.T) {
	genesis := time.Now().Add(-10 * time.Millisecond)
	c := NewSlotClock(genesis, 20*time.Millisecond)
	tick := make(chan uint64, 4)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx, tick)

	select {
	case <-tick:
	case <-time.After(time.Second):
		t.Fatalf("expected at least one tick within 1s")
	}
	cancel()
}
