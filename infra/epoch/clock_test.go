package epoch

import (
	"context"
	"testing"
	"time"
)

func TestClockTick(t *testing.T) {
	c := NewClock(0)
	if c.Now() != 0 {
		t.Fatalf("fresh clock at %d, want 0", c.Now())
	}
	if c.Tick() != 1 {
		t.Error("first tick should return 1")
	}
	if c.Now() != 1 {
		t.Error("Now should observe the tick")
	}
}

func TestClockStartNearMax(t *testing.T) {
	start := ^uint64(0) - 4
	c := NewClock(start)
	for i := 0; i < 3; i++ {
		c.Tick()
	}
	if c.Now() != start+3 {
		t.Errorf("clock at %d, want %d", c.Now(), start+3)
	}
}

func TestClockTicker(t *testing.T) {
	c := NewClock(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.StartTicker(ctx, time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for c.Now() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("ticker never advanced the clock")
		}
		time.Sleep(time.Millisecond)
	}
}
