package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresInOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var order []int
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	c.AfterFunc(time.Second, func() { order = append(order, 1) })
	stopped := c.AfterFunc(time.Second, func() { order = append(order, 99) })
	if !stopped.Stop() {
		t.Fatalf("stop should succeed on a pending timer")
	}

	c.Advance(500 * time.Millisecond)
	if len(order) != 0 {
		t.Fatalf("nothing is due yet")
	}
	c.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected order %v", order)
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending timers")
	}
	if stopped.Stop() {
		t.Fatalf("second stop should report false")
	}
}
