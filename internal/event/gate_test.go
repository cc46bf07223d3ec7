package event

import (
	"testing"
	"time"

	"github.com/tracewell/recorder/internal/clock"
)

func TestThrottleAdmitsOncePerInterval(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	g := NewGate(clk, nil)

	admitted := 0
	for i := 0; i < 10; i++ {
		if g.Admit(Event{Type: "scroll"}) {
			admitted++
		}
		clk.Advance(100 * time.Millisecond)
	}
	// All 10 offers land within the first interval: only the first passes.
	if admitted != 1 {
		t.Errorf("admitted = %d within one interval, want 1", admitted)
	}

	clk.Advance(throttleInterval)
	if !g.Admit(Event{Type: "scroll"}) {
		t.Error("not admitted after interval elapsed")
	}
}

func TestThrottleIsPerType(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	g := NewGate(clk, nil)

	if !g.Admit(Event{Type: "scroll"}) {
		t.Fatal("first scroll rejected")
	}
	if !g.Admit(Event{Type: "mousemove"}) {
		t.Error("first mousemove rejected; throttle state leaked across types")
	}
}

func TestDebounceCoalescesToLastOccurrence(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	var delivered []Event
	g := NewGate(clk, func(ev Event) { delivered = append(delivered, ev) })

	for i := 0; i < 5; i++ {
		if g.Admit(Event{Type: "input", Data: map[string]any{"n": i}}) {
			t.Fatal("debounced event admitted synchronously")
		}
		clk.Advance(50 * time.Millisecond)
	}
	if len(delivered) != 0 {
		t.Fatalf("delivered %d events before the window closed", len(delivered))
	}

	clk.Advance(debounceWindow)
	if len(delivered) != 1 {
		t.Fatalf("delivered %d events, want 1 coalesced", len(delivered))
	}
	if delivered[0].Data["n"] != 4 {
		t.Errorf("delivered occurrence n=%v, want the last (4)", delivered[0].Data["n"])
	}
}

func TestDiscreteTypesPassThrough(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	g := NewGate(clk, nil)

	for i := 0; i < 3; i++ {
		if !g.Admit(Event{Type: "click"}) {
			t.Fatal("click rejected; discrete types must pass through")
		}
	}
}

func TestClosedGateRejectsAndCancelsPending(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	var delivered []Event
	g := NewGate(clk, func(ev Event) { delivered = append(delivered, ev) })

	g.Admit(Event{Type: "input"})
	g.Close()
	clk.Advance(time.Second)

	if len(delivered) != 0 {
		t.Errorf("closed gate delivered %d pending events", len(delivered))
	}
	if g.Admit(Event{Type: "click"}) {
		t.Error("closed gate admitted an event")
	}
}
