package event

import (
	"sync"
	"time"

	"github.com/tracewell/recorder/internal/clock"
)

// Volume-control intervals for high-frequency event types.
const (
	throttleInterval = time.Second
	debounceWindow   = 300 * time.Millisecond
)

// throttledTypes are continuous signals capped at one accept per
// throttleInterval; excess occurrences are discarded.
var throttledTypes = map[string]bool{
	"mousemove":   true,
	"pointermove": true,
	"scroll":      true,
	"touchmove":   true,
	"wheel":       true,
}

// debouncedTypes are discrete signals that arrive in bursts; a burst is
// coalesced to its last occurrence within debounceWindow.
var debouncedTypes = map[string]bool{
	"input":  true,
	"resize": true,
}

// Gate applies per-type throttling and debouncing before events reach the
// queue. Throttled events are admitted or discarded synchronously;
// debounced events are delivered later through the deliver callback.
type Gate struct {
	mu       sync.Mutex
	clk      clock.Clock
	deliver  func(Event)
	lastPass map[string]time.Time
	pending  map[string]*pendingEvent
	closed   bool
}

type pendingEvent struct {
	last  Event
	timer clock.Timer
}

// NewGate creates a gate delivering debounced events through deliver.
func NewGate(clk clock.Clock, deliver func(Event)) *Gate {
	return &Gate{
		clk:      clk,
		deliver:  deliver,
		lastPass: make(map[string]time.Time),
		pending:  make(map[string]*pendingEvent),
	}
}

// Admit reports whether ev should be queued now. Debounced types always
// return false; their last occurrence arrives via the deliver callback once
// the burst window closes.
func (g *Gate) Admit(ev Event) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}

	if throttledTypes[ev.Type] {
		now := g.clk.Now()
		if last, ok := g.lastPass[ev.Type]; ok && now.Sub(last) < throttleInterval {
			return false
		}
		g.lastPass[ev.Type] = now
		return true
	}

	if debouncedTypes[ev.Type] {
		if p, ok := g.pending[ev.Type]; ok {
			p.last = ev
			p.timer.Reset(debounceWindow)
			return false
		}
		p := &pendingEvent{last: ev}
		typ := ev.Type
		p.timer = g.clk.AfterFunc(debounceWindow, func() { g.fire(typ) })
		g.pending[typ] = p
		return false
	}

	return true
}

// fire delivers the coalesced occurrence for typ.
func (g *Gate) fire(typ string) {
	g.mu.Lock()
	p, ok := g.pending[typ]
	if ok {
		delete(g.pending, typ)
	}
	closed := g.closed
	g.mu.Unlock()
	if ok && !closed {
		g.deliver(p.last)
	}
}

// Close cancels pending debounce timers; further Admit calls reject.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for typ, p := range g.pending {
		p.timer.Stop()
		delete(g.pending, typ)
	}
}
