package event

import "sync"

// Queue is the bounded, insertion-ordered event buffer. Backpressure is
// lossy: when an append would exceed the bound, the oldest half is evicted
// in a single truncation and the overflow callback fires exactly once for
// it. Appends never block and the queue never grows past max.
type Queue struct {
	mu         sync.Mutex
	max        int
	events     []Event
	onOverflow func(dropped int)
}

// NewQueue creates a queue holding at most max events. onOverflow may be
// nil; when set it is called once per truncation with the eviction count.
func NewQueue(max int, onOverflow func(dropped int)) *Queue {
	return &Queue{max: max, onOverflow: onOverflow}
}

// Append adds ev, truncating the oldest half first if the queue is full.
func (q *Queue) Append(ev Event) {
	q.mu.Lock()
	var dropped int
	if len(q.events) >= q.max {
		keep := q.events[len(q.events)/2:]
		dropped = len(q.events) - len(keep)
		q.events = append(make([]Event, 0, q.max), keep...)
	}
	q.events = append(q.events, ev)
	cb := q.onOverflow
	q.mu.Unlock()

	if dropped > 0 && cb != nil {
		cb(dropped)
	}
}

// Requeue puts events back at the front of the queue, preserving their
// order ahead of anything captured since. Used for the unsent remainder of
// a split batch; it respects the bound by dropping the oldest overage.
func (q *Queue) Requeue(events []Event) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	merged := append(append(make([]Event, 0, len(events)+len(q.events)), events...), q.events...)
	if len(merged) > q.max {
		merged = merged[len(merged)-q.max:]
	}
	q.events = merged
	q.mu.Unlock()
}

// Snapshot returns a copy of the queued events without clearing them.
func (q *Queue) Snapshot() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, len(q.events))
	copy(out, q.events)
	return out
}

// DrainSnapshot returns a copy of the queued events and clears the queue in
// the same critical section, so no event can appear in two batches and none
// is lost between snapshot and clear.
func (q *Queue) DrainSnapshot() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Cap returns the queue bound.
func (q *Queue) Cap() int { return q.max }
