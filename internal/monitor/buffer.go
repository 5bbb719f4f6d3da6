package monitor

import "sync"

// Buffer retains the most recent events in arrival order, bounded by a fixed
// capacity with oldest-first eviction. It is the single source of history for
// replay to newly connecting dashboard clients; all queries return copies.
type Buffer struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

const defaultBufferCapacity = 1000

// NewBuffer constructs a buffer holding at most capacity events.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = defaultBufferCapacity
	}
	return &Buffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// Append adds the event, evicting from the head when over capacity.
func (b *Buffer) Append(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		overflow := len(b.events) - b.capacity
		b.events = append(b.events[:0], b.events[overflow:]...)
	}
}

// Len returns the number of retained events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Events returns the full retained sequence in arrival order.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Recent returns the last limit events in arrival order.
func (b *Buffer) Recent(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 || limit > len(b.events) {
		limit = len(b.events)
	}
	out := make([]Event, limit)
	copy(out, b.events[len(b.events)-limit:])
	return out
}

// ForRun returns the retained events attributed to runID, in arrival order.
func (b *Buffer) ForRun(runID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Event
	for _, ev := range b.events {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out
}

// ForSession returns the retained events carrying the given session key.
func (b *Buffer) ForSession(sessionKey string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Event
	for _, ev := range b.events {
		if ev.SessionKey == sessionKey {
			out = append(out, ev)
		}
	}
	return out
}
