package coordinator

import (
	"sort"
	"sync"

	"collabsync/internal/models"
)

// eventBuffer holds collaboration events accumulated while live application
// is paused. Insertion keeps OccurredAt order; when the cap is exceeded the
// oldest events are evicted first.
type eventBuffer struct {
	mu      sync.Mutex
	events  []models.CollaborationEvent
	cap     int
	dropped int64
}

func newEventBuffer(capacity int) *eventBuffer {
	if capacity <= 0 {
		capacity = 512
	}
	return &eventBuffer{cap: capacity}
}

// Append inserts ev at its OccurredAt position.
func (b *eventBuffer) Append(ev models.CollaborationEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := sort.Search(len(b.events), func(i int) bool {
		return b.events[i].OccurredAt.After(ev.OccurredAt)
	})
	b.events = append(b.events, models.CollaborationEvent{})
	copy(b.events[idx+1:], b.events[idx:])
	b.events[idx] = ev

	if len(b.events) > b.cap {
		over := len(b.events) - b.cap
		b.events = append([]models.CollaborationEvent(nil), b.events[over:]...)
		b.dropped += int64(over)
	}
}

// Claim atomically takes the whole buffer and clears it. Events arriving
// after the claim land in the next buffer generation, so a drain can never
// replay an event and also leave it behind.
func (b *eventBuffer) Claim() []models.CollaborationEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.events
	b.events = nil
	return events
}

// Snapshot returns a copy of the buffered events without clearing them.
func (b *eventBuffer) Snapshot() []models.CollaborationEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 {
		return nil
	}
	out := make([]models.CollaborationEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Restore reloads previously spilled events, keeping order and cap.
func (b *eventBuffer) Restore(events []models.CollaborationEvent) {
	for _, ev := range events {
		b.Append(ev)
	}
}

// Len reports the number of buffered events.
func (b *eventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Dropped reports how many events were evicted by the cap.
func (b *eventBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
