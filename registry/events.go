package registry

import (
	"log/slog"
	"sync"
	"time"
)

// EventType identifies a registry notification.
type EventType string

const (
	EventComponentRegistered   EventType = "componentRegistered"
	EventComponentUnregistered EventType = "componentUnregistered"
	EventComponentUpdated      EventType = "componentUpdated"
	EventComponentRolledBack   EventType = "componentRolledBack"
	EventSnapshotCreated       EventType = "snapshotCreated"
	EventSnapshotRestored      EventType = "snapshotRestored"
)

// Event is a typed registry notification. Component is a sanitized copy and
// safe to retain.
type Event struct {
	Type        EventType  `json:"type"`
	ComponentID string     `json:"component_id,omitempty"`
	SnapshotID  string     `json:"snapshot_id,omitempty"`
	Component   *Component `json:"component,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// eventBus fans registry events out to subscribers over bounded channels.
// A slow subscriber loses its oldest pending event rather than blocking a
// registry mutation.
type eventBus struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	bufSize int
	logger  *slog.Logger
}

func newEventBus(bufSize int, logger *slog.Logger) *eventBus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &eventBus{
		subs:    make(map[int]chan Event),
		bufSize: bufSize,
		logger:  logger,
	}
}

// subscribe registers a new subscriber and returns its channel plus a cancel
// function. The channel is closed on cancel.
func (b *eventBus) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufSize)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// publish delivers ev to every subscriber. Delivery never blocks: when a
// subscriber's buffer is full the oldest pending event is dropped first.
func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			select {
			case old := <-ch:
				b.logger.Warn("event subscriber lagging, dropped oldest event",
					"subscriber", id,
					"dropped_type", string(old.Type))
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
