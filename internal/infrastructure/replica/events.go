package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// EventType identifies a replica notification
type EventType string

const (
	// EventRowsChanged fires after every processed commit reply, successful or not
	EventRowsChanged EventType = "rows_changed"
	// EventReloaded fires after the replica is (re)loaded from a store snapshot
	EventReloaded EventType = "reloaded"
	// EventOffline fires when the store session is lost
	EventOffline EventType = "offline"
)

// RowChange describes one row transition. Old is nil for inserts, New is nil for deletes.
type RowChange struct {
	Table string
	UUID  string
	Old   map[string]any
	New   map[string]any
}

// Event is a replica notification
type Event struct {
	Type      EventType
	Seqno     uint64
	Changes   []RowChange
	Timestamp int64
}

// EventHandler handles a replica event
type EventHandler func(ctx context.Context, ev Event) error

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus delivers replica events to subscribers in subscription order
type EventBus struct {
	handlers map[EventType][]subscription
	nextID   uint64
	mu       sync.RWMutex
}

// NewEventBus creates a new EventBus instance
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]subscription),
	}
}

// Subscribe registers a handler for a specific event type
// Returns an unsubscribe function
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()

		subs := eb.handlers[eventType]
		for i, s := range subs {
			if s.id == id {
				eb.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers an event to every handler of its type. All handlers run even
// if one fails; the failures are joined.
func (eb *EventBus) Publish(ctx context.Context, ev Event) error {
	eb.mu.RLock()
	subs := append([]subscription(nil), eb.handlers[ev.Type]...)
	eb.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixNano()
	}

	var errs []error
	for _, s := range subs {
		if err := s.handler(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("replica event handler error for %s: %w", ev.Type, err))
		}
	}
	return errors.Join(errs...)
}
