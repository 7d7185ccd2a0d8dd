// Package event provides a synchronous pub-sub bus used to expose queue
// and run state changes to observers without ambient global lookups.
package event

import (
	"log"
	"runtime/debug"
	"sync"
)

// Handler receives published events
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus is a synchronous in-process event bus. Handlers run on the
// publisher's goroutine; a panicking handler is recovered and logged so
// it cannot block delivery to the rest.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID int
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers a handler for one event type and returns an id
// usable with Unsubscribe
func (b *Bus) Subscribe(eventType string, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[eventType] = append(b.subs[eventType], subscription{id: b.nextID, handler: handler})
	return b.nextID
}

// SubscribeAll registers a handler for every event type
func (b *Bus) SubscribeAll(handler Handler) int {
	return b.Subscribe("*", handler)
}

// Unsubscribe removes a subscription by id
func (b *Bus) Unsubscribe(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subs {
		for i, sub := range subs {
			if sub.id == id {
				b.subs[eventType] = append(subs[:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish delivers an event to type-specific handlers, then wildcard
// handlers, in registration order
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	specific := make([]subscription, len(b.subs[e.EventType()]))
	copy(specific, b.subs[e.EventType()])
	wildcard := make([]subscription, len(b.subs["*"]))
	copy(wildcard, b.subs["*"])
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, e)
	}
	for _, sub := range wildcard {
		b.safeCall(sub.handler, e)
	}
}

func (b *Bus) safeCall(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("event handler panicked for %s: %v\n%s", e.EventType(), r, debug.Stack())
		}
	}()
	handler(e)
}
