package events

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// InMemoryEventBus implements EventBus with synchronous in-process delivery.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]EventHandler // eventType -> subscriptionID -> handler
	store       EventStore
}

// NewEventBus creates a new InMemoryEventBus with the given event store.
func NewEventBus(store EventStore) *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string]map[string]EventHandler),
		store:       store,
	}
}

// Publish sends an event to all subscribers of its type and to wildcard
// subscribers. It also stores the event for replay if a store is configured.
func (eb *InMemoryEventBus) Publish(event Event) error {
	if event.SessionID == "" {
		return fmt.Errorf("event must have a SessionID")
	}
	if event.Type == "" || event.Type == AllEvents {
		return fmt.Errorf("event must have a concrete Type")
	}

	if eb.store != nil {
		if err := eb.store.Store(event); err != nil {
			return fmt.Errorf("failed to store event: %w", err)
		}
	}

	eb.mu.RLock()
	handlersCopy := make([]EventHandler, 0, len(eb.subscribers[event.Type])+len(eb.subscribers[AllEvents]))
	for _, handler := range eb.subscribers[event.Type] {
		handlersCopy = append(handlersCopy, handler)
	}
	for _, handler := range eb.subscribers[AllEvents] {
		handlersCopy = append(handlersCopy, handler)
	}
	eb.mu.RUnlock()

	// Deliver outside the lock so handlers may publish or unsubscribe
	for _, handler := range handlersCopy {
		handler(event)
	}

	return nil
}

// Subscribe registers a handler for events of a given type.
// Returns an unsubscribe function that removes the subscription.
func (eb *InMemoryEventBus) Subscribe(eventType string, handler EventHandler) (unsubscribe func()) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.subscribers[eventType] == nil {
		eb.subscribers[eventType] = make(map[string]EventHandler)
	}

	subscriptionID := uuid.New().String()
	eb.subscribers[eventType][subscriptionID] = handler

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()

		if handlers, exists := eb.subscribers[eventType]; exists {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(eb.subscribers, eventType)
			}
		}
	}
}

// GetEventsSince returns events after the given event ID for replay.
// Returns empty slice if no store is configured or no events found.
func (eb *InMemoryEventBus) GetEventsSince(sessionID string, lastEventID string, limit int) ([]Event, error) {
	if eb.store == nil {
		return []Event{}, nil
	}
	return eb.store.GetSince(sessionID, lastEventID, limit)
}

// SubscriberCount returns the number of subscribers for an event type.
func (eb *InMemoryEventBus) SubscriberCount(eventType string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers[eventType])
}
