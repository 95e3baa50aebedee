// Package events provides the session lifecycle event bus and replay store.
package events

import (
	"encoding/json"
	"time"
)

// Event represents a session lifecycle notification.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventHandler is a function that handles incoming events.
type EventHandler func(event Event)

// EventBus defines the interface for publishing and subscribing to events.
type EventBus interface {
	// Publish delivers an event to every subscriber of its type.
	Publish(event Event) error
	// Subscribe registers a handler for one event type, or every type when
	// eventType is AllEvents. Returns an unsubscribe function.
	Subscribe(eventType string, handler EventHandler) (unsubscribe func())
	// GetEventsSince returns events after the given event ID for replay.
	GetEventsSince(sessionID string, lastEventID string, limit int) ([]Event, error)
}

// EventStore defines the interface for storing and retrieving events.
type EventStore interface {
	// Store saves an event for later replay.
	Store(event Event) error
	// GetSince returns events after the given event ID. An empty sessionID
	// matches every session.
	GetSince(sessionID string, eventID string, limit int) ([]Event, error)
	// Cleanup removes events older than the given duration.
	Cleanup(olderThan time.Duration) error
}
