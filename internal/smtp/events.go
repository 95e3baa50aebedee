package smtp

import (
	"github.com/welldanyogia/mock-smtp/internal/events"
)

// EventPublisher defines the interface for publishing session lifecycle events.
// This allows the SMTP server to publish events without knowing the bus implementation.
type EventPublisher interface {
	Publish(event events.Event) error
}

// NoOpEventPublisher is a no-op implementation of EventPublisher
// Used when no event bus is configured
type NoOpEventPublisher struct{}

// Publish does nothing and returns nil
func (p *NoOpEventPublisher) Publish(event events.Event) error {
	return nil
}

// NewNoOpEventPublisher creates a new no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}
