// Package sse streams session lifecycle events to admin clients as
// Server-Sent Events.
package sse

import (
	"sync"
	"time"

	"github.com/welldanyogia/mock-smtp/internal/events"
)

// Stream-only event types; they never pass through the event bus
const (
	EventTypeConnected = "connected"
	EventTypeHeartbeat = "heartbeat"
)

// Config holds SSE server configuration.
type Config struct {
	HeartbeatInterval time.Duration // Default: 30 seconds
	ConnectionTimeout time.Duration // Default: 1 hour
	MaxConnections    int           // Default: 100
	EventBufferSize   int           // Default: 100 queued events per stream
}

// DefaultConfig returns the default SSE configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		ConnectionTimeout: 1 * time.Hour,
		MaxConnections:    100,
		EventBufferSize:   100,
	}
}

// Connection is one open event stream. Events reach it through a bounded
// queue so a slow client never blocks the publishing session.
type Connection struct {
	ID        string
	SessionID string // empty streams every session
	CreatedAt time.Time

	queue     chan events.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection creates a stream connection with room for bufferSize queued events.
func NewConnection(id, sessionID string, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Connection{
		ID:        id,
		SessionID: sessionID,
		CreatedAt: time.Now(),
		queue:     make(chan events.Event, bufferSize),
		done:      make(chan struct{}),
	}
}

// Wants reports whether the event matches this stream's session filter.
func (c *Connection) Wants(event events.Event) bool {
	return c.SessionID == "" || c.SessionID == event.SessionID
}

// Enqueue queues an event without blocking. Returns false when the queue is
// full or the connection is closed.
func (c *Connection) Enqueue(event events.Event) bool {
	if c.IsClosed() {
		return false
	}
	select {
	case c.queue <- event:
		return true
	default:
		return false
	}
}

// Close closes the connection.
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// IsClosed returns true if the connection is closed.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
