package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants
const (
	// AllEvents subscribes a handler to every event type
	AllEvents = "*"

	EventTypeSessionStarted    = "session_started"
	EventTypeSessionEnded      = "session_ended"
	EventTypeMessageQueued     = "message_queued"
	EventTypeMessageRejected   = "message_rejected"
	EventTypeRecipientRejected = "recipient_rejected"
)

// SessionStartedEvent is published when a connection is accepted.
type SessionStartedEvent struct {
	RemoteAddr string `json:"remote_addr"`
	Busy       bool   `json:"busy"`
}

// SessionEndedEvent is published once a session has terminated.
type SessionEndedEvent struct {
	Reason   string        `json:"reason"`
	Duration time.Duration `json:"duration_ns"`
}

// MessageQueuedEvent is published when a message body is acknowledged.
type MessageQueuedEvent struct {
	QueueID    string   `json:"queue_id"`
	From       string   `json:"from"`
	Recipients []string `json:"recipients"`
	SizeBytes  int      `json:"size_bytes"`
}

// MessageRejectedEvent is published when a message body fails policy.
type MessageRejectedEvent struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// RecipientRejectedEvent is published when RCPT TO is refused.
type RecipientRejectedEvent struct {
	Recipient string `json:"recipient"`
	Code      int    `json:"code"`
	Reason    string `json:"reason"`
}

// NewEvent wraps a payload into an Event with a fresh id and UTC timestamp.
func NewEvent(eventType, sessionID string, payload any) (Event, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		data = raw
	}
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}
