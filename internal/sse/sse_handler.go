package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/welldanyogia/mock-smtp/internal/events"
)

// replayLimit bounds how many missed events a reconnecting client receives
const replayLimit = 1000

// EventSource is the event bus side the stream handler needs
type EventSource interface {
	Subscribe(eventType string, handler events.EventHandler) (unsubscribe func())
	GetEventsSince(sessionID string, lastEventID string, limit int) ([]events.Event, error)
}

// Handler serves GET /api/v1/events/stream.
type Handler struct {
	config      Config
	connManager *ConnectionManager
	source      EventSource
	logger      *slog.Logger
}

// NewHandler creates a new SSE handler.
func NewHandler(config Config, connManager *ConnectionManager, source EventSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:      config,
		connManager: connManager,
		source:      source,
		logger:      logger,
	}
}

// HandleStream streams lifecycle events until the client goes away, the
// stream times out or the manager closes it. The optional session_id query
// parameter restricts the stream to one session; Last-Event-ID replays what
// a reconnecting client missed.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, ErrStreamingNotSupported.Error(), http.StatusInternalServerError)
		return
	}

	conn := NewConnection(uuid.New().String(), r.URL.Query().Get("session_id"), h.config.EventBufferSize)
	if err := h.connManager.AddConnection(conn); err != nil {
		if errors.Is(err, ErrConnectionLimitExceeded) {
			writeUnavailable(w)
			return
		}
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}
	defer h.connManager.RemoveConnection(conn.ID)

	// Streams outlive the admin server's write timeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("Could not clear stream write deadline", slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost
	unsubscribe := h.source.Subscribe(events.AllEvents, func(event events.Event) {
		if conn.Wants(event) && !conn.Enqueue(event) && !conn.IsClosed() {
			h.logger.Warn("Dropping event for slow stream",
				slog.String("stream_id", conn.ID),
				slog.String("event_id", event.ID),
			)
		}
	})
	defer unsubscribe()

	if err := h.writeControl(w, EventTypeConnected, conn); err != nil {
		return
	}
	flusher.Flush()

	replayed := h.replay(w, conn, r.Header.Get("Last-Event-ID"))
	flusher.Flush()

	heartbeat := time.NewTicker(h.config.HeartbeatInterval)
	defer heartbeat.Stop()
	timeout := time.NewTimer(h.config.ConnectionTimeout)
	defer timeout.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case <-conn.done:
			return
		case <-timeout.C:
			return
		case <-heartbeat.C:
			err = h.writeControl(w, EventTypeHeartbeat, conn)
		case event := <-conn.queue:
			if _, dup := replayed[event.ID]; dup {
				continue
			}
			_, err = fmt.Fprint(w, FormatSSEEvent(event))
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
}

// replay writes the events after lastEventID and returns their ids
func (h *Handler) replay(w http.ResponseWriter, conn *Connection, lastEventID string) map[string]struct{} {
	replayed := make(map[string]struct{})
	if lastEventID == "" {
		return replayed
	}

	missed, err := h.source.GetEventsSince(conn.SessionID, lastEventID, replayLimit)
	if err != nil {
		h.logger.Warn("Event replay failed", slog.String("error", err.Error()))
		return replayed
	}
	for _, event := range missed {
		if _, err := fmt.Fprint(w, FormatSSEEvent(event)); err != nil {
			break
		}
		replayed[event.ID] = struct{}{}
	}
	return replayed
}

// writeControl writes a connected or heartbeat frame. These carry no id so
// they never become a client's Last-Event-ID.
func (h *Handler) writeControl(w http.ResponseWriter, eventType string, conn *Connection) error {
	data, err := json.Marshal(map[string]any{
		"stream_id": conn.ID,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}

// writeUnavailable writes a 503 when the stream limit is reached.
func writeUnavailable(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"code":    "TOO_MANY_STREAMS",
			"message": "Too many open event streams",
		},
		"timestamp": time.Now().UTC(),
	})
}

// FormatSSEEvent formats an event as an SSE message.
// Format: event: <type>\ndata: <json>\nid: <id>\n\n
func FormatSSEEvent(event events.Event) string {
	return fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n",
		event.Type,
		string(event.Data),
		event.ID,
	)
}
