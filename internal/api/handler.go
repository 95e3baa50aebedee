package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/welldanyogia/mock-smtp/internal/events"
	"github.com/welldanyogia/mock-smtp/internal/logger"
	"github.com/welldanyogia/mock-smtp/internal/smtp"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// SessionRegistry is the read side of the SMTP server used by the admin API
type SessionRegistry interface {
	Sessions() []smtp.SessionInfo
	GetRecipients(ctx context.Context, sessionID string) ([]string, error)
}

// EventSource replays recorded session lifecycle events
type EventSource interface {
	GetEventsSince(sessionID string, lastEventID string, limit int) ([]events.Event, error)
}

// SessionsResponse is the payload of GET /sessions
type SessionsResponse struct {
	Sessions []smtp.SessionInfo `json:"sessions"`
	Count    int                `json:"count"`
}

// RecipientsResponse is the payload of GET /sessions/{id}/recipients
type RecipientsResponse struct {
	SessionID  string   `json:"session_id"`
	Recipients []string `json:"recipients"`
}

// EventsResponse is the payload of GET /events
type EventsResponse struct {
	Events []events.Event `json:"events"`
}

// Handler serves the admin API
type Handler struct {
	registry     SessionRegistry
	events       EventSource
	queryTimeout time.Duration
	logger       *slog.Logger
}

// NewHandler creates a new Handler. queryTimeout bounds how long a recipient
// query waits on a busy session; zero means two seconds.
func NewHandler(registry SessionRegistry, eventSource EventSource, queryTimeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if queryTimeout <= 0 {
		queryTimeout = 2 * time.Second
	}
	return &Handler{
		registry:     registry,
		events:       eventSource,
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// ListSessions handles GET /api/v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.Sessions()
	writeSuccess(w, http.StatusOK, SessionsResponse{
		Sessions: sessions,
		Count:    len(sessions),
	})
}

// GetRecipients handles GET /api/v1/sessions/{id}/recipients
func (h *Handler) GetRecipients(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	recipients, err := h.registry.GetRecipients(ctx, sessionID)
	switch {
	case err == nil:
		writeSuccess(w, http.StatusOK, RecipientsResponse{
			SessionID:  sessionID,
			Recipients: recipients,
		})
	case errors.Is(err, smtp.ErrSessionNotFound):
		writeErrorWithData(w, http.StatusNotFound, CodeSessionNotFound, "Session not found", nil,
			RecipientsResponse{SessionID: sessionID, Recipients: []string{}})
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, CodeTimeout, "Session did not answer in time", nil)
	default:
		logger.WithCorrelationID(r.Context(), h.logger).Error("Recipient query failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to query recipients", nil)
	}
}

// ListEvents handles GET /api/v1/events?since=&session_id=&limit=
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := defaultEventLimit
	if limitStr := query.Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 || n > maxEventLimit {
			writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid query parameters",
				map[string][]string{"limit": {"must be an integer between 1 and 1000"}})
			return
		}
		limit = n
	}

	list, err := h.events.GetEventsSince(query.Get("session_id"), query.Get("since"), limit)
	if err != nil {
		logger.WithCorrelationID(r.Context(), h.logger).Error("Failed to read events", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to read events", nil)
		return
	}

	writeSuccess(w, http.StatusOK, EventsResponse{Events: list})
}
