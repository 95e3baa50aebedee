package sse

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the event stream route with the Chi router.
func RegisterRoutes(r chi.Router, handler *Handler) {
	// GET /api/v1/events/stream - live lifecycle events
	r.Get("/events/stream", handler.HandleStream)
}
