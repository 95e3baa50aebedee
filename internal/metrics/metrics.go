// Package metrics provides Prometheus metrics for the mock SMTP server and its admin API
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons used as the "reason" label of SMTPRejectionsTotal
const (
	ReasonRelayDenied     = "relay_denied"
	ReasonUserNotFound    = "user_not_found"
	ReasonNoPTR           = "no_ptr"
	ReasonBusy            = "busy"
	ReasonLineTooLong     = "line_too_long"
	ReasonMessageTooLarge = "message_too_large"
	ReasonConnectionLimit = "connection_limit"
	ReasonIdleTimeout     = "idle_timeout"
	ReasonWriteFailed     = "write_failed"
)

var (
	// HTTPRequestsTotal counts total admin HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mocksmtp",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of admin HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures admin HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mocksmtp",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight admin requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mocksmtp",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of admin HTTP requests being processed",
		},
	)
)

var (
	// SMTPConnectionsTotal counts accepted SMTP connections
	SMTPConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mocksmtp",
			Subsystem: "smtp",
			Name:      "connections_total",
			Help:      "Total number of accepted SMTP connections",
		},
	)

	// SMTPConnectionsActive tracks open SMTP connections
	SMTPConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mocksmtp",
			Subsystem: "smtp",
			Name:      "connections_active",
			Help:      "Number of active SMTP connections",
		},
	)

	// SMTPSessionsRegistered tracks sessions present in the registry
	SMTPSessionsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mocksmtp",
			Subsystem: "smtp",
			Name:      "sessions_registered",
			Help:      "Number of sessions currently held by the session registry",
		},
	)

	// SMTPCommandsTotal counts parsed commands by verb
	SMTPCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mocksmtp",
			Subsystem: "smtp",
			Name:      "commands_total",
			Help:      "Total number of SMTP commands received by verb",
		},
		[]string{"command"},
	)

	// SMTPMessagesQueued counts acknowledged message bodies
	SMTPMessagesQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mocksmtp",
			Subsystem: "smtp",
			Name:      "messages_queued_total",
			Help:      "Total number of messages acknowledged with 250 queued",
		},
	)

	// SMTPRejectionsTotal counts injected and protective rejections by reason
	SMTPRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mocksmtp",
			Subsystem: "smtp",
			Name:      "rejections_total",
			Help:      "Total number of rejections by reason",
		},
		[]string{"reason"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

// newResponseWriter creates a new responseWriter
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush forwards to the wrapped writer so streaming responses keep working
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		// Route pattern keeps label cardinality bounded (session ids are random)
		path := getRoutePattern(r)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// getRoutePattern returns the route pattern from chi context.
// Requests that matched no route share a single label.
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
