// Package health provides liveness, readiness and health endpoints for the
// mock SMTP server.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/welldanyogia/mock-smtp/internal/smtp"
)

// ServiceStatus represents the status of a single component
type ServiceStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the structured health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	SMTP      *smtp.HealthStatus       `json:"smtp,omitempty"`
	Version   string                   `json:"version,omitempty"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Ready     bool   `json:"ready"`
	Timestamp string `json:"timestamp"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Alive     bool   `json:"alive"`
	Timestamp string `json:"timestamp"`
}

// SMTPChecker is the part of the SMTP server the health endpoints need
type SMTPChecker interface {
	HealthCheck() smtp.HealthStatus
	PerformEHLOCheck(ctx context.Context) error
	Ready() <-chan struct{}
}

// Handler handles health check requests
type Handler struct {
	smtpServer SMTPChecker
	version    string
	timeout    time.Duration
	ready      bool
	mu         sync.RWMutex
}

// Config holds health handler configuration
type Config struct {
	SMTPServer SMTPChecker
	Version    string
	Timeout    time.Duration // Default: 5 seconds
}

// NewHandler creates a new health check handler
func NewHandler(cfg Config) *Handler {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Handler{
		smtpServer: cfg.SMTPServer,
		version:    cfg.Version,
		timeout:    timeout,
		ready:      true,
	}
}

// SetReady sets the readiness state of the service. Shutdown clears it so
// load balancers stop routing before the listener goes away.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady reports whether the handler is marked ready and the SMTP listener is bound
func (h *Handler) IsReady() bool {
	h.mu.RLock()
	ready := h.ready
	h.mu.RUnlock()

	if !ready || h.smtpServer == nil {
		return false
	}
	select {
	case <-h.smtpServer.Ready():
		return true
	default:
		return false
	}
}

// Health reports listener state and runs an EHLO probe against it
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  make(map[string]ServiceStatus),
		Version:   h.version,
	}

	if h.smtpServer == nil {
		response.Status = "unhealthy"
		response.Services["smtp"] = ServiceStatus{Status: "down", Error: "SMTP server not configured"}
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	status := h.smtpServer.HealthCheck()
	response.SMTP = &status

	if !status.Running {
		response.Status = "unhealthy"
		response.Services["smtp"] = ServiceStatus{Status: "down", Error: smtp.ErrServerNotRunning.Error()}
	} else {
		response.Services["smtp"] = ServiceStatus{Status: "up"}
		ehlo := h.checkEHLO(ctx, status)
		response.Services["ehlo"] = ehlo
		if ehlo.Status == "down" {
			response.Status = "degraded"
		}
	}

	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

// checkEHLO probes the listener. Busy mode refuses every client on purpose,
// so the probe is skipped there.
func (h *Handler) checkEHLO(ctx context.Context, status smtp.HealthStatus) ServiceStatus {
	if status.BusyMode {
		return ServiceStatus{Status: "skipped"}
	}

	start := time.Now()
	err := h.smtpServer.PerformEHLOCheck(ctx)
	latency := time.Since(start)

	if err != nil {
		return ServiceStatus{
			Status:  "down",
			Latency: latency.String(),
			Error:   err.Error(),
		}
	}
	return ServiceStatus{
		Status:  "up",
		Latency: latency.String(),
	}
}

// Readiness handles the readiness probe endpoint
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()
	response := ReadinessResponse{
		Ready:     ready,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

// Liveness handles the liveness probe endpoint
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Alive:     true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
