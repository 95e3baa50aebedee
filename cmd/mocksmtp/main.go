package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/welldanyogia/mock-smtp/internal/api"
	"github.com/welldanyogia/mock-smtp/internal/config"
	"github.com/welldanyogia/mock-smtp/internal/events"
	"github.com/welldanyogia/mock-smtp/internal/health"
	"github.com/welldanyogia/mock-smtp/internal/logger"
	"github.com/welldanyogia/mock-smtp/internal/metrics"
	"github.com/welldanyogia/mock-smtp/internal/middleware"
	"github.com/welldanyogia/mock-smtp/internal/smtp"
	"github.com/welldanyogia/mock-smtp/internal/sse"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize structured JSON logger
	appLogger := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(appLogger)

	if err := cfg.Validate(); err != nil {
		appLogger.Error("Invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appLogger.Info("Starting mock SMTP server",
		slog.String("version", version),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("smtp_addr", cfg.SMTPAddr()),
		slog.String("hostname", cfg.SMTP.Hostname),
		slog.Bool("busy_mode", cfg.SMTP.BusyGreeting != ""),
	)

	// Lifecycle events are kept in memory for the admin API
	eventStore := events.NewEventStore(cfg.Events.BufferSize)
	eventBus := events.NewEventBus(eventStore)

	smtpServer := smtp.NewSMTPServer(smtpConfig(cfg),
		smtp.WithLogger(appLogger),
		smtp.WithEventPublisher(eventBus),
	)
	if err := smtpServer.Start(context.Background()); err != nil {
		appLogger.Error("Failed to start SMTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	statsCollector := metrics.NewRegistryStatsCollector(smtpServer, appLogger)
	statsCollector.Start(15 * time.Second)

	stopSweep := startEventSweep(eventStore, cfg.Events.Retention, appLogger)

	healthHandler := health.NewHandler(health.Config{
		SMTPServer: smtpServer,
		Version:    version,
	})

	var adminServer *http.Server
	var rateLimiter *middleware.RateLimiter
	streamConfig := sse.DefaultConfig()
	streams := sse.NewConnectionManager(streamConfig)
	if cfg.Admin.Enabled {
		if cfg.Admin.RateLimitPerMinute > 0 {
			rateLimiter = middleware.NewRateLimiter(cfg.Admin.RateLimitPerMinute, time.Minute)
		}
		adminServer = &http.Server{
			Addr: cfg.AdminAddr(),
			Handler: api.NewRouter(api.RouterConfig{
				Handler:     api.NewHandler(smtpServer, eventBus, 2*time.Second, appLogger),
				Health:      healthHandler,
				Stream:      sse.NewHandler(streamConfig, streams, eventBus, appLogger),
				CORSOrigins: cfg.Admin.CORSOrigins,
				RateLimiter: rateLimiter,
				Logger:      appLogger,
			}),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			appLogger.Info("Admin API listening", slog.String("addr", adminServer.Addr))
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error("Admin API failed", slog.String("error", err.Error()))
				os.Exit(1)
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if adminServer != nil {
		streams.CloseAll()
		if err := adminServer.Shutdown(ctx); err != nil {
			appLogger.Error("Admin API forced to shutdown", slog.String("error", err.Error()))
		}
	}
	if rateLimiter != nil {
		rateLimiter.Stop()
	}
	stopSweep()
	statsCollector.Stop()

	if err := smtpServer.Stop(ctx); err != nil {
		appLogger.Error("Error stopping SMTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appLogger.Info("Server exited")
}

// smtpConfig maps the environment configuration onto the SMTP server
func smtpConfig(cfg *config.Config) *smtp.SMTPConfig {
	return &smtp.SMTPConfig{
		Addr:                cfg.SMTPAddr(),
		Hostname:            cfg.SMTP.Hostname,
		ProductName:         cfg.SMTP.ProductName,
		BusyGreeting:        cfg.SMTP.BusyGreeting,
		MaxLineLength:       cfg.SMTP.MaxLineLength,
		MaxMessageSize:      cfg.SMTP.MaxMessageSize,
		IdleTimeout:         cfg.SMTP.IdleTimeout,
		WriteTimeout:        cfg.SMTP.WriteTimeout,
		MaxConnections:      cfg.SMTP.MaxConnections,
		MaxConnectionsPerIP: cfg.SMTP.MaxConnectionsPerIP,
	}
}

// startEventSweep drops recorded events older than retention. The returned
// func stops the sweep.
func startEventSweep(store *events.InMemoryEventStore, retention time.Duration, log *slog.Logger) func() {
	if retention <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(retention / 4)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := store.Cleanup(retention); err != nil {
					log.Warn("Event cleanup failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
	return func() { close(done) }
}
