package metrics

import (
	"log/slog"
	"sync"
	"time"
)

// RegistrySource exposes the counts sampled by RegistryStatsCollector
type RegistrySource interface {
	SessionCount() int
	GetActiveConnections() int64
}

// RegistryStatsCollector periodically samples the session registry into gauges
type RegistryStatsCollector struct {
	source   RegistrySource
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistryStatsCollector creates a new registry stats collector
func NewRegistryStatsCollector(source RegistrySource, logger *slog.Logger) *RegistryStatsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistryStatsCollector{
		source: source,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting registry statistics at regular intervals
func (c *RegistryStatsCollector) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()

	c.logger.Info("Registry stats collector started", slog.Duration("interval", interval))
}

// Stop stops the collector. Safe to call more than once.
func (c *RegistryStatsCollector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.logger.Info("Registry stats collector stopped")
	})
}

// collect samples the registry and updates Prometheus gauges
func (c *RegistryStatsCollector) collect() {
	SMTPSessionsRegistered.Set(float64(c.source.SessionCount()))
	SMTPConnectionsActive.Set(float64(c.source.GetActiveConnections()))
}
