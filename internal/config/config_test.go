package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.SMTP.Port != 2525 {
		t.Errorf("expected default SMTP port 2525, got %d", cfg.SMTP.Port)
	}
	if cfg.SMTP.Hostname != "localhost" {
		t.Errorf("expected default hostname localhost, got %q", cfg.SMTP.Hostname)
	}
	if cfg.SMTP.BusyGreeting != "" {
		t.Errorf("expected busy greeting disabled by default, got %q", cfg.SMTP.BusyGreeting)
	}
	if cfg.SMTP.IdleTimeout != 0 {
		t.Errorf("expected idle timeout disabled by default, got %v", cfg.SMTP.IdleTimeout)
	}
	if cfg.SMTP.WriteTimeout != 30*time.Second {
		t.Errorf("expected 30s write timeout by default, got %v", cfg.SMTP.WriteTimeout)
	}
	if cfg.Admin.RateLimitPerMinute != 600 {
		t.Errorf("expected admin rate limit 600/min, got %d", cfg.Admin.RateLimitPerMinute)
	}
	if cfg.Events.Retention != time.Hour {
		t.Errorf("expected 1h event retention, got %v", cfg.Events.Retention)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should validate: %v", err)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SMTP_PORT", "0")
	t.Setenv("SMTP_BUSY_GREETING", "421 Service busy")
	t.Setenv("SMTP_IDLE_TIMEOUT", "30")
	t.Setenv("SMTP_WRITE_TIMEOUT", "5s")
	t.Setenv("ADMIN_CORS_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := Load()

	if cfg.SMTP.Port != 0 {
		t.Errorf("expected port 0, got %d", cfg.SMTP.Port)
	}
	if cfg.SMTP.BusyGreeting != "421 Service busy" {
		t.Errorf("unexpected busy greeting %q", cfg.SMTP.BusyGreeting)
	}
	if cfg.SMTP.IdleTimeout != 30*time.Second {
		t.Errorf("expected 30s idle timeout, got %v", cfg.SMTP.IdleTimeout)
	}
	if cfg.SMTP.WriteTimeout != 5*time.Second {
		t.Errorf("expected 5s write timeout, got %v", cfg.SMTP.WriteTimeout)
	}
	if len(cfg.Admin.CORSOrigins) != 2 || cfg.Admin.CORSOrigins[1] != "http://b.test" {
		t.Errorf("unexpected CORS origins %v", cfg.Admin.CORSOrigins)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected lower-cased log level, got %q", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("configuration should validate: %v", err)
	}
}

func TestGetDurationEnv_GoSyntax(t *testing.T) {
	t.Setenv("TEST_DURATION", "1m30s")
	if got := getDurationEnv("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}
	t.Setenv("TEST_DURATION", "garbage")
	if got := getDurationEnv("TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("expected fallback 1s, got %v", got)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.SMTP.Port = 70000 }},
		{"missing hostname", func(c *Config) { c.SMTP.Hostname = "" }},
		{"negative line length", func(c *Config) { c.SMTP.MaxLineLength = -1 }},
		{"negative write timeout", func(c *Config) { c.SMTP.WriteTimeout = -time.Second }},
		{"zero max connections", func(c *Config) { c.SMTP.MaxConnections = 0 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero event buffer", func(c *Config) { c.Events.BufferSize = 0 }},
		{"negative admin rate limit", func(c *Config) { c.Admin.RateLimitPerMinute = -1 }},
		{"negative event retention", func(c *Config) { c.Events.Retention = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAddrs(t *testing.T) {
	cfg := Load()
	cfg.SMTP.Host = "127.0.0.1"
	cfg.SMTP.Port = 25
	if got := cfg.SMTPAddr(); got != "127.0.0.1:25" {
		t.Errorf("unexpected SMTP addr %q", got)
	}
	if got := cfg.AdminAddr(); got != "127.0.0.1:8025" {
		t.Errorf("unexpected admin addr %q", got)
	}
}
