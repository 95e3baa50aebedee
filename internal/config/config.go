package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration
type Config struct {
	SMTP    SMTPConfig
	Admin   AdminConfig
	Logging LoggingConfig
	Events  EventsConfig
}

// SMTPConfig holds the mock SMTP listener configuration
type SMTPConfig struct {
	Host                string        `validate:"omitempty,ip|hostname"`
	Port                int           `validate:"min=0,max=65535"`
	Hostname            string        `validate:"required,max=253"`
	ProductName         string        `validate:"required,max=64"`
	BusyGreeting        string        `validate:"omitempty,max=512"`
	MaxLineLength       int           `validate:"min=0"`
	MaxMessageSize      int64         `validate:"min=0"`
	IdleTimeout         time.Duration `validate:"min=0"`
	WriteTimeout        time.Duration `validate:"min=0"`
	MaxConnections      int           `validate:"min=1"`
	MaxConnectionsPerIP int           `validate:"min=1"`
}

// AdminConfig holds the admin HTTP API configuration
type AdminConfig struct {
	Enabled     bool
	Host        string   `validate:"omitempty,ip|hostname"`
	Port        int      `validate:"min=0,max=65535"`
	CORSOrigins []string `validate:"dive,required"`

	// RateLimitPerMinute caps requests per client IP; 0 disables the limiter
	RateLimitPerMinute int `validate:"min=0"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level     string `validate:"oneof=debug info warn warning error"`
	Format    string `validate:"oneof=json text"`
	Output    string `validate:"required"`
	AddSource bool
}

// EventsConfig holds lifecycle event store configuration
type EventsConfig struct {
	BufferSize int `validate:"min=1"`

	// Retention drops recorded events older than this; 0 keeps them until evicted by size
	Retention time.Duration `validate:"min=0"`
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		SMTP: SMTPConfig{
			Host:                getEnv("SMTP_HOST", "0.0.0.0"),
			Port:                getIntEnv("SMTP_PORT", 2525),
			Hostname:            getEnv("SMTP_HOSTNAME", "localhost"),
			ProductName:         getEnv("SMTP_PRODUCT_NAME", "MockSMTP"),
			BusyGreeting:        os.Getenv("SMTP_BUSY_GREETING"),
			MaxLineLength:       getIntEnv("SMTP_MAX_LINE_LENGTH", 64*1024),
			MaxMessageSize:      int64(getIntEnv("SMTP_MAX_MESSAGE_SIZE", 25*1024*1024)),
			IdleTimeout:         getDurationEnv("SMTP_IDLE_TIMEOUT", 0),
			WriteTimeout:        getDurationEnv("SMTP_WRITE_TIMEOUT", 30*time.Second),
			MaxConnections:      getIntEnv("SMTP_MAX_CONNECTIONS", 1000),
			MaxConnectionsPerIP: getIntEnv("SMTP_MAX_CONNECTIONS_PER_IP", 100),
		},
		Admin: AdminConfig{
			Enabled:            getBoolEnv("ADMIN_ENABLED", true),
			Host:               getEnv("ADMIN_HOST", "127.0.0.1"),
			Port:               getIntEnv("ADMIN_PORT", 8025),
			CORSOrigins:        getListEnv("ADMIN_CORS_ORIGINS", []string{"http://localhost:3000"}),
			RateLimitPerMinute: getIntEnv("ADMIN_RATE_LIMIT_PER_MINUTE", 600),
		},
		Logging: LoggingConfig{
			Level:     strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format:    strings.ToLower(getEnv("LOG_FORMAT", "json")),
			Output:    getEnv("LOG_OUTPUT", "stdout"),
			AddSource: getBoolEnv("LOG_ADD_SOURCE", false),
		},
		Events: EventsConfig{
			BufferSize: getIntEnv("EVENTS_BUFFER_SIZE", 1000),
			Retention:  getDurationEnv("EVENTS_RETENTION", time.Hour),
		},
	}
}

// Validate checks the configuration against its struct constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SMTPAddr returns the SMTP listen address in host:port form
func (c *Config) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTP.Host, c.SMTP.Port)
}

// AdminAddr returns the admin HTTP listen address in host:port form
func (c *Config) AdminAddr() string {
	return fmt.Sprintf("%s:%d", c.Admin.Host, c.Admin.Port)
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns an integer environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default.
// Plain integers are read as seconds; Go duration strings are also accepted.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated environment variable
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
