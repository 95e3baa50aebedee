package smtp

import (
	"time"
)

// SMTPConfig holds mock SMTP server configuration
type SMTPConfig struct {
	// Addr is the host:port to listen on; port 0 picks an ephemeral port
	Addr string

	// Hostname is announced in the greeting and the EHLO reply
	Hostname string

	// ProductName is announced in the greeting after "ESMTP"
	ProductName string

	// BusyGreeting, when set, is sent instead of the 220 greeting and the
	// connection is closed immediately
	BusyGreeting string

	// MaxLineLength caps a command line in bytes; 0 disables the cap
	MaxLineLength int

	// MaxMessageSize caps a DATA body in bytes; 0 disables the cap
	MaxMessageSize int64

	// IdleTimeout closes sessions that send nothing for this long; 0 disables it
	IdleTimeout time.Duration

	// WriteTimeout bounds every reply write. A client that stops reading
	// gets its session closed once a write exceeds it; 0 disables it.
	WriteTimeout time.Duration

	MaxConnections      int
	MaxConnectionsPerIP int
}

// DefaultSMTPConfig returns default SMTP configuration
func DefaultSMTPConfig() *SMTPConfig {
	return &SMTPConfig{
		Addr:                "127.0.0.1:2525",
		Hostname:            "localhost",
		ProductName:         "MockSMTP",
		MaxLineLength:       64 * 1024,
		MaxMessageSize:      25 * 1024 * 1024,
		WriteTimeout:        30 * time.Second,
		MaxConnections:      1000,
		MaxConnectionsPerIP: 100,
	}
}

// SMTP Response Codes
const (
	CodeServiceReady       = 220
	CodeServiceClosing     = 221
	CodeOK                 = 250
	CodeStartMailInput     = 354
	CodeServiceUnavailable = 421
	CodeSyntaxError        = 500
	CodeUserNotFound       = 550
	CodeMessageTooLarge    = 552
	CodeTransactionFailed  = 554
)

// Reply texts. Callers match on the code prefix; the trailing text is literal
// for the mock but varies for greetings and queue ids.
const (
	replyOK              = "250 Ok"
	replyBye             = "221 Bye"
	replyStartMailInput  = "354 End data with <CR><LF>.<CR><LF>"
	replyNotRecognized   = "500 Error: command not recognized"
	replyLineTooLong     = "500 Error: line too long"
	replyRelayDenied     = "554 Relay access denied"
	replyUserNotFound    = "550 User not found"
	replyNoPTR           = "550 No PTR record found"
	replyMessageTooLarge = "552 Error: message too large"
	replyIdleTimeout     = "421 Error: timeout exceeded"
	replyTooManyConns    = "421 Error: too many connections"
)

// SessionInfo is a point-in-time view of a registered session
type SessionInfo struct {
	SessionID  string    `json:"session_id"`
	RemoteAddr string    `json:"remote_addr"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`
}
