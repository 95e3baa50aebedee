package smtp

import "bytes"

// State is the protocol state of one session
type State int32

const (
	StateGreeting State = iota
	StateIdle
	StateMailFrom
	StateRcptTo
	StateData
	StateQuit
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateGreeting:
		return "GREETING"
	case StateIdle:
		return "IDLE"
	case StateMailFrom:
		return "MAIL_FROM"
	case StateRcptTo:
		return "RCPT_TO"
	case StateData:
		return "DATA"
	case StateQuit:
		return "QUIT"
	default:
		return "UNKNOWN"
	}
}

// sessionData is the state-specific payload paired with State.
// GREETING carries uninitialized, IDLE carries heloData, and MAIL_FROM,
// RCPT_TO and DATA carry *envelope.
type sessionData interface {
	remoteHost() string
}

type uninitialized struct{}

func (uninitialized) remoteHost() string { return "" }

type heloData struct {
	host string
}

func (d heloData) remoteHost() string { return d.host }

// envelope is the message under composition. recipients only grows by
// append; body only grows while in DATA.
type envelope struct {
	host       string
	from       string
	recipients []string
	body       bytes.Buffer
}

func (e *envelope) remoteHost() string { return e.host }

func newEnvelope(host, from string) *envelope {
	return &envelope{
		host:       host,
		from:       from,
		recipients: make([]string, 0),
	}
}
