package smtp

import "strings"

// Command is a parsed SMTP command. The set of implementations is closed:
// HeloCommand, EhloCommand, MailCommand, RcptCommand, DataCommand,
// RsetCommand, QuitCommand and XGetRcptsCommand.
type Command interface {
	// Verb returns the upper-case command keyword
	Verb() string
}

// HeloCommand is HELO <host>
type HeloCommand struct{ Host string }

// EhloCommand is EHLO <host>
type EhloCommand struct{ Host string }

// MailCommand is MAIL FROM:<addr>
type MailCommand struct{ From string }

// RcptCommand is RCPT TO:<addr>
type RcptCommand struct{ To string }

// DataCommand is DATA
type DataCommand struct{}

// RsetCommand is RSET
type RsetCommand struct{}

// QuitCommand is QUIT
type QuitCommand struct{}

// XGetRcptsCommand is the X_GET_RCPTS introspection extension
type XGetRcptsCommand struct{}

func (HeloCommand) Verb() string      { return "HELO" }
func (EhloCommand) Verb() string      { return "EHLO" }
func (MailCommand) Verb() string      { return "MAIL" }
func (RcptCommand) Verb() string      { return "RCPT" }
func (DataCommand) Verb() string      { return "DATA" }
func (RsetCommand) Verb() string      { return "RSET" }
func (QuitCommand) Verb() string      { return "QUIT" }
func (XGetRcptsCommand) Verb() string { return "X_GET_RCPTS" }

// ParseCommand maps one line, without its CRLF, to a Command.
// Keywords match case-insensitively. HELO and EHLO capture everything after
// the single separating space verbatim; MAIL FROM and RCPT TO require the
// address in angle brackets. Returns false when nothing matches.
func ParseCommand(line string) (Command, bool) {
	switch {
	case hasPrefixFold(line, "HELO "):
		if host := line[len("HELO "):]; host != "" {
			return HeloCommand{Host: host}, true
		}
	case hasPrefixFold(line, "EHLO "):
		if host := line[len("EHLO "):]; host != "" {
			return EhloCommand{Host: host}, true
		}
	case hasPrefixFold(line, "MAIL FROM:"):
		// Empty reverse-path <> is the null sender used by bounces
		if addr, ok := bracketed(line[len("MAIL FROM:"):]); ok {
			return MailCommand{From: addr}, true
		}
	case hasPrefixFold(line, "RCPT TO:"):
		if addr, ok := bracketed(line[len("RCPT TO:"):]); ok && addr != "" {
			return RcptCommand{To: addr}, true
		}
	case strings.EqualFold(line, "DATA"):
		return DataCommand{}, true
	case strings.EqualFold(line, "RSET"):
		return RsetCommand{}, true
	case strings.EqualFold(line, "QUIT"):
		return QuitCommand{}, true
	case strings.EqualFold(line, "X_GET_RCPTS"):
		return XGetRcptsCommand{}, true
	}
	return nil, false
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// bracketed extracts addr from "<addr>", allowing spaces before the bracket.
func bracketed(s string) (string, bool) {
	s = strings.TrimLeft(s, " ")
	if len(s) < 2 || s[0] != '<' || s[len(s)-1] != '>' {
		return "", false
	}
	addr := s[1 : len(s)-1]
	if strings.ContainsAny(addr, "<>") {
		return "", false
	}
	return addr, true
}
