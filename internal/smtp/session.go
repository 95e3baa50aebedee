package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/welldanyogia/mock-smtp/internal/events"
	"github.com/welldanyogia/mock-smtp/internal/metrics"
)

// ErrSessionClosed is returned when querying a session that has terminated
var ErrSessionClosed = errors.New("session closed")

// terminator ends a DATA payload
var terminator = []byte("\r\n.\r\n")

// inboxSize bounds how many deliveries may queue ahead of the session
const inboxSize = 16

// Transport is the write side of one connection. net.Conn satisfies it.
// Close may be called from another goroutine while a Write is blocked.
type Transport interface {
	Write(p []byte) (int, error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session inbox messages
type (
	chunkReceived    struct{ data []byte }
	connectionClosed struct{ err error }
	idleTimedOut     struct{}
	recipientsQuery  struct{ reply chan []string }
)

// SMTPSession handles a single SMTP session. Protocol state is owned by the
// goroutine running Run; everything else talks to it through the inbox, so
// commands are handled strictly in arrival order.
type SMTPSession struct {
	id         string
	remoteAddr string
	transport  Transport
	config     *SMTPConfig
	publisher  EventPublisher
	log        *slog.Logger
	framer     *LineFramer
	startedAt  time.Time

	state    State
	data     sessionData
	snapshot atomic.Int32
	closed   bool
	writeErr error

	inbox chan any
	done  chan struct{}
}

// NewSMTPSession creates a session in the GREETING state. Nothing is written
// until Run is called.
func NewSMTPSession(id, remoteAddr string, transport Transport, config *SMTPConfig, publisher EventPublisher, log *slog.Logger) *SMTPSession {
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}
	if log == nil {
		log = slog.Default()
	}
	return &SMTPSession{
		id:         id,
		remoteAddr: remoteAddr,
		transport:  transport,
		config:     config,
		publisher:  publisher,
		log:        log,
		framer:     NewLineFramer(),
		startedAt:  time.Now().UTC(),
		state:      StateGreeting,
		data:       uninitialized{},
		inbox:      make(chan any, inboxSize),
		done:       make(chan struct{}),
	}
}

// ID returns the session identifier
func (s *SMTPSession) ID() string {
	return s.id
}

// Done is closed once the session has terminated
func (s *SMTPSession) Done() <-chan struct{} {
	return s.done
}

// Info returns a snapshot safe to read from any goroutine
func (s *SMTPSession) Info() SessionInfo {
	return SessionInfo{
		SessionID:  s.id,
		RemoteAddr: s.remoteAddr,
		State:      State(s.snapshot.Load()).String(),
		StartedAt:  s.startedAt,
	}
}

// Run sends the greeting and processes the inbox until the session
// terminates or ctx is cancelled. The transport is always closed on return.
func (s *SMTPSession) Run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Session panicked", slog.Any("panic", r))
			s.terminate("panic")
		}
	}()

	if !s.start() || s.writeFailed() {
		return
	}

	for {
		select {
		case msg := <-s.inbox:
			if !s.handle(msg) || s.writeFailed() {
				return
			}
		case <-ctx.Done():
			s.terminate("shutdown")
			return
		}
	}
}

// Deliver queues bytes read from the connection. Returns false once the
// session has terminated and will read nothing more.
func (s *SMTPSession) Deliver(chunk []byte) bool {
	return s.send(chunkReceived{data: chunk})
}

// Abort closes the transport from outside the session goroutine, unblocking
// a reply write stuck on a client that stopped reading. Run then terminates.
func (s *SMTPSession) Abort() {
	if err := s.transport.Close(); err != nil {
		s.log.Debug("Transport close failed", slog.String("error", err.Error()))
	}
}

// ConnectionClosed tells the session its peer has gone away
func (s *SMTPSession) ConnectionClosed(err error) {
	s.send(connectionClosed{err: err})
}

// IdleTimeout tells the session no input arrived within the idle timeout
func (s *SMTPSession) IdleTimeout() {
	s.send(idleTimedOut{})
}

// Recipients returns the accepted recipients of the current envelope, in
// order and with duplicates. Sessions without an envelope report an empty list.
func (s *SMTPSession) Recipients(ctx context.Context) ([]string, error) {
	if s.terminated() {
		return nil, ErrSessionClosed
	}

	reply := make(chan []string, 1)
	select {
	case s.inbox <- recipientsQuery{reply: reply}:
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case rcpts := <-reply:
		return rcpts, nil
	case <-s.done:
		select {
		case rcpts := <-reply:
			return rcpts, nil
		default:
			return nil, ErrSessionClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *SMTPSession) send(msg any) bool {
	if s.terminated() {
		return false
	}
	select {
	case s.inbox <- msg:
		return true
	case <-s.done:
		return false
	}
}

func (s *SMTPSession) terminated() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// start emits the greeting. Returns false when the busy greeting ended the session.
func (s *SMTPSession) start() bool {
	if s.config.BusyGreeting != "" {
		s.writeLine(s.config.BusyGreeting + " " + s.id)
		metrics.SMTPRejectionsTotal.WithLabelValues(metrics.ReasonBusy).Inc()
		s.terminate("busy")
		return false
	}
	s.writeLine(fmt.Sprintf("%d %s ESMTP %s %s", CodeServiceReady, s.config.Hostname, s.config.ProductName, s.id))
	return true
}

// handle processes one inbox message. Returns false when the session ended.
func (s *SMTPSession) handle(msg any) bool {
	switch m := msg.(type) {
	case chunkReceived:
		return s.receive(m.data)
	case connectionClosed:
		if m.err != nil {
			s.log.Debug("Connection read ended", slog.String("error", m.err.Error()))
		}
		s.terminate("connection closed")
		return false
	case idleTimedOut:
		s.writeLine(replyIdleTimeout)
		metrics.SMTPRejectionsTotal.WithLabelValues(metrics.ReasonIdleTimeout).Inc()
		s.terminate("idle timeout")
		return false
	case recipientsQuery:
		m.reply <- s.recipients()
		return true
	default:
		s.log.Warn("Unhandled session event", slog.String("type", fmt.Sprintf("%T", msg)))
		return true
	}
}

// receive routes bytes either to the body or through the line framer
func (s *SMTPSession) receive(data []byte) bool {
	if s.state == StateData {
		return s.appendBody(data)
	}

	lines := s.framer.Extract(data)
	for i, line := range lines {
		if s.lineTooLong(len(line)) {
			return s.rejectLineTooLong()
		}
		if !s.handleLine(line) {
			return false
		}
		// Whatever followed DATA in this delivery is message content
		if s.state == StateData {
			return s.appendBody(s.drainFramer(lines[i+1:]))
		}
	}

	if s.lineTooLong(s.framer.Pending()) {
		return s.rejectLineTooLong()
	}
	return true
}

// drainFramer reassembles already split lines plus the pending fragment
func (s *SMTPSession) drainFramer(rest []string) []byte {
	var buf bytes.Buffer
	for _, line := range rest {
		buf.WriteString(line)
		buf.Write(crlf)
	}
	buf.Write(s.framer.Drain())
	return buf.Bytes()
}

func (s *SMTPSession) lineTooLong(n int) bool {
	return s.config.MaxLineLength > 0 && n > s.config.MaxLineLength
}

func (s *SMTPSession) rejectLineTooLong() bool {
	s.writeLine(replyLineTooLong)
	metrics.SMTPRejectionsTotal.WithLabelValues(metrics.ReasonLineTooLong).Inc()
	s.terminate("line too long")
	return false
}

// handleLine parses and dispatches one command line
func (s *SMTPSession) handleLine(line string) bool {
	cmd, ok := ParseCommand(strings.TrimSpace(line))
	if !ok {
		s.log.Debug("Command not recognized", slog.String("state", s.state.String()))
		s.writeLine(replyNotRecognized)
		return true
	}
	metrics.SMTPCommandsTotal.WithLabelValues(cmd.Verb()).Inc()

	// QUIT and RSET apply in every state
	switch cmd.(type) {
	case QuitCommand:
		s.writeLine(replyBye)
		s.terminate("quit")
		return false
	case RsetCommand:
		s.handleRSET()
		return true
	}

	var handled bool
	switch s.state {
	case StateGreeting:
		handled = s.handleGreeting(cmd)
	case StateIdle:
		handled = s.handleIdle(cmd)
	case StateMailFrom:
		handled = s.handleMailFrom(cmd)
	case StateRcptTo:
		handled = s.handleRcptTo(cmd)
	}

	if !handled {
		s.log.Warn("Unhandled command",
			slog.String("command", cmd.Verb()),
			slog.String("state", s.state.String()),
		)
	}
	return true
}

func (s *SMTPSession) handleGreeting(cmd Command) bool {
	switch c := cmd.(type) {
	case HeloCommand:
		s.writeLine(fmt.Sprintf("%d Hello %s, nice to meet you", CodeOK, c.Host))
		s.transition(StateIdle, heloData{host: c.Host})
	case EhloCommand:
		s.writeLine(fmt.Sprintf("%d %s", CodeOK, s.config.Hostname))
		s.transition(StateIdle, heloData{host: c.Host})
	default:
		return false
	}
	return true
}

func (s *SMTPSession) handleIdle(cmd Command) bool {
	c, ok := cmd.(MailCommand)
	if !ok {
		return false
	}
	s.writeLine(replyOK)
	// A new envelope always replaces whatever came before
	s.transition(StateMailFrom, newEnvelope(s.data.remoteHost(), c.From))
	return true
}

func (s *SMTPSession) handleMailFrom(cmd Command) bool {
	c, ok := cmd.(RcptCommand)
	if !ok {
		return false
	}
	env := s.data.(*envelope)
	if s.addRecipient(env, c.To) {
		s.transition(StateRcptTo, env)
	}
	return true
}

func (s *SMTPSession) handleRcptTo(cmd Command) bool {
	env := s.data.(*envelope)
	switch c := cmd.(type) {
	case RcptCommand:
		s.addRecipient(env, c.To)
	case DataCommand:
		s.writeLine(replyStartMailInput)
		s.transition(StateData, env)
	case XGetRcptsCommand:
		s.writeLine(fmt.Sprintf("%d %s", CodeOK, strings.Join(env.recipients, "|")))
	default:
		return false
	}
	return true
}

// addRecipient applies the recipient policy and appends on acceptance
func (s *SMTPSession) addRecipient(env *envelope, address string) bool {
	result := ValidateRecipient(address)
	s.writeLine(result.Reply)
	if !result.Accepted {
		s.log.Info("Recipient rejected",
			slog.String("recipient", address),
			slog.String("reason", result.Reason),
		)
		metrics.SMTPRejectionsTotal.WithLabelValues(result.Reason).Inc()
		s.publish(events.EventTypeRecipientRejected, events.RecipientRejectedEvent{
			Recipient: address,
			Code:      result.Code(),
			Reason:    result.Reason,
		})
		return false
	}
	env.recipients = append(env.recipients, address)
	return true
}

// handleRSET drops the envelope; the HELO host survives
func (s *SMTPSession) handleRSET() {
	s.writeLine(replyOK)
	if _, fresh := s.data.(uninitialized); fresh {
		return
	}
	s.transition(StateIdle, heloData{host: s.data.remoteHost()})
}

// appendBody adds DATA bytes and completes the message once the terminator
// has arrived, however it was split across deliveries.
func (s *SMTPSession) appendBody(data []byte) bool {
	env := s.data.(*envelope)

	scanFrom := env.body.Len() - (len(terminator) - 1)
	if scanFrom < 0 {
		scanFrom = 0
	}
	env.body.Write(data)
	body := env.body.Bytes()

	end, rest, found := findTerminator(body, scanFrom)
	if !found {
		if s.messageTooLarge(len(body) - (len(terminator) - 1)) {
			return s.rejectMessageTooLarge()
		}
		return true
	}

	message := body[:end]
	if s.messageTooLarge(len(message)) {
		return s.rejectMessageTooLarge()
	}

	var leftover []byte
	if rest < len(body) {
		leftover = append([]byte(nil), body[rest:]...)
	}
	if !s.completeMessage(env, message) {
		return false
	}
	if len(leftover) > 0 {
		return s.receive(leftover)
	}
	return true
}

// findTerminator locates CRLF.CRLF at or after from. end is the length of the
// message including its final CRLF; rest is where input after the terminator
// begins. A lone "." line right after DATA ends an empty message, since the
// CRLF closing the DATA command is not part of the body.
func findTerminator(body []byte, from int) (end, rest int, found bool) {
	if bytes.HasPrefix(body, terminator[2:]) {
		return 0, len(terminator) - 2, true
	}
	if idx := bytes.Index(body[from:], terminator); idx >= 0 {
		return from + idx + 2, from + idx + len(terminator), true
	}
	return 0, 0, false
}

func (s *SMTPSession) messageTooLarge(n int) bool {
	return s.config.MaxMessageSize > 0 && int64(n) > s.config.MaxMessageSize
}

func (s *SMTPSession) rejectMessageTooLarge() bool {
	s.writeLine(replyMessageTooLarge)
	metrics.SMTPRejectionsTotal.WithLabelValues(metrics.ReasonMessageTooLarge).Inc()
	s.publish(events.EventTypeMessageRejected, events.MessageRejectedEvent{
		Code:   CodeMessageTooLarge,
		Reason: metrics.ReasonMessageTooLarge,
	})
	s.terminate("message too large")
	return false
}

// completeMessage runs the body policy. A rejection ends the session.
func (s *SMTPSession) completeMessage(env *envelope, message []byte) bool {
	result := ValidateMessage(message)
	if !result.Accepted {
		s.writeLine(result.Reply)
		metrics.SMTPRejectionsTotal.WithLabelValues(result.Reason).Inc()
		s.publish(events.EventTypeMessageRejected, events.MessageRejectedEvent{
			Code:   result.Code(),
			Reason: result.Reason,
		})
		s.terminate("no PTR record")
		return false
	}

	queueID := GenerateQueueID()
	s.writeLine(fmt.Sprintf("%d Ok: queued as %s", CodeOK, queueID))
	metrics.SMTPMessagesQueued.Inc()

	s.log.Info("Message queued",
		slog.String("queue_id", queueID),
		slog.String("from", env.from),
		slog.Int("recipients", len(env.recipients)),
		slog.Int("size_bytes", len(message)),
	)
	s.publish(events.EventTypeMessageQueued, events.MessageQueuedEvent{
		QueueID:    queueID,
		From:       env.from,
		Recipients: append([]string(nil), env.recipients...),
		SizeBytes:  len(message),
	})

	s.transition(StateIdle, heloData{host: env.host})
	return true
}

func (s *SMTPSession) recipients() []string {
	env, ok := s.data.(*envelope)
	if !ok {
		return []string{}
	}
	return append(make([]string, 0, len(env.recipients)), env.recipients...)
}

func (s *SMTPSession) transition(next State, data sessionData) {
	if next != s.state {
		s.log.Debug("Session state transition",
			slog.String("from", s.state.String()),
			slog.String("to", next.String()),
		)
	}
	s.state = next
	s.data = data
	s.snapshot.Store(int32(next))
}

// terminate closes the transport and moves to QUIT. Only the first call has effect.
func (s *SMTPSession) terminate(reason string) {
	if s.closed {
		return
	}
	s.closed = true
	s.transition(StateQuit, uninitialized{})

	if err := s.transport.Close(); err != nil {
		s.log.Debug("Transport close failed", slog.String("error", err.Error()))
	}

	duration := time.Since(s.startedAt)
	s.log.Info("Session ended",
		slog.String("reason", reason),
		slog.Duration("duration", duration),
	)
	s.publish(events.EventTypeSessionEnded, events.SessionEndedEvent{
		Reason:   reason,
		Duration: duration,
	})
}

// writeLine sends one CRLF-terminated reply within the write timeout. After
// the first failure nothing more is written and Run ends the session.
func (s *SMTPSession) writeLine(line string) {
	if s.writeErr != nil || s.closed {
		return
	}
	if s.config.WriteTimeout > 0 {
		if err := s.transport.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
			s.writeErr = err
			return
		}
	}
	if _, err := s.transport.Write([]byte(line + "\r\n")); err != nil {
		s.log.Debug("Write failed", slog.String("error", err.Error()))
		s.writeErr = err
	}
}

// writeFailed terminates a session whose client can no longer be written to
func (s *SMTPSession) writeFailed() bool {
	if s.writeErr == nil {
		return false
	}
	if !s.closed {
		metrics.SMTPRejectionsTotal.WithLabelValues(metrics.ReasonWriteFailed).Inc()
	}
	s.terminate("write failed")
	return true
}

func (s *SMTPSession) publish(eventType string, payload any) {
	event, err := events.NewEvent(eventType, s.id, payload)
	if err != nil {
		s.log.Warn("Failed to build event", slog.String("type", eventType), slog.String("error", err.Error()))
		return
	}
	if err := s.publisher.Publish(event); err != nil {
		s.log.Warn("Failed to publish event", slog.String("type", eventType), slog.String("error", err.Error()))
	}
}
