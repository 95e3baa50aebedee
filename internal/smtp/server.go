package smtp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/welldanyogia/mock-smtp/internal/events"
	"github.com/welldanyogia/mock-smtp/internal/logger"
	"github.com/welldanyogia/mock-smtp/internal/metrics"
)

var (
	// ErrSessionNotFound matches every *SessionNotFoundError
	ErrSessionNotFound = errors.New("session not found")
	// ErrServerRunning is returned by Start on a running server
	ErrServerRunning = errors.New("SMTP server already running")
	// ErrServerNotRunning is returned by operations that need a bound listener
	ErrServerNotRunning = errors.New("SMTP server is not running")
)

// SessionNotFoundError reports a query for an unknown session id
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

// Is makes errors.Is(err, ErrSessionNotFound) hold
func (e *SessionNotFoundError) Is(target error) bool {
	return target == ErrSessionNotFound
}

// readBufferSize is the largest chunk handed to a session in one delivery
const readBufferSize = 4096

// SMTPServer accepts connections, runs one SMTPSession per connection and
// keeps the registry of live sessions for recipient queries.
type SMTPServer struct {
	config    *SMTPConfig
	log       *slog.Logger
	publisher EventPublisher
	idGen     IDGenerator
	listener  net.Listener

	// Session registry; written only by the connection goroutines of this server
	sessions   map[string]*SMTPSession
	sessionsMu sync.RWMutex

	// Connection management
	activeConns   int64
	ipConnections map[string]int
	ipConnMu      sync.RWMutex

	// Server state
	running   atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures an SMTPServer
type Option func(*SMTPServer)

// WithLogger sets the server logger
func WithLogger(log *slog.Logger) Option {
	return func(s *SMTPServer) {
		if log != nil {
			s.log = log
		}
	}
}

// WithEventPublisher sets where session lifecycle events go
func WithEventPublisher(publisher EventPublisher) Option {
	return func(s *SMTPServer) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

// WithIDGenerator replaces the session id generator
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *SMTPServer) {
		if gen != nil {
			s.idGen = gen
		}
	}
}

// NewSMTPServer creates a new SMTP server instance
func NewSMTPServer(config *SMTPConfig, opts ...Option) *SMTPServer {
	if config == nil {
		config = DefaultSMTPConfig()
	}
	s := &SMTPServer{
		config:        config,
		log:           slog.Default(),
		publisher:     NewNoOpEventPublisher(),
		idGen:         RandomIDGenerator{},
		sessions:      make(map[string]*SMTPSession),
		ipConnections: make(map[string]int),
		ready:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and begins accepting connections. It returns once
// the socket is bound, so a nil error means the server is ready.
func (s *SMTPServer) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to start SMTP server on %s: %w", s.config.Addr, err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running.Store(true)
	s.readyOnce.Do(func() { close(s.ready) })

	s.log.Info("SMTP server listening",
		slog.String("addr", listener.Addr().String()),
		slog.Bool("busy_mode", s.config.BusyGreeting != ""),
	)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Ready is closed once, the first time the listener is bound
func (s *SMTPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address, or nil before Start
func (s *SMTPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener, terminates every live session and waits for
// their goroutines until ctx expires.
func (s *SMTPServer) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Warn("Error closing SMTP listener", slog.String("error", err.Error()))
	}

	// A session blocked writing to a client that stopped reading never
	// sees the cancellation; closing its connection releases it
	s.sessionsMu.RLock()
	for _, session := range s.sessions {
		session.Abort()
	}
	s.sessionsMu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("SMTP server stopped gracefully")
		return nil
	case <-ctx.Done():
		s.log.Warn("SMTP server shutdown timed out")
		return fmt.Errorf("SMTP server shutdown: %w", ctx.Err())
	}
}

// acceptLoop accepts incoming connections
func (s *SMTPServer) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("Error accepting connection", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection enforces connection limits, then registers and runs a session
func (s *SMTPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	remoteAddr := conn.RemoteAddr().String()
	remoteIP, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		remoteIP = remoteAddr
	}

	if !s.acquireConnection() {
		s.rejectConnection(conn, remoteIP)
		return
	}
	defer s.releaseConnection()

	if !s.acquireIPConnection(remoteIP) {
		s.rejectConnection(conn, remoteIP)
		return
	}
	defer s.releaseIPConnection(remoteIP)

	metrics.SMTPConnectionsTotal.Inc()

	session := s.register(conn, remoteAddr)
	defer s.deregister(session.ID())

	s.publish(events.EventTypeSessionStarted, session.ID(), events.SessionStartedEvent{
		RemoteAddr: remoteAddr,
		Busy:       s.config.BusyGreeting != "",
	})

	go s.readLoop(conn, session)
	session.Run(s.ctx)
}

// rejectConnection answers 421 before any session exists
func (s *SMTPServer) rejectConnection(conn net.Conn, remoteIP string) {
	s.log.Warn("Connection limit reached", slog.String("remote_ip", remoteIP))
	metrics.SMTPRejectionsTotal.WithLabelValues(metrics.ReasonConnectionLimit).Inc()
	if s.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	conn.Write([]byte(replyTooManyConns + "\r\n"))
	conn.Close()
}

// register creates the session under a fresh id. Ids are regenerated on the
// rare collision with a live session.
func (s *SMTPServer) register(conn net.Conn, remoteAddr string) *SMTPSession {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	id := s.idGen.NewID()
	for _, taken := s.sessions[id]; taken; _, taken = s.sessions[id] {
		id = s.idGen.NewID()
	}

	ctx := logger.SetSessionID(s.ctx, id)
	sessionLog := logger.WithSessionID(ctx, s.log).With(slog.String("remote_addr", remoteAddr))

	session := NewSMTPSession(id, remoteAddr, conn, s.config, s.publisher, sessionLog)
	s.sessions[id] = session
	metrics.SMTPSessionsRegistered.Set(float64(len(s.sessions)))

	sessionLog.Info("Session started")
	return session
}

// deregister removes a finished session so the registry does not grow without bound
func (s *SMTPServer) deregister(id string) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	delete(s.sessions, id)
	metrics.SMTPSessionsRegistered.Set(float64(len(s.sessions)))
}

// readLoop pumps bytes from the connection into the session inbox
func (s *SMTPServer) readLoop(conn net.Conn, session *SMTPSession) {
	buf := make([]byte, readBufferSize)
	for {
		if s.config.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}

		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !session.Deliver(chunk) {
				return
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				session.IdleTimeout()
				return
			}
			session.ConnectionClosed(err)
			return
		}
	}
}

// GetRecipients asks the session with the given id for its recipient list.
// Unknown or already finished sessions yield a *SessionNotFoundError.
func (s *SMTPServer) GetRecipients(ctx context.Context, sessionID string) ([]string, error) {
	s.sessionsMu.RLock()
	session, ok := s.sessions[sessionID]
	s.sessionsMu.RUnlock()

	if !ok {
		return nil, &SessionNotFoundError{SessionID: sessionID}
	}

	rcpts, err := session.Recipients(ctx)
	if errors.Is(err, ErrSessionClosed) {
		return nil, &SessionNotFoundError{SessionID: sessionID}
	}
	return rcpts, err
}

// Sessions lists the live sessions
func (s *SMTPServer) Sessions() []SessionInfo {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, session := range s.sessions {
		infos = append(infos, session.Info())
	}
	return infos
}

// SessionCount returns the number of registered sessions
func (s *SMTPServer) SessionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

func (s *SMTPServer) publish(eventType, sessionID string, payload any) {
	event, err := events.NewEvent(eventType, sessionID, payload)
	if err == nil {
		err = s.publisher.Publish(event)
	}
	if err != nil {
		s.log.Warn("Failed to publish event", slog.String("type", eventType), slog.String("error", err.Error()))
	}
}

// acquireConnection attempts to acquire a global connection slot
func (s *SMTPServer) acquireConnection() bool {
	for {
		current := atomic.LoadInt64(&s.activeConns)
		if current >= int64(s.config.MaxConnections) {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.activeConns, current, current+1) {
			metrics.SMTPConnectionsActive.Inc()
			return true
		}
	}
}

// releaseConnection releases a global connection slot
func (s *SMTPServer) releaseConnection() {
	atomic.AddInt64(&s.activeConns, -1)
	metrics.SMTPConnectionsActive.Dec()
}

// acquireIPConnection attempts to acquire a per-IP connection slot
func (s *SMTPServer) acquireIPConnection(ip string) bool {
	s.ipConnMu.Lock()
	defer s.ipConnMu.Unlock()

	count := s.ipConnections[ip]
	if count >= s.config.MaxConnectionsPerIP {
		return false
	}

	s.ipConnections[ip] = count + 1
	return true
}

// releaseIPConnection releases a per-IP connection slot
func (s *SMTPServer) releaseIPConnection(ip string) {
	s.ipConnMu.Lock()
	defer s.ipConnMu.Unlock()

	count := s.ipConnections[ip]
	if count <= 1 {
		delete(s.ipConnections, ip)
	} else {
		s.ipConnections[ip] = count - 1
	}
}

// GetActiveConnections returns the current number of active connections
func (s *SMTPServer) GetActiveConnections() int64 {
	return atomic.LoadInt64(&s.activeConns)
}

// GetIPConnections returns the number of connections for a specific IP
func (s *SMTPServer) GetIPConnections(ip string) int {
	s.ipConnMu.RLock()
	defer s.ipConnMu.RUnlock()
	return s.ipConnections[ip]
}

// IsRunning returns whether the server is running
func (s *SMTPServer) IsRunning() bool {
	return s.running.Load()
}

// HealthStatus represents the SMTP server health status
type HealthStatus struct {
	Status      string `json:"status"`
	Running     bool   `json:"running"`
	BusyMode    bool   `json:"busy_mode"`
	ActiveConns int64  `json:"active_connections"`
	MaxConns    int    `json:"max_connections"`
	Sessions    int    `json:"sessions"`
	Hostname    string `json:"hostname"`
	Addr        string `json:"addr"`
}

// HealthCheck returns the current health status of the SMTP server
func (s *SMTPServer) HealthCheck() HealthStatus {
	status := HealthStatus{
		Status:      "unhealthy",
		Running:     s.running.Load(),
		BusyMode:    s.config.BusyGreeting != "",
		ActiveConns: s.GetActiveConnections(),
		MaxConns:    s.config.MaxConnections,
		Sessions:    s.SessionCount(),
		Hostname:    s.config.Hostname,
	}
	if status.Running {
		status.Status = "healthy"
		status.Addr = s.Addr().String()
	}
	return status
}

// PerformEHLOCheck connects to the listener and runs a greeting, EHLO and
// QUIT exchange. A server in busy mode always fails it.
func (s *SMTPServer) PerformEHLOCheck(ctx context.Context) error {
	if !s.running.Load() {
		return ErrServerNotRunning
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.Addr().String())
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	reader := bufio.NewReader(conn)

	greeting, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read SMTP greeting: %w", err)
	}
	if !strings.HasPrefix(greeting, "220") {
		return fmt.Errorf("unexpected SMTP greeting: %s", strings.TrimSpace(greeting))
	}

	if _, err := conn.Write([]byte("EHLO healthcheck\r\n")); err != nil {
		return fmt.Errorf("failed to send EHLO command: %w", err)
	}
	response, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read EHLO response: %w", err)
	}
	if !strings.HasPrefix(response, "250") {
		return fmt.Errorf("unexpected EHLO response: %s", strings.TrimSpace(response))
	}

	if _, err := conn.Write([]byte("QUIT\r\n")); err != nil {
		// Non-fatal, we already verified the server is healthy
		s.log.Debug("Failed to send QUIT command", slog.String("error", err.Error()))
	}
	return nil
}
