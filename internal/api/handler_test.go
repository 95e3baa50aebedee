package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/welldanyogia/mock-smtp/internal/events"
	"github.com/welldanyogia/mock-smtp/internal/middleware"
	"github.com/welldanyogia/mock-smtp/internal/smtp"
)

// fakeRegistry implements SessionRegistry
type fakeRegistry struct {
	sessions   []smtp.SessionInfo
	recipients map[string][]string
	err        error
}

func (f *fakeRegistry) Sessions() []smtp.SessionInfo { return f.sessions }

func (f *fakeRegistry) GetRecipients(ctx context.Context, sessionID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	rcpts, ok := f.recipients[sessionID]
	if !ok {
		return nil, &smtp.SessionNotFoundError{SessionID: sessionID}
	}
	return rcpts, nil
}

// fakeEvents implements EventSource and records the last query
type fakeEvents struct {
	list      []events.Event
	sessionID string
	since     string
	limit     int
}

func (f *fakeEvents) GetEventsSince(sessionID, lastEventID string, limit int) ([]events.Event, error) {
	f.sessionID, f.since, f.limit = sessionID, lastEventID, limit
	return f.list, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(registry SessionRegistry, source EventSource) http.Handler {
	return NewRouter(RouterConfig{
		Handler:     NewHandler(registry, source, time.Second, discardLogger()),
		CORSOrigins: []string{"http://localhost:3000"},
		Logger:      discardLogger(),
	})
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func doGet(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var env envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("GET %s: failed to decode body: %v", path, err)
	}
	return rec, env
}

func TestGetRecipients(t *testing.T) {
	registry := &fakeRegistry{recipients: map[string][]string{
		"0123456789abcdef": {"a@x", "b@y", "a@x"},
	}}
	router := newTestRouter(registry, &fakeEvents{})

	rec, env := doGet(t, router, "/api/v1/sessions/0123456789abcdef/recipients")
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d, body success = %v", rec.Code, env.Success)
	}
	var data RecipientsResponse
	json.Unmarshal(env.Data, &data)
	if data.SessionID != "0123456789abcdef" || !reflect.DeepEqual(data.Recipients, []string{"a@x", "b@y", "a@x"}) {
		t.Errorf("unexpected payload %+v", data)
	}
}

func TestGetRecipients_NotFound(t *testing.T) {
	router := newTestRouter(&fakeRegistry{}, &fakeEvents{})

	rec, env := doGet(t, router, "/api/v1/sessions/ffffffffffffffff/recipients")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if env.Success || env.Error == nil || env.Error.Code != CodeSessionNotFound {
		t.Fatalf("unexpected error body %+v", env)
	}
	var data RecipientsResponse
	json.Unmarshal(env.Data, &data)
	if data.SessionID != "ffffffffffffffff" {
		t.Errorf("404 should echo the session id, got %q", data.SessionID)
	}
}

func TestGetRecipients_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout},
		{"internal", errors.New("boom"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeRegistry{err: tt.err}, &fakeEvents{})
			rec, env := doGet(t, router, "/api/v1/sessions/x/recipients")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if env.Error == nil || env.Error.Code != tt.wantErr {
				t.Errorf("error = %+v, want code %s", env.Error, tt.wantErr)
			}
		})
	}
}

func TestListSessions(t *testing.T) {
	registry := &fakeRegistry{sessions: []smtp.SessionInfo{
		{SessionID: "aaaaaaaaaaaaaaaa", RemoteAddr: "127.0.0.1:1000", State: "IDLE"},
	}}
	router := newTestRouter(registry, &fakeEvents{})

	rec, env := doGet(t, router, "/api/v1/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var data SessionsResponse
	json.Unmarshal(env.Data, &data)
	if data.Count != 1 || data.Sessions[0].State != "IDLE" {
		t.Errorf("unexpected payload %+v", data)
	}
}

func TestListEvents(t *testing.T) {
	source := &fakeEvents{list: []events.Event{{ID: "e1", Type: events.EventTypeSessionStarted, SessionID: "s1"}}}
	router := newTestRouter(&fakeRegistry{}, source)

	rec, env := doGet(t, router, "/api/v1/events?since=e0&session_id=s1&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if source.sessionID != "s1" || source.since != "e0" || source.limit != 5 {
		t.Errorf("query not forwarded: %+v", source)
	}
	var data EventsResponse
	json.Unmarshal(env.Data, &data)
	if len(data.Events) != 1 || data.Events[0].ID != "e1" {
		t.Errorf("unexpected events %+v", data.Events)
	}

	doGet(t, router, "/api/v1/events")
	if source.limit != defaultEventLimit {
		t.Errorf("default limit = %d, want %d", source.limit, defaultEventLimit)
	}
}

func TestListEvents_InvalidLimit(t *testing.T) {
	router := newTestRouter(&fakeRegistry{}, &fakeEvents{})

	for _, limit := range []string{"0", "-1", "abc", "1001"} {
		rec, env := doGet(t, router, "/api/v1/events?limit="+limit)
		if rec.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != CodeValidationError {
			t.Errorf("limit=%s: status = %d, error = %+v", limit, rec.Code, env.Error)
		}
	}
}

func TestRouter_RateLimit(t *testing.T) {
	limiter := middleware.NewRateLimiter(1, time.Minute)
	defer limiter.Stop()

	router := NewRouter(RouterConfig{
		Handler:     NewHandler(&fakeRegistry{}, &fakeEvents{}, time.Second, discardLogger()),
		RateLimiter: limiter,
		Logger:      discardLogger(),
	})

	if rec, _ := doGet(t, router, "/api/v1/sessions"); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	if rec, _ := doGet(t, router, "/api/v1/sessions"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
}

func TestRouter_CORS(t *testing.T) {
	router := newTestRouter(&fakeRegistry{}, &fakeEvents{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

// TestRecipientsOverHTTP drives a real SMTP session and reads its
// recipients back through the admin API
func TestRecipientsOverHTTP(t *testing.T) {
	store := events.NewEventStore(100)
	bus := events.NewEventBus(store)

	config := smtp.DefaultSMTPConfig()
	config.Addr = "127.0.0.1:0"
	server := smtp.NewSMTPServer(config,
		smtp.WithLogger(discardLogger()),
		smtp.WithEventPublisher(bus),
	)
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("failed to start SMTP server: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	}()

	conn, err := net.DialTimeout("tcp", server.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	reader := bufio.NewReader(conn)

	readLine := func() string {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		return strings.TrimSpace(line)
	}
	greeting := readLine()
	fields := strings.Fields(greeting)
	sessionID := fields[len(fields)-1]

	for _, cmd := range []string{"EHLO client", "MAIL FROM:<a@b.c>", "RCPT TO:<one@x>", "RCPT TO:<two@x>"} {
		conn.Write([]byte(cmd + "\r\n"))
		readLine()
	}

	router := newTestRouter(server, bus)
	rec, env := doGet(t, router, "/api/v1/sessions/"+sessionID+"/recipients")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var data RecipientsResponse
	json.Unmarshal(env.Data, &data)
	if !reflect.DeepEqual(data.Recipients, []string{"one@x", "two@x"}) {
		t.Fatalf("recipients = %q", data.Recipients)
	}

	_, env = doGet(t, router, "/api/v1/events?session_id="+sessionID)
	var evs EventsResponse
	json.Unmarshal(env.Data, &evs)
	if len(evs.Events) == 0 || evs.Events[0].Type != events.EventTypeSessionStarted {
		t.Errorf("expected session_started to be recorded, got %+v", evs.Events)
	}
}
