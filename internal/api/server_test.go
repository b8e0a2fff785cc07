package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/sensecraft-core/internal/auth"
	"github.com/nerrad567/sensecraft-core/internal/entry"
	"github.com/nerrad567/sensecraft-core/internal/eventbus"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/config"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/session"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeManager serves fixed statuses and records calls.
type fakeManager struct {
	mu       sync.Mutex
	statuses map[string]entry.Status
	reloaded []string
	commands []session.Command
	cmdErr   error
	reloadFn func(id string) error
}

func newFakeManager() *fakeManager {
	return &fakeManager{statuses: map[string]entry.Status{
		"cam": {ID: "cam", Kind: session.KindGimbal, Title: "Porch", DeviceID: "cam", State: entry.StateLoaded, Connected: true},
		"w1":  {ID: "w1", Kind: session.KindWatcherHTTP, State: entry.StateSetupError, Error: "boom"},
	}}
}

func (f *fakeManager) Statuses(context.Context) ([]entry.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []entry.Status{f.statuses["cam"], f.statuses["w1"]}, nil
}

func (f *fakeManager) Status(_ context.Context, id string) (entry.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[id]
	if !ok {
		return entry.Status{}, entry.ErrEntryNotFound
	}
	return st, nil
}

func (f *fakeManager) Reload(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.statuses[id]; !ok {
		return entry.ErrEntryNotFound
	}
	f.reloaded = append(f.reloaded, id)
	if f.reloadFn != nil {
		return f.reloadFn(id)
	}
	return nil
}

func (f *fakeManager) Command(_ context.Context, id string, cmd session.Command) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.statuses[id]; !ok {
		return nil, entry.ErrEntryNotFound
	}
	f.commands = append(f.commands, cmd)
	if f.cmdErr != nil {
		return nil, f.cmdErr
	}
	return map[string]any{"value": cmd.Value}, nil
}

type fakeCheck struct{ err error }

func (c fakeCheck) HealthCheck(context.Context) error { return c.err }

func testServer(t *testing.T, authEnabled bool) (*Server, *fakeManager) {
	t.Helper()
	mgr := newFakeManager()
	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			Auth:     config.APIAuthConfig{Enabled: authEnabled},
		},
		WS: config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
		},
		Logger:  logging.Nop(),
		Manager: mgr,
		Checks:  map[string]HealthChecker{"database": fakeCheck{}},
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, mgr
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken("operator", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return "Bearer " + token
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Manager: newFakeManager()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Nop()}); err == nil {
		t.Error("New() without manager should fail")
	}
}

// =============================================================================
// Health and middleware
// =============================================================================

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, false)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
	if checks, _ := resp["checks"].(map[string]any); checks["database"] != "ok" {
		t.Errorf("checks = %v", resp["checks"])
	}
}

func TestHealth_Degraded(t *testing.T) {
	srv, _ := testServer(t, false)
	srv.checks["influxdb"] = fakeCheck{err: errors.New("unreachable")}

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, false)
	router := srv.buildRouter()

	if w := do(t, router, http.MethodGet, "/api/v1/health", ""); w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
	w := do(t, router, http.MethodGet, "/api/v1/health", "", "X-Request-ID", "client-123")
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t, false)
	srv.cfg.CORS.AllowedOrigins = []string{"http://localhost:3000"}

	w := do(t, srv.buildRouter(), http.MethodOptions, "/api/v1/sessions", "",
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", "POST",
	)
	if w.Code >= 300 {
		t.Errorf("preflight status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want http://localhost:3000", got)
	}

	w = do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "", "Origin", "http://evil.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO for unknown origin = %q, want empty", got)
	}
}

func TestMetrics(t *testing.T) {
	srv, _ := testServer(t, false)
	w := do(t, srv.buildRouter(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "sensecraft_events_published_total") {
		t.Error("metrics output missing sensecraft collectors")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, false)
	if w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", w.Code)
	}
}

func TestRecovery(t *testing.T) {
	srv, _ := testServer(t, false)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	if w := do(t, h, http.MethodGet, "/", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("status after panic = %d, want 500", w.Code)
	}
}

// =============================================================================
// Session routes
// =============================================================================

func TestListSessions(t *testing.T) {
	srv, _ := testServer(t, false)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Sessions []entry.Status `json:"sessions"`
		Count    int            `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 2 || resp.Sessions[0].ID != "cam" || resp.Sessions[1].State != entry.StateSetupError {
		t.Errorf("sessions = %+v", resp)
	}
}

func TestGetSession(t *testing.T) {
	srv, _ := testServer(t, false)
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/sessions/cam", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st entry.Status
	decode(t, w, &st)
	if st.Kind != session.KindGimbal || !st.Connected {
		t.Errorf("status = %+v", st)
	}

	if w := do(t, router, http.MethodGet, "/api/v1/sessions/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", w.Code)
	}
}

func TestReloadSession(t *testing.T) {
	srv, mgr := testServer(t, false)
	router := srv.buildRouter()

	if w := do(t, router, http.MethodPost, "/api/v1/sessions/cam/reload", ""); w.Code != http.StatusOK {
		t.Fatalf("reload status = %d", w.Code)
	}
	if len(mgr.reloaded) != 1 || mgr.reloaded[0] != "cam" {
		t.Errorf("reloaded = %v", mgr.reloaded)
	}

	mgr.reloadFn = func(string) error { return fmt.Errorf("%w: device_host is required", session.ErrInvalidConfig) }
	if w := do(t, router, http.MethodPost, "/api/v1/sessions/cam/reload", ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid config reload status = %d, want 400", w.Code)
	}
	mgr.reloadFn = func(string) error { return errors.New("dial tcp: refused") }
	if w := do(t, router, http.MethodPost, "/api/v1/sessions/cam/reload", ""); w.Code != http.StatusBadGateway {
		t.Errorf("transport failure reload status = %d, want 502", w.Code)
	}
}

func TestSessionCommand(t *testing.T) {
	srv, mgr := testServer(t, false)
	router := srv.buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/sessions/cam/commands", `{"action":"set_angle","value":90}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Action string         `json:"action"`
		Result map[string]any `json:"result"`
	}
	decode(t, w, &resp)
	if resp.Action != "set_angle" || resp.Result["value"] != 90.0 {
		t.Errorf("response = %+v", resp)
	}
	if len(mgr.commands) != 1 || mgr.commands[0].Action != "set_angle" {
		t.Errorf("commands = %+v", mgr.commands)
	}
}

func TestSessionCommand_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		cmdErr error
		want   int
	}{
		{"invalid json", "/api/v1/sessions/cam/commands", `{`, nil, http.StatusBadRequest},
		{"no action", "/api/v1/sessions/cam/commands", `{"value":1}`, nil, http.StatusBadRequest},
		{"unknown session", "/api/v1/sessions/nope/commands", `{"action":"ping"}`, nil, http.StatusNotFound},
		{"unknown command", "/api/v1/sessions/cam/commands", `{"action":"fly"}`, session.ErrUnknownCommand, http.StatusBadRequest},
		{"not connected", "/api/v1/sessions/cam/commands", `{"action":"ping"}`, session.ErrNotConnected, http.StatusConflict},
		{"device failure", "/api/v1/sessions/cam/commands", `{"action":"ping"}`, session.ErrCommandFailed, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, mgr := testServer(t, false)
			mgr.cmdErr = tt.cmdErr
			if w := do(t, srv.buildRouter(), http.MethodPost, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

// =============================================================================
// Auth
// =============================================================================

func TestAuth_RequiredWhenEnabled(t *testing.T) {
	srv, _ := testServer(t, true)
	router := srv.buildRouter()

	if w := do(t, router, http.MethodGet, "/api/v1/health", ""); w.Code != http.StatusOK {
		t.Errorf("health with auth = %d, want 200", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/api/v1/sessions", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/api/v1/sessions", "", "Authorization", "Bearer nope"); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/api/v1/sessions", "", "Authorization", bearer(t)); w.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", w.Code)
	}
}

func TestTickets_SingleUse(t *testing.T) {
	srv, _ := testServer(t, true)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/ws/ticket", "", "Authorization", bearer(t))
	if w.Code != http.StatusOK {
		t.Fatalf("ticket status = %d", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	ticket, _ := resp["ticket"].(string)
	if ticket == "" {
		t.Fatal("expected a non-empty ticket")
	}

	e, ok := srv.tickets.consume(ticket)
	if !ok || e.subject != "operator" {
		t.Errorf("consume() = %+v, %v", e, ok)
	}
	if _, ok := srv.tickets.consume(ticket); ok {
		t.Error("ticket should not be valid on second use")
	}
}

func TestTickets_Expiry(t *testing.T) {
	ts := newTicketStore()
	now := time.Now()
	ts.now = func() time.Time { return now }
	ticket := ts.issue("operator")

	ts.now = func() time.Time { return now.Add(ticketTTL + time.Second) }
	ts.cleanExpired()
	if _, ok := ts.consume(ticket); ok {
		t.Error("expired ticket should not be valid")
	}
}

// =============================================================================
// Stream hub
// =============================================================================

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Nop())
	sub := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize), subscriptions: map[string]struct{}{"sensecraft_recamera_cam_state": {}}}
	other := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize), subscriptions: map[string]struct{}{"sensecraft_recamera_cam": {}}}
	hub.Register(sub)
	hub.Register(other)

	hub.Publish(eventbus.Event{Name: "sensecraft_recamera_cam_state", Data: map[string]any{"value": true}})

	select {
	case msg := <-sub.send:
		var m WSMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if m.Type != WSTypeEvent || m.EventType != "sensecraft_recamera_cam_state" {
			t.Errorf("message = %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
	select {
	case <-other.send:
		t.Error("prefix subscription should not match")
	default:
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Nop())
	c := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}

	hub.Register(c)
	if hub.ClientCount() != 1 {
		t.Errorf("count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(c)
	hub.Unregister(c)
	if hub.ClientCount() != 0 {
		t.Errorf("count = %d, want 0", hub.ClientCount())
	}
}

// =============================================================================
// Live server
// =============================================================================

func TestServer_StartAndClose(t *testing.T) {
	srv, _ := testServer(t, false)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := http.Get("http://" + srv.Addr() + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

// startStream runs srv with a live bus and returns its address.
func startStream(t *testing.T, authEnabled bool) (*Server, *eventbus.Bus) {
	t.Helper()
	srv, _ := testServer(t, authEnabled)
	bus := eventbus.New(nil)
	srv.events = bus

	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx)
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, bus
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m WSMessage
	if err := ws.ReadJSON(&m); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return m
}

func TestStream_SubscribeAndReceive(t *testing.T) {
	srv, bus := startStream(t, false)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()

	name := eventbus.Name("watcher", "eui1", "alarm")
	if err := ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "sub-1", Payload: WSSubscribePayload{Events: []string{name}}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if m := readMessage(t, ws); m.Type != WSTypeResponse || m.ID != "sub-1" {
		t.Fatalf("subscribe reply = %+v", m)
	}

	bus.Fire(eventbus.Name("watcher", "eui1", "temperature"), map[string]any{"value": 20.0})
	bus.Fire(name, map[string]any{"text": "person"})

	m := readMessage(t, ws)
	if m.Type != WSTypeEvent || m.EventType != name {
		t.Fatalf("event = %+v", m)
	}
	if payload, _ := m.Payload.(map[string]any); payload["text"] != "person" {
		t.Errorf("payload = %v", m.Payload)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if m := readMessage(t, ws); m.Type != WSTypePong || m.ID != "p" {
		t.Errorf("pong = %+v", m)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if m := readMessage(t, ws); m.Type != WSTypeError {
		t.Errorf("invalid message reply = %+v", m)
	}
	if err := ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "empty"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if m := readMessage(t, ws); m.Type != WSTypeError || m.ID != "empty" {
		t.Errorf("empty subscribe reply = %+v", m)
	}
}

func TestStream_TicketRequiredWithAuth(t *testing.T) {
	srv, _ := startStream(t, true)
	base := "ws://" + srv.Addr() + "/api/v1/ws"

	for _, url := range []string{base, base + "?ticket=invalid"} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("Dial(%s) should fail", url)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Dial(%s) response = %v, want 401", url, resp)
		}
	}

	ticket := srv.tickets.issue("operator")
	ws, _, err := websocket.DefaultDialer.Dial(base+"?ticket="+ticket, nil)
	if err != nil {
		t.Fatalf("Dial() with ticket error = %v", err)
	}
	ws.Close()
}
