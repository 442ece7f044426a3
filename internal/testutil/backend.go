// Package testutil provides an in-process fake of the agent backend: the
// session REST API plus the per-session WebSocket endpoint. It mirrors the
// behavior of the real backend closely enough for client tests, including
// echoing user messages back as user turns.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/gosuda/agentdeck/internal/domain"
)

// PersistedMessage is a stored message as served by GET sessions/{id}/messages.
type PersistedMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type fakeSession struct {
	session  domain.Session
	messages []PersistedMessage
	conns    map[*websocket.Conn]struct{}
	received []string
}

// Backend is a fake agent backend served over httptest.
type Backend struct {
	Server *httptest.Server

	mu        sync.Mutex
	agents    []domain.Agent
	sessions  map[domain.SessionID]*fakeSession
	order     []domain.SessionID
	nextID    int
	calls     []string
	failures  map[string]int
	holds     map[string]chan struct{}
	connected chan domain.SessionID
	now       func() time.Time
}

// NewBackend starts a fake backend that is shut down when the test ends.
func NewBackend(t testing.TB) *Backend {
	t.Helper()

	b := &Backend{
		sessions:  make(map[domain.SessionID]*fakeSession),
		failures:  make(map[string]int),
		holds:     make(map[string]chan struct{}),
		connected: make(chan domain.SessionID, 64),
		now:       time.Now,
	}

	r := chi.NewRouter()
	r.Get("/agents", b.listAgents)
	r.Get("/sessions", b.listSessions)
	r.Post("/sessions", b.createSession)
	r.Get("/sessions/{id}", b.getSession)
	r.Post("/sessions/{id}/stop", b.stopSession)
	r.Post("/sessions/{id}/restart", b.restartSession)
	r.Delete("/sessions/{id}", b.deleteSession)
	r.Get("/sessions/{id}/messages", b.getMessages)
	r.Get("/ws/{id}", b.serveWS)

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Close)

	return b
}

// Close disconnects all sockets and stops the server.
func (b *Backend) Close() {
	b.mu.Lock()
	for _, s := range b.sessions {
		for conn := range s.conns {
			_ = conn.CloseNow()
		}
	}
	for key, ch := range b.holds {
		close(ch)
		delete(b.holds, key)
	}
	b.mu.Unlock()
	b.Server.Close()
}

// URL is the REST base URL.
func (b *Backend) URL() string { return b.Server.URL }

// WSURL is the WebSocket base URL.
func (b *Backend) WSURL() string { return "ws" + strings.TrimPrefix(b.Server.URL, "http") }

// AddAgent registers an agent in the catalog.
func (b *Backend) AddAgent(name, description string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.agents = append(b.agents, domain.Agent{Name: name, Description: description})
}

// AddSession creates a session directly, bypassing the API.
func (b *Backend) AddSession(agentName string, status domain.SessionStatus) domain.SessionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addSessionLocked(agentName, status)
}

func (b *Backend) addSessionLocked(agentName string, status domain.SessionStatus) domain.SessionID {
	b.nextID++
	id := domain.SessionID(strconv.Itoa(b.nextID))
	b.sessions[id] = &fakeSession{
		session: domain.Session{ID: id, AgentName: agentName, Status: status, CreatedAt: b.now().UTC()},
		conns:   make(map[*websocket.Conn]struct{}),
	}
	b.order = append(b.order, id)
	return id
}

// AddMessage appends a persisted message to a session.
func (b *Backend) AddMessage(id domain.SessionID, role, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[id]; ok {
		s.messages = append(s.messages, PersistedMessage{
			Role:      role,
			Content:   content,
			Timestamp: b.now().UTC().Format("2006-01-02T15:04:05.000000"),
		})
	}
}

// SetStatus changes a session's status without notifying clients.
func (b *Backend) SetStatus(id domain.SessionID, status domain.SessionStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[id]; ok {
		s.session.Status = status
	}
}

// Status returns a session's current status.
func (b *Backend) Status(id domain.SessionID) (domain.SessionStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return "", false
	}
	return s.session.Status, true
}

// Fail makes the route answer with code until cleared with code 0. Routes
// are keyed as "METHOD /pattern", e.g. "POST /sessions/{id}/stop".
func (b *Backend) Fail(route string, code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if code == 0 {
		delete(b.failures, route)
		return
	}
	b.failures[route] = code
}

// Hold blocks requests to route until the returned release func is called.
func (b *Backend) Hold(route string) (release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	b.holds[route] = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.holds[route] == ch {
				delete(b.holds, route)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
}

// Calls returns the REST calls received so far, formatted "METHOD /path".
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

// Received returns user messages received over the session's sockets.
func (b *Backend) Received(id domain.SessionID) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[id]; ok {
		return slices.Clone(s.received)
	}
	return nil
}

// Connections returns the number of open sockets for a session.
func (b *Backend) Connections(id domain.SessionID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[id]; ok {
		return len(s.conns)
	}
	return 0
}

// WaitConnected blocks until a socket for id connects.
func (b *Backend) WaitConnected(t testing.TB, id domain.SessionID) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-b.connected:
			if got == id {
				return
			}
		case <-timeout:
			t.Fatalf("testutil: session %s never connected", id)
		}
	}
}

// Push sends a frame to every socket of the session.
func (b *Backend) Push(id domain.SessionID, frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("testutil.Push: %w", err)
	}
	return b.PushRaw(id, payload)
}

// PushRaw sends raw bytes to every socket of the session.
func (b *Backend) PushRaw(id domain.SessionID, payload []byte) error {
	b.mu.Lock()
	s, ok := b.sessions[id]
	var conns []*websocket.Conn
	if ok {
		for conn := range s.conns {
			conns = append(conns, conn)
		}
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("testutil.Push: %w", domain.ErrNotFound)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, conn := range conns {
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			return fmt.Errorf("testutil.Push: %w", err)
		}
	}
	return nil
}

// DisconnectAll closes every socket of the session from the server side.
func (b *Backend) DisconnectAll(id domain.SessionID) {
	b.mu.Lock()
	s, ok := b.sessions[id]
	var conns []*websocket.Conn
	if ok {
		for conn := range s.conns {
			conns = append(conns, conn)
		}
	}
	b.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutdown")
	}
}

// intercept records the call and applies configured holds and failures. It
// returns false when the response has already been written.
func (b *Backend) intercept(w http.ResponseWriter, r *http.Request, route string) bool {
	b.mu.Lock()
	b.calls = append(b.calls, r.Method+" "+r.URL.Path)
	hold := b.holds[route]
	b.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return false
		}
	}

	b.mu.Lock()
	code := b.failures[route]
	b.mu.Unlock()

	if code != 0 {
		writeJSON(w, code, map[string]string{"detail": http.StatusText(code)})
		return false
	}
	return true
}

func (b *Backend) lookup(w http.ResponseWriter, r *http.Request) (*fakeSession, bool) {
	id := domain.SessionID(chi.URLParam(r, "id"))
	s, ok := b.sessions[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Session not found"})
	}
	return s, ok
}

func (b *Backend) listAgents(w http.ResponseWriter, r *http.Request) {
	if !b.intercept(w, r, "GET /agents") {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"agents": b.agents})
}

func (b *Backend) listSessions(w http.ResponseWriter, r *http.Request) {
	if !b.intercept(w, r, "GET /sessions") {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]any, 0, len(b.order))
	for i := len(b.order) - 1; i >= 0; i-- {
		s, ok := b.sessions[b.order[i]]
		if !ok {
			continue
		}
		id, _ := strconv.Atoi(s.session.ID.String())
		out = append(out, map[string]any{
			"session_id": id,
			"agent_name": s.session.AgentName,
			"status":     s.session.Status,
			"created_at": s.session.CreatedAt.Format("2006-01-02T15:04:05.000000"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (b *Backend) createSession(w http.ResponseWriter, r *http.Request) {
	if !b.intercept(w, r, "POST /sessions") {
		return
	}
	agentName := r.URL.Query().Get("agent_name")

	b.mu.Lock()
	defer b.mu.Unlock()
	known := slices.ContainsFunc(b.agents, func(a domain.Agent) bool { return a.Name == agentName })
	if !known {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Agent not found"})
		return
	}
	id := b.addSessionLocked(agentName, domain.SessionStatusRunning)
	n, _ := strconv.Atoi(id.String())
	writeJSON(w, http.StatusOK, map[string]any{"session_id": n, "agent_name": agentName, "status": "running"})
}

func (b *Backend) getSession(w http.ResponseWriter, r *http.Request) {
	if !b.intercept(w, r, "GET /sessions/{id}") {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.session)
}

func (b *Backend) stopSession(w http.ResponseWriter, r *http.Request) {
	if !b.intercept(w, r, "POST /sessions/{id}/stop") {
		return
	}
	b.mu.Lock()
	s, ok := b.lookup(w, r)
	if ok {
		s.session.Status = domain.SessionStatusStopped
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	_ = b.Push(s.session.ID, map[string]string{"type": "status", "status": "stopped"})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session stopped successfully"})
}

func (b *Backend) restartSession(w http.ResponseWriter, r *http.Request) {
	if !b.intercept(w, r, "POST /sessions/{id}/restart") {
		return
	}
	b.mu.Lock()
	s, ok := b.lookup(w, r)
	if ok {
		s.session.Status = domain.SessionStatusRunning
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": s.session.ID,
		"agent_name": s.session.AgentName,
		"status":     "running",
	})
}

func (b *Backend) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !b.intercept(w, r, "DELETE /sessions/{id}") {
		return
	}
	b.mu.Lock()
	s, ok := b.lookup(w, r)
	if ok {
		delete(b.sessions, s.session.ID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted successfully"})
}

func (b *Backend) getMessages(w http.ResponseWriter, r *http.Request) {
	if !b.intercept(w, r, "GET /sessions/{id}/messages") {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := domain.SessionID(chi.URLParam(r, "id"))
	msgs := []PersistedMessage{}
	if s, ok := b.sessions[id]; ok {
		msgs = append(msgs, s.messages...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (b *Backend) serveWS(w http.ResponseWriter, r *http.Request) {
	id := domain.SessionID(chi.URLParam(r, "id"))

	b.mu.Lock()
	_, ok := b.sessions[id]
	b.mu.Unlock()
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	b.mu.Lock()
	s, ok := b.sessions[id]
	if ok {
		s.conns[conn] = struct{}{}
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	defer func() {
		b.mu.Lock()
		delete(s.conns, conn)
		b.mu.Unlock()
	}()

	select {
	case b.connected <- id:
	default:
	}

	ctx := r.Context()
	for {
		_, data, readErr := conn.Read(ctx)
		if readErr != nil {
			return
		}
		var frame struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}
		if json.Unmarshal(data, &frame) != nil || frame.Type != "user_message" {
			continue
		}

		b.mu.Lock()
		s.received = append(s.received, frame.Content)
		s.messages = append(s.messages, PersistedMessage{
			Role:      "user",
			Content:   frame.Content,
			Timestamp: b.now().UTC().Format("2006-01-02T15:04:05.000000"),
		})
		b.mu.Unlock()

		_ = b.Push(id, map[string]string{
			"type":      "message",
			"role":      "user",
			"content":   frame.Content,
			"timestamp": b.now().UTC().Format("2006-01-02T15:04:05.000000"),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
