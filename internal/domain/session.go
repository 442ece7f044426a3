package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// SessionID identifies a remote agent session. The server issues integer
// ids; the client treats them as opaque text.
type SessionID string

func (id SessionID) String() string { return string(id) }

// UnmarshalJSON accepts both JSON numbers and strings.
func (id *SessionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("domain.SessionID: %w", err)
		}
		*id = SessionID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("domain.SessionID: %w", err)
	}
	*id = SessionID(n.String())
	return nil
}

// SessionStatus is the server-authoritative status of a session. The client
// only mirrors it.
type SessionStatus string

const (
	SessionStatusRunning      SessionStatus = "running"
	SessionStatusStopped      SessionStatus = "stopped"
	SessionStatusExited       SessionStatus = "exited"
	SessionStatusUnresponsive SessionStatus = "unresponsive"
	SessionStatusFailed       SessionStatus = "failed"
	SessionStatusDeleted      SessionStatus = "deleted"
)

// Terminal reports whether the session has to be restarted before it can
// serve a client again.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusStopped || s == SessionStatusExited
}

// Active reports whether the server considers the agent process running.
func (s SessionStatus) Active() bool {
	return s == SessionStatusRunning
}

// Degraded reports whether the status means the agent cannot respond.
func (s SessionStatus) Degraded() bool {
	switch s {
	case SessionStatusStopped, SessionStatusExited, SessionStatusUnresponsive,
		SessionStatusFailed, SessionStatusDeleted:
		return true
	default:
		return false
	}
}

// Session is the client's mirror of a server-tracked session.
type Session struct {
	ID        SessionID     `json:"session_id"`
	AgentName string        `json:"agent_name"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}
