package session

import (
	"context"
	"time"

	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/transcript"
)

// UpdatesChannel is the pub/sub channel that carries every update.
const UpdatesChannel = "updates"

// Channel returns the pub/sub channel carrying updates for one session.
func Channel(id domain.SessionID) string {
	return "session:" + id.String()
}

// Publisher fans controller updates out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// UpdateKind discriminates updates.
type UpdateKind string

const (
	UpdatePhase    UpdateKind = "phase"
	UpdateStatus   UpdateKind = "status"
	UpdateLiveness UpdateKind = "liveness"
	UpdateTyping   UpdateKind = "typing"
	UpdateTurn     UpdateKind = "turn"
	UpdateReset    UpdateKind = "reset"
	UpdateBackfill UpdateKind = "backfill"
)

// TurnChange is the wire form of a transcript mutation.
type TurnChange struct {
	Op    transcript.Op `json:"op"`
	Index int           `json:"index"`
	Turn  domain.Turn   `json:"turn"`
}

// Update is one observable change of controller state.
type Update struct {
	Kind      UpdateKind           `json:"kind"`
	ContextID string               `json:"context_id,omitempty"`
	SessionID domain.SessionID     `json:"session_id,omitempty"`
	Agent     string               `json:"agent,omitempty"`
	Phase     Phase                `json:"phase"`
	Status    domain.SessionStatus `json:"status,omitempty"`
	Connected bool                 `json:"connected"`
	Typing    bool                 `json:"typing"`
	Change    *TurnChange          `json:"change,omitempty"`
	Turns     int                  `json:"turns"`
	Error     string               `json:"error,omitempty"`
	At        time.Time            `json:"at"`
}
