package v1

import (
	"context"

	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/session"
)

// Directory abstracts the read side of the session directory for handler testing.
// *directory.Client satisfies this interface.
type Directory interface {
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)
}

// SessionController abstracts lifecycle operations for handler testing.
// *session.Controller satisfies this interface.
type SessionController interface {
	Create(ctx context.Context, agentName string) (domain.Session, error)
	Attach(ctx context.Context, id domain.SessionID) (domain.Session, error)
	Restart(ctx context.Context, id domain.SessionID) (domain.Session, error)
	Stop(ctx context.Context) error
	Delete(ctx context.Context, id domain.SessionID) error
	SendUserMessage(ctx context.Context, text string) error
	Snapshot() session.Snapshot
}
