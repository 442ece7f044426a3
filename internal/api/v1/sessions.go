package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/session"
)

// LifecycleBody is the result of a lifecycle operation.
type LifecycleBody struct {
	Phase   session.Phase   `json:"phase" doc:"Controller phase after the operation"`
	Session *domain.Session `json:"session,omitempty" doc:"Active session, if any"`
}

type LifecycleOutput struct {
	Body LifecycleBody
}

type ListSessionsOutput struct {
	Body []domain.Session
}

type CreateSessionInput struct {
	Body struct {
		AgentName string `json:"agent_name" minLength:"1" maxLength:"200" doc:"Agent to start"`
	}
}

type SessionIDInput struct {
	ID string `path:"id" minLength:"1" doc:"Session ID"`
}

type SessionStateBody struct {
	ContextID       string          `json:"context_id,omitempty"`
	Phase           session.Phase   `json:"phase"`
	Session         *domain.Session `json:"session,omitempty"`
	Connected       bool            `json:"connected" doc:"Whether the agent is currently live"`
	Typing          bool            `json:"typing" doc:"Whether the agent is composing"`
	LastHeartbeatAt *time.Time      `json:"last_heartbeat_at,omitempty"`
	Turns           int             `json:"turns"`
	Error           string          `json:"error,omitempty"`
}

type SessionStateOutput struct {
	Body SessionStateBody
}

func lifecycleOutput(ctrl SessionController) *LifecycleOutput {
	snap := ctrl.Snapshot()
	return &LifecycleOutput{Body: LifecycleBody{Phase: snap.Phase, Session: snap.Session}}
}

func RegisterSessionRoutes(api huma.API, dir Directory, ctrl SessionController) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions known to the backend",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, _ *struct{}) (*ListSessionsOutput, error) {
		sessions, err := dir.ListSessions(ctx)
		if err != nil {
			return nil, huma.Error502BadGateway("failed to list sessions", err)
		}
		if sessions == nil {
			sessions = []domain.Session{}
		}
		return &ListSessionsOutput{Body: sessions}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Start a new session and attach to it",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *CreateSessionInput) (*LifecycleOutput, error) {
		if _, err := ctrl.Create(ctx, input.Body.AgentName); err != nil {
			return nil, lifecycleError(ctrl, "failed to create session", err)
		}
		return lifecycleOutput(ctrl), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/attach",
		Summary:     "Attach to an existing session",
		Description: "Stops a different running session first, restarts the target when it is stopped, and backfills its transcript.",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *SessionIDInput) (*LifecycleOutput, error) {
		if _, err := ctrl.Attach(ctx, domain.SessionID(input.ID)); err != nil {
			return nil, lifecycleError(ctrl, "failed to attach session", err)
		}
		return lifecycleOutput(ctrl), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restart-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/restart",
		Summary:     "Restart a session and attach to it",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *SessionIDInput) (*LifecycleOutput, error) {
		if _, err := ctrl.Restart(ctx, domain.SessionID(input.ID)); err != nil {
			return nil, lifecycleError(ctrl, "failed to restart session", err)
		}
		return lifecycleOutput(ctrl), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-session",
		Method:      http.MethodDelete,
		Path:        "/sessions/{id}",
		Summary:     "Delete a session and its stored messages",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *SessionIDInput) (*LifecycleOutput, error) {
		if err := ctrl.Delete(ctx, domain.SessionID(input.ID)); err != nil {
			return nil, lifecycleError(ctrl, "failed to delete session", err)
		}
		return lifecycleOutput(ctrl), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-session",
		Method:      http.MethodPost,
		Path:        "/session/stop",
		Summary:     "Stop the active session",
		Tags:        []string{"Session"},
	}, func(ctx context.Context, _ *struct{}) (*LifecycleOutput, error) {
		if err := ctrl.Stop(ctx); err != nil {
			return nil, lifecycleError(ctrl, "failed to stop session", err)
		}
		return lifecycleOutput(ctrl), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session-state",
		Method:      http.MethodGet,
		Path:        "/session",
		Summary:     "Get the controller state",
		Tags:        []string{"Session"},
	}, func(_ context.Context, _ *struct{}) (*SessionStateOutput, error) {
		snap := ctrl.Snapshot()
		body := SessionStateBody{
			ContextID: snap.ContextID,
			Phase:     snap.Phase,
			Session:   snap.Session,
			Connected: snap.Connected,
			Typing:    snap.Typing,
			Turns:     len(snap.Turns),
			Error:     snap.Error,

			LastHeartbeatAt: snap.LastHeartbeatAt,
		}
		return &SessionStateOutput{Body: body}, nil
	})
}
