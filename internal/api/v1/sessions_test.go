package v1_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/agentdeck/internal/api/v1"
	"github.com/gosuda/agentdeck/internal/directory"
	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/session"
)

func newSessionTestAPI(t *testing.T) (humatest.TestAPI, *mockDirectory, *mockController) {
	t.Helper()

	_, api := humatest.New(t)
	dir := &mockDirectory{}
	ctrl := &mockController{snapshot: session.Snapshot{Phase: session.PhaseIdle}}

	v1.RegisterSessionRoutes(api, dir, ctrl)

	return api, dir, ctrl
}

func running(id domain.SessionID) session.Snapshot {
	return session.Snapshot{
		Phase:     session.PhaseRunning,
		Session:   &domain.Session{ID: id, AgentName: "echo", Status: domain.SessionStatusRunning},
		Connected: true,
	}
}

// ---------------------------------------------------------------------------
// GET /sessions
// ---------------------------------------------------------------------------

func TestListSessions(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		api, dir, _ := newSessionTestAPI(t)
		created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		dir.listSessionsFunc = func(context.Context) ([]domain.Session, error) {
			return []domain.Session{{ID: "2", AgentName: "echo", Status: domain.SessionStatusStopped, CreatedAt: created}}, nil
		}

		resp := api.Get("/sessions")

		require.Equal(t, http.StatusOK, resp.Code)
		var body []domain.Session
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.Len(t, body, 1)
		assert.Equal(t, domain.SessionID("2"), body[0].ID)
		assert.Equal(t, domain.SessionStatusStopped, body[0].Status)
		assert.True(t, created.Equal(body[0].CreatedAt))
	})

	t.Run("backend_error", func(t *testing.T) {
		t.Parallel()

		api, dir, _ := newSessionTestAPI(t)
		dir.listSessionsFunc = func(context.Context) ([]domain.Session, error) {
			return nil, &directory.APIError{StatusCode: http.StatusInternalServerError}
		}

		resp := api.Get("/sessions")

		assert.Equal(t, http.StatusBadGateway, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// POST /sessions
// ---------------------------------------------------------------------------

func TestCreateSession(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		api, _, ctrl := newSessionTestAPI(t)
		ctrl.createFunc = func(_ context.Context, agentName string) (domain.Session, error) {
			assert.Equal(t, "echo", agentName)
			ctrl.snapshot = running("1")
			return *ctrl.snapshot.Session, nil
		}

		resp := api.Post("/sessions", map[string]any{"agent_name": "echo"})

		require.Equal(t, http.StatusOK, resp.Code)
		var body v1.LifecycleBody
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, session.PhaseRunning, body.Phase)
		require.NotNil(t, body.Session)
		assert.Equal(t, domain.SessionID("1"), body.Session.ID)
	})

	t.Run("empty_agent_name", func(t *testing.T) {
		t.Parallel()

		api, _, _ := newSessionTestAPI(t)

		resp := api.Post("/sessions", map[string]any{"agent_name": ""})

		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})

	t.Run("unknown_agent_reports_error_phase", func(t *testing.T) {
		t.Parallel()

		api, _, ctrl := newSessionTestAPI(t)
		ctrl.createFunc = func(context.Context, string) (domain.Session, error) {
			ctrl.snapshot = session.Snapshot{Phase: session.PhaseError}
			return domain.Session{}, fmt.Errorf("session.Controller.Create: %w",
				&directory.APIError{StatusCode: http.StatusNotFound, Detail: "Agent not found"})
		}

		resp := api.Post("/sessions", map[string]any{"agent_name": "ghost"})

		require.Equal(t, http.StatusNotFound, resp.Code)
		assert.Equal(t, "error", phaseDetail(t, resp.Body.Bytes()))
	})

	t.Run("backend_failure_is_bad_gateway", func(t *testing.T) {
		t.Parallel()

		api, _, ctrl := newSessionTestAPI(t)
		ctrl.createFunc = func(context.Context, string) (domain.Session, error) {
			ctrl.snapshot = session.Snapshot{Phase: session.PhaseError}
			return domain.Session{}, &directory.APIError{StatusCode: http.StatusInternalServerError, Detail: "spawn failed"}
		}

		resp := api.Post("/sessions", map[string]any{"agent_name": "echo"})

		require.Equal(t, http.StatusBadGateway, resp.Code)
		assert.Contains(t, parseErrorBody(t, resp.Body.Bytes())["detail"], "spawn failed")
	})
}

// ---------------------------------------------------------------------------
// POST /sessions/{id}/attach, /restart
// ---------------------------------------------------------------------------

func TestAttachSession(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		api, _, ctrl := newSessionTestAPI(t)
		ctrl.attachFunc = func(_ context.Context, id domain.SessionID) (domain.Session, error) {
			assert.Equal(t, domain.SessionID("42"), id)
			ctrl.snapshot = running(id)
			return *ctrl.snapshot.Session, nil
		}

		resp := api.Post("/sessions/42/attach")

		require.Equal(t, http.StatusOK, resp.Code)
		var body v1.LifecycleBody
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, domain.SessionID("42"), body.Session.ID)
	})

	t.Run("superseded_is_conflict", func(t *testing.T) {
		t.Parallel()

		api, _, ctrl := newSessionTestAPI(t)
		ctrl.attachFunc = func(context.Context, domain.SessionID) (domain.Session, error) {
			ctrl.snapshot = running("43")
			return domain.Session{}, session.ErrSuperseded
		}

		resp := api.Post("/sessions/42/attach")

		require.Equal(t, http.StatusConflict, resp.Code)
		assert.Equal(t, "running", phaseDetail(t, resp.Body.Bytes()))
	})

	t.Run("partial_failure", func(t *testing.T) {
		t.Parallel()

		api, _, ctrl := newSessionTestAPI(t)
		ctrl.attachFunc = func(context.Context, domain.SessionID) (domain.Session, error) {
			ctrl.snapshot = session.Snapshot{Phase: session.PhaseError}
			return domain.Session{}, errors.Join(errors.New("resolve status: boom"), nil)
		}

		resp := api.Post("/sessions/42/attach")

		require.Equal(t, http.StatusInternalServerError, resp.Code)
		assert.Equal(t, "error", phaseDetail(t, resp.Body.Bytes()))
	})
}

func TestRestartSession(t *testing.T) {
	t.Parallel()

	api, _, ctrl := newSessionTestAPI(t)
	ctrl.restartFunc = func(_ context.Context, id domain.SessionID) (domain.Session, error) {
		ctrl.snapshot = running(id)
		return *ctrl.snapshot.Session, nil
	}

	resp := api.Post("/sessions/7/restart")

	require.Equal(t, http.StatusOK, resp.Code)
	var body v1.LifecycleBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, domain.SessionStatusRunning, body.Session.Status)
}

// ---------------------------------------------------------------------------
// DELETE /sessions/{id}, POST /session/stop
// ---------------------------------------------------------------------------

func TestDeleteSession(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		api, _, ctrl := newSessionTestAPI(t)
		ctrl.deleteFunc = func(_ context.Context, id domain.SessionID) error {
			assert.Equal(t, domain.SessionID("3"), id)
			ctrl.snapshot = session.Snapshot{Phase: session.PhaseStopped}
			return nil
		}

		resp := api.Delete("/sessions/3")

		require.Equal(t, http.StatusOK, resp.Code)
		var body v1.LifecycleBody
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, session.PhaseStopped, body.Phase)
		assert.Nil(t, body.Session)
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()

		api, _, ctrl := newSessionTestAPI(t)
		ctrl.deleteFunc = func(context.Context, domain.SessionID) error {
			return fmt.Errorf("session.Controller.Delete: %w", domain.ErrNotFound)
		}

		resp := api.Delete("/sessions/404")

		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestStopSession(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		api, _, ctrl := newSessionTestAPI(t)
		ctrl.snapshot = running("1")
		ctrl.stopFunc = func(context.Context) error {
			ctrl.snapshot = session.Snapshot{Phase: session.PhaseStopped}
			return nil
		}

		resp := api.Post("/session/stop")

		require.Equal(t, http.StatusOK, resp.Code)
		var body v1.LifecycleBody
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, session.PhaseStopped, body.Phase)
	})

	t.Run("no_active_session", func(t *testing.T) {
		t.Parallel()

		api, _, ctrl := newSessionTestAPI(t)
		ctrl.stopFunc = func(context.Context) error {
			return fmt.Errorf("session.Controller.Stop: %w", session.ErrNoActiveSession)
		}

		resp := api.Post("/session/stop")

		require.Equal(t, http.StatusConflict, resp.Code)
		assert.Equal(t, "idle", phaseDetail(t, resp.Body.Bytes()))
	})

	t.Run("closed_controller", func(t *testing.T) {
		t.Parallel()

		api, _, ctrl := newSessionTestAPI(t)
		ctrl.stopFunc = func(context.Context) error { return session.ErrClosed }

		resp := api.Post("/session/stop")

		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// GET /session
// ---------------------------------------------------------------------------

func TestGetSessionState(t *testing.T) {
	t.Parallel()

	api, _, ctrl := newSessionTestAPI(t)
	heartbeat := time.Date(2026, 3, 1, 12, 0, 45, 0, time.UTC)
	ctrl.snapshot = running("9")
	ctrl.snapshot.ContextID = "ctx-9"
	ctrl.snapshot.Typing = true
	ctrl.snapshot.LastHeartbeatAt = &heartbeat
	ctrl.snapshot.Turns = []domain.Turn{{Role: domain.RoleUser, Content: "hi"}}

	resp := api.Get("/session")

	require.Equal(t, http.StatusOK, resp.Code)
	var body v1.SessionStateBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "ctx-9", body.ContextID)
	assert.Equal(t, session.PhaseRunning, body.Phase)
	assert.True(t, body.Connected)
	assert.True(t, body.Typing)
	assert.Equal(t, 1, body.Turns)
	require.NotNil(t, body.LastHeartbeatAt)
	assert.True(t, heartbeat.Equal(*body.LastHeartbeatAt))
}
