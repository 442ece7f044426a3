package v1_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/session"
)

// ---------------------------------------------------------------------------
// Mock Directory
// ---------------------------------------------------------------------------

type mockDirectory struct {
	listAgentsFunc   func(ctx context.Context) ([]domain.Agent, error)
	listSessionsFunc func(ctx context.Context) ([]domain.Session, error)
}

func (m *mockDirectory) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	return m.listAgentsFunc(ctx)
}

func (m *mockDirectory) ListSessions(ctx context.Context) ([]domain.Session, error) {
	return m.listSessionsFunc(ctx)
}

// ---------------------------------------------------------------------------
// Mock SessionController
// ---------------------------------------------------------------------------

type mockController struct {
	createFunc  func(ctx context.Context, agentName string) (domain.Session, error)
	attachFunc  func(ctx context.Context, id domain.SessionID) (domain.Session, error)
	restartFunc func(ctx context.Context, id domain.SessionID) (domain.Session, error)
	stopFunc    func(ctx context.Context) error
	deleteFunc  func(ctx context.Context, id domain.SessionID) error
	sendFunc    func(ctx context.Context, text string) error

	snapshot session.Snapshot
}

func (m *mockController) Create(ctx context.Context, agentName string) (domain.Session, error) {
	return m.createFunc(ctx, agentName)
}

func (m *mockController) Attach(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	return m.attachFunc(ctx, id)
}

func (m *mockController) Restart(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	return m.restartFunc(ctx, id)
}

func (m *mockController) Stop(ctx context.Context) error {
	return m.stopFunc(ctx)
}

func (m *mockController) Delete(ctx context.Context, id domain.SessionID) error {
	return m.deleteFunc(ctx, id)
}

func (m *mockController) SendUserMessage(ctx context.Context, text string) error {
	return m.sendFunc(ctx, text)
}

func (m *mockController) Snapshot() session.Snapshot {
	return m.snapshot
}

// parseErrorBody decodes the RFC 9457 problem detail from the response body.
func parseErrorBody(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

// phaseDetail extracts the phase attached to a lifecycle error.
func phaseDetail(t *testing.T, raw []byte) string {
	t.Helper()
	body := parseErrorBody(t, raw)
	errs, ok := body["errors"].([]any)
	require.True(t, ok, "missing error details: %v", body)
	for _, e := range errs {
		detail, _ := e.(map[string]any)
		if detail["location"] == "phase" {
			s, _ := detail["value"].(string)
			return s
		}
	}
	t.Fatalf("no phase detail in %v", body)
	return ""
}
