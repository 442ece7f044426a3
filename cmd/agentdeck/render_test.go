package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/session"
	"github.com/gosuda/agentdeck/internal/transcript"
)

func newTestRenderer(snap session.Snapshot) (*renderer, *bytes.Buffer) {
	var buf bytes.Buffer
	r := newRenderer(&buf, transcript.DisplayPolicy{MaxChars: 20, FirstLineOnly: true}, false,
		func() session.Snapshot { return snap })
	return r, &buf
}

func turnUpdate(op transcript.Op, index int, turn domain.Turn, total int) session.Update {
	return session.Update{
		Kind:      session.UpdateTurn,
		ContextID: "ctx",
		Phase:     session.PhaseRunning,
		Connected: true,
		Change:    &session.TurnChange{Op: op, Index: index, Turn: turn},
		Turns:     total,
	}
}

func TestRenderer_FinalizedTurnsOnly(t *testing.T) {
	r, buf := newTestRenderer(session.Snapshot{})

	r.render(turnUpdate(transcript.OpAppend, 0, domain.Turn{Role: domain.RoleUser, Content: "hi"}, 1))
	r.render(turnUpdate(transcript.OpAppend, 1, domain.Turn{Role: domain.RoleAgent, Content: "Hel", Streaming: true}, 2))
	r.render(turnUpdate(transcript.OpUpdate, 1, domain.Turn{Role: domain.RoleAgent, Content: "Hello", Streaming: true}, 2))
	r.render(turnUpdate(transcript.OpFinalize, 1, domain.Turn{Role: domain.RoleAgent, Content: "Hello there"}, 2))

	out := buf.String()
	assert.Contains(t, out, "user: hi")
	assert.Contains(t, out, "agent: Hello there")
	assert.NotContains(t, out, "agent: Hel\n")
	assert.Equal(t, 1, strings.Count(out, "agent:"))
}

func TestRenderer_SystemTurnsAreTruncated(t *testing.T) {
	r, buf := newTestRenderer(session.Snapshot{})

	r.render(turnUpdate(transcript.OpAppend, 0, domain.Turn{Role: domain.RoleSystem, Content: "building step one\nstep two"}, 1))
	assert.Contains(t, buf.String(), "system: building step one… (/expand)")

	assert.True(t, r.toggleExpand())
	r.render(turnUpdate(transcript.OpAppend, 1, domain.Turn{Role: domain.RoleSystem, Content: "a\nb"}, 2))
	assert.Contains(t, buf.String(), "system: a\nb")
}

func TestRenderer_Backfill(t *testing.T) {
	snap := session.Snapshot{Turns: []domain.Turn{
		{Role: domain.RoleUser, Content: "old question"},
		{Role: domain.RoleAgent, Content: "old answer"},
		{Role: domain.RoleUser, Content: "live"},
	}}
	r, buf := newTestRenderer(snap)

	r.render(session.Update{Kind: session.UpdateReset, Phase: session.PhaseStarting})
	r.render(turnUpdate(transcript.OpAppend, 0, domain.Turn{Role: domain.RoleUser, Content: "live"}, 1))
	r.render(session.Update{Kind: session.UpdateBackfill, Phase: session.PhaseStarting, Turns: 3})

	out := buf.String()
	assert.Contains(t, out, "--- new transcript ---")
	assert.Contains(t, out, "user: old question")
	assert.Contains(t, out, "agent: old answer")
	assert.Equal(t, 1, strings.Count(out, "user: live"))
}

func TestRenderer_Notices(t *testing.T) {
	r, buf := newTestRenderer(session.Snapshot{})

	r.render(session.Update{Kind: session.UpdatePhase, Phase: session.PhaseStarting})
	r.render(session.Update{Kind: session.UpdatePhase, Phase: session.PhaseRunning, SessionID: "4", Agent: "echo", ContextID: "ctx"})
	r.render(session.Update{Kind: session.UpdateLiveness, Phase: session.PhaseRunning, ContextID: "ctx", Connected: true})
	r.render(session.Update{Kind: session.UpdateTyping, Phase: session.PhaseRunning, ContextID: "ctx", Connected: true, Typing: true})
	r.render(session.Update{Kind: session.UpdateLiveness, Phase: session.PhaseRunning, ContextID: "ctx", Connected: false})
	r.render(session.Update{Kind: session.UpdateStatus, Phase: session.PhaseRunning, ContextID: "ctx", Status: domain.SessionStatusUnresponsive})
	r.render(session.Update{Kind: session.UpdatePhase, Phase: session.PhaseError, Error: "boom"})
	r.render(session.Update{Kind: session.UpdatePhase, Phase: session.PhaseStopped})

	out := buf.String()
	assert.Contains(t, out, "attached to session 4 (echo)")
	assert.Contains(t, out, "agent is typing...")
	assert.Contains(t, out, "agent unresponsive: no heartbeat")
	assert.Contains(t, out, "session status: unresponsive")
	assert.Contains(t, out, "error: boom")
	assert.Contains(t, out, "session stopped")
}

func TestRenderer_RepeatedStateIsQuiet(t *testing.T) {
	r, buf := newTestRenderer(session.Snapshot{})

	u := session.Update{Kind: session.UpdatePhase, Phase: session.PhaseRunning, SessionID: "4", Agent: "echo"}
	r.render(u)
	r.render(u)
	r.render(session.Update{Kind: session.UpdateStatus, Phase: session.PhaseRunning, Status: domain.SessionStatusRunning})

	assert.Equal(t, 1, strings.Count(buf.String(), "attached to session"))
	assert.NotContains(t, buf.String(), "session status")
}

func TestRenderer_RecoversDroppedFinalize(t *testing.T) {
	snap := session.Snapshot{Turns: []domain.Turn{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAgent, Content: "Hello there"},
		{Role: domain.RoleUser, Content: "next"},
	}}
	r, buf := newTestRenderer(snap)

	r.render(turnUpdate(transcript.OpAppend, 0, domain.Turn{Role: domain.RoleUser, Content: "hi"}, 1))
	r.render(turnUpdate(transcript.OpAppend, 1, domain.Turn{Role: domain.RoleAgent, Content: "Hel", Streaming: true}, 2))
	r.render(turnUpdate(transcript.OpAppend, 2, domain.Turn{Role: domain.RoleUser, Content: "next"}, 3))

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "agent: Hello there"))
	assert.Less(t, strings.Index(out, "agent: Hello there"), strings.Index(out, "user: next"))
}

func TestRenderer_ResyncsAfterDroppedAppends(t *testing.T) {
	snap := session.Snapshot{Turns: []domain.Turn{
		{Role: domain.RoleUser, Content: "one"},
		{Role: domain.RoleAgent, Content: "two"},
		{Role: domain.RoleUser, Content: "three"},
		{Role: domain.RoleAgent, Content: "fou", Streaming: true},
	}}
	r, buf := newTestRenderer(snap)

	r.render(turnUpdate(transcript.OpAppend, 0, domain.Turn{Role: domain.RoleUser, Content: "one"}, 1))
	r.render(session.Update{Kind: session.UpdateTyping, Phase: session.PhaseRunning, ContextID: "ctx", Connected: true, Turns: 3})
	r.render(turnUpdate(transcript.OpAppend, 3, domain.Turn{Role: domain.RoleAgent, Content: "fou", Streaming: true}, 4))
	r.render(turnUpdate(transcript.OpFinalize, 3, domain.Turn{Role: domain.RoleAgent, Content: "four"}, 4))

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "user: one"))
	assert.Contains(t, out, "agent: two")
	assert.Contains(t, out, "user: three")
	assert.Contains(t, out, "agent: four")
	assert.NotContains(t, out, "agent: fou\n")
}
