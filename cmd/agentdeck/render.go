package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/session"
	"github.com/gosuda/agentdeck/internal/transcript"
)

// renderer prints a transcript to a terminal as controller updates arrive.
// Finalized turns are printed once; streaming content is shown only when
// its turn completes.
type renderer struct {
	mu       sync.Mutex
	out      io.Writer
	policy   transcript.DisplayPolicy
	expand   bool
	snapshot func() session.Snapshot

	lastLen   int
	pending   int
	phase     session.Phase
	status    domain.SessionStatus
	typing    bool
	connected bool
}

func newRenderer(out io.Writer, policy transcript.DisplayPolicy, expand bool, snapshot func() session.Snapshot) *renderer {
	return &renderer{
		out:      out,
		policy:   policy,
		expand:   expand,
		snapshot: snapshot,
		pending:  -1,
		phase:    session.PhaseIdle,
	}
}

func (r *renderer) render(u session.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch u.Kind {
	case session.UpdateReset:
		r.pending = -1
		r.line(noticeStyle.Render("--- new transcript ---"))
	case session.UpdateBackfill:
		// Persisted turns are prepended; they are the first k turns.
		if k := u.Turns - r.lastLen; k > 0 {
			turns := r.snapshot().Turns
			for _, turn := range turns[:min(k, len(turns))] {
				r.turn(turn)
			}
			if r.pending >= 0 {
				r.pending += k
			}
		}
	case session.UpdateTurn:
		if c := u.Change; c != nil {
			r.turnChanged(u, c)
		}
	case session.UpdatePhase:
		if u.Phase != r.phase {
			r.phaseChanged(u)
		}
	case session.UpdateStatus:
		if u.Status != r.status && u.Status.Degraded() {
			r.line(noticeStyle.Render("session status: " + string(u.Status)))
		}
	case session.UpdateLiveness, session.UpdateTyping:
	}

	if u.Typing && !r.typing {
		r.line(systemStyle.Render("agent is typing..."))
	}
	if r.connected && !u.Connected && u.Phase == session.PhaseRunning && u.ContextID != "" {
		r.line(errorStyle.Render("agent unresponsive: no heartbeat"))
	}

	// Only transcript updates advance the count, so a gap left by a dropped
	// turn update is still visible to the next one.
	switch u.Kind {
	case session.UpdateReset, session.UpdateBackfill, session.UpdateTurn:
		r.lastLen = u.Turns
	case session.UpdatePhase, session.UpdateStatus, session.UpdateLiveness, session.UpdateTyping:
	}
	r.phase = u.Phase
	r.status = u.Status
	r.typing = u.Typing
	r.connected = u.Connected
}

func (r *renderer) turnChanged(u session.Update, c *session.TurnChange) {
	grown := 0
	if c.Op == transcript.OpAppend || c.Op == transcript.OpInsert {
		grown = 1
	}
	if u.Turns-r.lastLen > grown {
		r.resync(u.Turns)
		return
	}

	switch c.Op {
	case transcript.OpAppend:
		if r.pending >= 0 && c.Index > r.pending {
			r.flushPending()
		}
		if c.Turn.Streaming {
			r.pending = c.Index
		} else {
			r.turn(c.Turn)
		}
	case transcript.OpInsert:
		if r.pending >= 0 && c.Index <= r.pending {
			r.pending++
		}
		if !c.Turn.Streaming {
			r.turn(c.Turn)
		}
	case transcript.OpFinalize:
		if c.Index == r.pending {
			r.pending = -1
		}
		r.turn(c.Turn)
	case transcript.OpUpdate, transcript.OpNone:
	}
}

// flushPending prints the streaming turn last seen unfinished once a later
// turn shows that it has completed, covering a dropped finalize update.
func (r *renderer) flushPending() {
	turns := r.snapshot().Turns
	if r.pending < len(turns) && !turns[r.pending].Streaming {
		r.turn(turns[r.pending])
	}
	r.pending = -1
}

// resync prints the turns added by updates that never arrived, reading them
// from the current transcript.
func (r *renderer) resync(total int) {
	if r.pending >= 0 {
		r.flushPending()
	}
	turns := r.snapshot().Turns
	for i := r.lastLen; i < min(total, len(turns)); i++ {
		if turns[i].Streaming {
			r.pending = i
			continue
		}
		r.turn(turns[i])
	}
}

func (r *renderer) phaseChanged(u session.Update) {
	switch u.Phase {
	case session.PhaseRunning:
		r.line(noticeStyle.Render(fmt.Sprintf("attached to session %s (%s)", u.SessionID, u.Agent)))
	case session.PhaseError:
		r.line(errorStyle.Render("error: " + u.Error))
	case session.PhaseStopped:
		r.line(noticeStyle.Render("session stopped"))
	case session.PhaseStarting, session.PhaseIdle:
	}
}

func (r *renderer) turn(turn domain.Turn) {
	text, truncated := r.policy.Display(turn, r.expand)
	prefix := ""
	if !turn.Timestamp.IsZero() {
		prefix = dateStyle.Render(turn.Timestamp.Local().Format("15:04:05")) + " "
	}
	if truncated {
		text += dateStyle.Render(" (/expand)")
	}
	r.line(prefix + roleStyle(turn.Role).Render(string(turn.Role)+":") + " " + text)
}

// notice prints a line that is not part of the transcript.
func (r *renderer) notice(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line(noticeStyle.Render(text))
}

// toggleExpand flips whether system turns are shown in full.
func (r *renderer) toggleExpand() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expand = !r.expand
	return r.expand
}

func (r *renderer) line(s string) {
	fmt.Fprintln(r.out, s)
}
