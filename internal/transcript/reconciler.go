// Package transcript folds the ordered inbound event sequence of a session
// into a transcript of turns.
//
// Invariants maintained by every operation:
//   - at most one turn is streaming, and if so it is the last turn;
//   - a finalized turn is never modified again;
//   - turn order is arrival order, never timestamp order. A streaming turn
//     takes its place when it is finalized, so turns completed while a
//     stream is open are inserted ahead of it.
package transcript

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/protocol"
)

// Op names the effect an event had on the transcript.
type Op string

const (
	OpNone     Op = ""
	OpAppend   Op = "append"
	OpInsert   Op = "insert"
	OpUpdate   Op = "update"
	OpFinalize Op = "finalize"
)

// Change describes one transcript mutation. Turn is a copy of the affected
// turn after the mutation.
type Change struct {
	Op    Op
	Index int
	Turn  domain.Turn
}

// Reconciler owns a transcript and the agent typing indicator. It is not
// safe for concurrent use; the session controller serializes access.
type Reconciler struct {
	clock  clock.Clock
	turns  []domain.Turn
	typing bool
}

// NewReconciler creates an empty transcript. Log turns are stamped with clk.
func NewReconciler(clk clock.Clock) *Reconciler {
	if clk == nil {
		clk = clock.New()
	}
	return &Reconciler{clock: clk}
}

// Apply folds one inbound event into the transcript.
func (r *Reconciler) Apply(evt protocol.Event) Change {
	switch evt.Type {
	case protocol.TypeMessage:
		return r.message(domain.ParseRole(evt.Role), evt.Content, r.stamp(evt.Timestamp.Time))
	case protocol.TypeMessageStream:
		return r.stream(evt.Content, r.stamp(evt.Timestamp.Time))
	case protocol.TypeLog:
		// Log frames are not trusted to carry a usable timestamp.
		return r.append(domain.Turn{Role: domain.RoleSystem, Content: evt.Content, Timestamp: r.clock.Now()})
	case protocol.TypeTyping:
		return r.setTyping(evt.Typing())
	default:
		return Change{}
	}
}

func (r *Reconciler) message(role domain.Role, content string, ts time.Time) Change {
	if idx, ok := r.streamingAgent(); ok {
		r.turns[idx] = domain.Turn{Role: role, Content: content, Timestamp: ts}
		return Change{Op: OpFinalize, Index: idx, Turn: r.turns[idx]}
	}
	return r.append(domain.Turn{Role: role, Content: content, Timestamp: ts})
}

func (r *Reconciler) stream(content string, ts time.Time) Change {
	r.typing = false
	if idx, ok := r.streamingAgent(); ok {
		// Each stream frame carries the cumulative content so far.
		r.turns[idx].Content = content
		return Change{Op: OpUpdate, Index: idx, Turn: r.turns[idx]}
	}
	return r.append(domain.Turn{Role: domain.RoleAgent, Content: content, Timestamp: ts, Streaming: true})
}

func (r *Reconciler) setTyping(typing bool) Change {
	r.typing = typing
	if typing {
		return Change{}
	}
	idx := len(r.turns) - 1
	if idx < 0 || !r.turns[idx].Streaming {
		return Change{}
	}
	r.turns[idx].Streaming = false
	return Change{Op: OpFinalize, Index: idx, Turn: r.turns[idx]}
}

func (r *Reconciler) append(turn domain.Turn) Change {
	last := len(r.turns) - 1
	if !turn.Streaming && last >= 0 && r.turns[last].Streaming {
		streaming := r.turns[last]
		r.turns[last] = turn
		r.turns = append(r.turns, streaming)
		return Change{Op: OpInsert, Index: last, Turn: turn}
	}
	r.turns = append(r.turns, turn)
	return Change{Op: OpAppend, Index: last + 1, Turn: turn}
}

func (r *Reconciler) streamingAgent() (int, bool) {
	idx := len(r.turns) - 1
	if idx < 0 {
		return 0, false
	}
	last := r.turns[idx]
	return idx, last.Streaming && last.Role == domain.RoleAgent
}

func (r *Reconciler) stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return r.clock.Now()
	}
	return ts
}

// Backfill inserts persisted turns ahead of everything received live since
// the last Reset. Persisted turns are always finalized.
func (r *Reconciler) Backfill(persisted []domain.Turn) {
	if len(persisted) == 0 {
		return
	}
	merged := make([]domain.Turn, 0, len(persisted)+len(r.turns))
	for _, turn := range persisted {
		turn.Streaming = false
		merged = append(merged, turn)
	}
	r.turns = append(merged, r.turns...)
}

// Reset empties the transcript and clears the typing indicator.
func (r *Reconciler) Reset() {
	r.turns = nil
	r.typing = false
}

// Typing reports whether the agent is composing.
func (r *Reconciler) Typing() bool { return r.typing }

// Len returns the number of turns.
func (r *Reconciler) Len() int { return len(r.turns) }

// Turns returns a copy of the transcript.
func (r *Reconciler) Turns() []domain.Turn {
	out := make([]domain.Turn, len(r.turns))
	copy(out, r.turns)
	return out
}
