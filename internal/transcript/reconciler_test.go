package transcript_test

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/protocol"
	"github.com/gosuda/agentdeck/internal/transcript"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // test fixture

func ts(offset time.Duration) protocol.Timestamp {
	return protocol.Timestamp{Time: t0.Add(offset)}
}

func message(role, content string) protocol.Event {
	return protocol.Event{Type: protocol.TypeMessage, Role: role, Content: content, Timestamp: ts(time.Second)}
}

func stream(content string) protocol.Event {
	return protocol.Event{Type: protocol.TypeMessageStream, Role: "agent", Content: content, Timestamp: ts(0)}
}

func typing(on bool) protocol.Event {
	return protocol.Event{Type: protocol.TypeTyping, IsTyping: &on}
}

func logLine(content string) protocol.Event {
	return protocol.Event{Type: protocol.TypeLog, Content: content, Timestamp: ts(time.Hour)}
}

func newReconciler(t *testing.T) (*transcript.Reconciler, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(t0.Add(5 * time.Minute))
	return transcript.NewReconciler(mock), mock
}

// checkInvariants asserts the streaming-turn invariant.
func checkInvariants(t *testing.T, turns []domain.Turn) {
	t.Helper()
	for i, turn := range turns {
		if turn.Streaming {
			require.Equal(t, len(turns)-1, i, "streaming turn must be last")
		}
	}
}

func TestReconciler_StreamThenMessageCoalesces(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t)
	r.Apply(stream("Hel"))
	r.Apply(stream("Hello"))
	change := r.Apply(message("agent", "Hello!"))

	want := []domain.Turn{{Role: domain.RoleAgent, Content: "Hello!", Timestamp: t0.Add(time.Second)}}
	if diff := cmp.Diff(want, r.Turns()); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, transcript.OpFinalize, change.Op)
	assert.Equal(t, 0, change.Index)
}

func TestReconciler_TypingFalseFinalizesStream(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t)
	r.Apply(typing(true))
	assert.True(t, r.Typing())

	r.Apply(stream("Hi"))
	assert.False(t, r.Typing(), "stream content clears typing")

	change := r.Apply(typing(false))

	turns := r.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, domain.RoleAgent, turns[0].Role)
	assert.Equal(t, "Hi", turns[0].Content)
	assert.False(t, turns[0].Streaming)
	assert.False(t, r.Typing())
	assert.Equal(t, transcript.OpFinalize, change.Op)
}

func TestReconciler_MessagesNeverCoalesce(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t)
	r.Apply(message("agent", "one"))
	r.Apply(message("agent", "two"))

	turns := r.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "one", turns[0].Content)
	assert.Equal(t, "two", turns[1].Content)
}

func TestReconciler_StreamReplacesContent(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t)
	first := r.Apply(stream("a"))
	second := r.Apply(stream("ab"))

	assert.Equal(t, transcript.OpAppend, first.Op)
	assert.Equal(t, transcript.OpUpdate, second.Op)
	turns := r.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "ab", turns[0].Content)
	assert.True(t, turns[0].Streaming)
}

func TestReconciler_EmptyStreamIsApplied(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t)
	r.Apply(stream("partial"))
	r.Apply(stream("   "))

	turns := r.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "   ", turns[0].Content)
	assert.True(t, turns[0].Streaming)
}

func TestReconciler_StreamAfterFinalizedStartsNewTurn(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t)
	r.Apply(stream("first"))
	r.Apply(typing(false))
	r.Apply(stream("second"))

	turns := r.Turns()
	require.Len(t, turns, 2)
	assert.False(t, turns[0].Streaming)
	assert.Equal(t, "first", turns[0].Content)
	assert.True(t, turns[1].Streaming)
	assert.Equal(t, "second", turns[1].Content)
}

func TestReconciler_LogUsesLocalClock(t *testing.T) {
	t.Parallel()

	r, mock := newReconciler(t)
	change := r.Apply(logLine("pip install ok\nmore output"))

	assert.Equal(t, transcript.OpAppend, change.Op)
	assert.Equal(t, domain.RoleSystem, change.Turn.Role)
	assert.Equal(t, "pip install ok\nmore output", change.Turn.Content, "stored content is never truncated")
	assert.Equal(t, mock.Now(), change.Turn.Timestamp)
	assert.False(t, change.Turn.Streaming)
}

func TestReconciler_LogDuringStreamKeepsStreamingLast(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t)
	r.Apply(stream("thinking"))
	change := r.Apply(logLine("tool call"))

	assert.Equal(t, transcript.OpInsert, change.Op)
	assert.Equal(t, 0, change.Index)

	r.Apply(stream("thinking more"))
	turns := r.Turns()
	require.Len(t, turns, 2)
	checkInvariants(t, turns)
	assert.Equal(t, domain.RoleSystem, turns[0].Role)
	assert.Equal(t, "thinking more", turns[1].Content)
	assert.True(t, turns[1].Streaming)
}

func TestReconciler_MessageWithoutTimestampUsesClock(t *testing.T) {
	t.Parallel()

	r, mock := newReconciler(t)
	change := r.Apply(protocol.Event{Type: protocol.TypeMessage, Role: "user", Content: "hi"})

	assert.Equal(t, domain.RoleUser, change.Turn.Role)
	assert.Equal(t, mock.Now(), change.Turn.Timestamp)
}

func TestReconciler_IgnoresNonTranscriptEvents(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t)
	for _, evt := range []protocol.Event{
		{Type: protocol.TypeHeartbeat},
		{Type: protocol.TypeStatus, Status: "running"},
		{Type: protocol.TypeOpened},
		{Type: "something_new"},
	} {
		change := r.Apply(evt)
		assert.Equal(t, transcript.OpNone, change.Op, evt.Type)
	}
	assert.Zero(t, r.Len())
}

func TestReconciler_BackfillPrecedesLiveTurns(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t)
	r.Apply(stream("live"))
	r.Backfill([]domain.Turn{
		{Role: domain.RoleUser, Content: "q", Timestamp: t0},
		{Role: domain.RoleAgent, Content: "a", Timestamp: t0.Add(time.Second), Streaming: true},
	})

	turns := r.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "q", turns[0].Content)
	assert.Equal(t, "a", turns[1].Content)
	assert.False(t, turns[1].Streaming, "persisted turns are always finalized")
	assert.Equal(t, "live", turns[2].Content)
	checkInvariants(t, turns)
}

func TestReconciler_Reset(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t)
	r.Apply(message("agent", "x"))
	r.Apply(typing(true))
	r.Reset()

	assert.Zero(t, r.Len())
	assert.False(t, r.Typing())
}

func TestReconciler_TurnsIsACopy(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t)
	r.Apply(message("agent", "x"))
	turns := r.Turns()
	turns[0].Content = "mutated"

	assert.Equal(t, "x", r.Turns()[0].Content)
}

func TestReconciler_RandomSequencesKeepInvariants(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2)) //nolint:gosec // deterministic fixture
	for range 200 {
		r, _ := newReconciler(t)
		var previous []domain.Turn
		for range 40 {
			var evt protocol.Event
			switch rng.IntN(6) {
			case 0:
				evt = message([]string{"agent", "user"}[rng.IntN(2)], "m")
			case 1:
				evt = stream("s")
			case 2:
				evt = logLine("l")
			case 3:
				evt = typing(rng.IntN(2) == 0)
			case 4:
				evt = protocol.Event{Type: protocol.TypeHeartbeat}
			default:
				evt = protocol.Event{Type: protocol.TypeStatus, Status: "running"}
			}
			r.Apply(evt)
			turns := r.Turns()
			checkInvariants(t, turns)

			// Finalized turns never change.
			for i, old := range previous {
				if !old.Streaming {
					require.Equal(t, old, turns[i])
				}
			}

			switch evt.Type {
			case protocol.TypeMessage:
				last := turns[len(turns)-1]
				require.False(t, last.Streaming)
				require.Equal(t, evt.Content, last.Content)
			case protocol.TypeTyping:
				if !evt.Typing() && len(turns) > 0 {
					require.False(t, turns[len(turns)-1].Streaming)
				}
			}
			previous = turns
		}
	}
}
