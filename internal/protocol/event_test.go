package protocol_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/agentdeck/internal/protocol"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		frame   string
		want    protocol.Event
		wantErr error
	}{
		{
			name:  "message",
			frame: `{"type":"message","role":"agent","content":"Hello!","timestamp":"2024-05-01T10:00:00.123456"}`,
			want: protocol.Event{
				Type:      protocol.TypeMessage,
				Role:      "agent",
				Content:   "Hello!",
				Timestamp: protocol.Timestamp{Time: time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC)},
			},
		},
		{
			name:  "message_stream with empty content",
			frame: `{"type":"message_stream","role":"agent","content":"","timestamp":"2024-05-01T10:00:00Z"}`,
			want: protocol.Event{
				Type:      protocol.TypeMessageStream,
				Role:      "agent",
				Timestamp: protocol.Timestamp{Time: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
			},
		},
		{
			name:  "status",
			frame: `{"type":"status","status":"unresponsive"}`,
			want:  protocol.Event{Type: protocol.TypeStatus, Status: "unresponsive"},
		},
		{
			name:  "heartbeat with unparsable timestamp",
			frame: `{"type":"heartbeat","timestamp":"yesterday"}`,
			want:  protocol.Event{Type: protocol.TypeHeartbeat},
		},
		{
			name:    "server forwarded user_message is not inbound",
			frame:   `{"type":"user_message","content":"hi"}`,
			wantErr: protocol.ErrUnknownType,
		},
		{
			name:    "local opened type cannot arrive from the wire",
			frame:   `{"type":"channel_opened"}`,
			wantErr: protocol.ErrUnknownType,
		},
		{
			name:    "missing type",
			frame:   `{"content":"x"}`,
			wantErr: protocol.ErrUnknownType,
		},
		{
			name:    "not json",
			frame:   `hello`,
			wantErr: protocol.ErrMalformed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := protocol.Decode([]byte(tc.frame))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want.Type, got.Type)
			assert.Equal(t, tc.want.Role, got.Role)
			assert.Equal(t, tc.want.Content, got.Content)
			assert.Equal(t, tc.want.Status, got.Status)
			assert.True(t, tc.want.Timestamp.Equal(got.Timestamp.Time), "timestamp: want %s got %s", tc.want.Timestamp, got.Timestamp)
		})
	}
}

func TestEvent_Typing(t *testing.T) {
	t.Parallel()

	evt, err := protocol.Decode([]byte(`{"type":"typing","is_typing":false}`))
	require.NoError(t, err)
	assert.False(t, evt.Typing())

	evt, err = protocol.Decode([]byte(`{"type":"typing","is_typing":true}`))
	require.NoError(t, err)
	assert.True(t, evt.Typing())

	evt, err = protocol.Decode([]byte(`{"type":"typing"}`))
	require.NoError(t, err)
	assert.True(t, evt.Typing(), "missing flag means composing")
}

func TestEncodeUserMessage(t *testing.T) {
	t.Parallel()

	payload, err := protocol.EncodeUserMessage("what is 2+2?")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user_message","content":"what is 2+2?"}`, string(payload))
}

func TestTimestamp_MarshalJSON(t *testing.T) {
	t.Parallel()

	zero, err := json.Marshal(protocol.Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(zero))

	ts := protocol.Timestamp{Time: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	out, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-05-01T10:00:00Z"`, string(out))
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"2024-05-01T10:00:00Z", "2024-05-01T10:00:00.5", "2024-05-01 10:00:00"} {
		_, ok := protocol.ParseTimestamp(s)
		assert.True(t, ok, s)
	}
	_, ok := protocol.ParseTimestamp("not a time")
	assert.False(t, ok)
}
