package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned by Decode for frames whose type is not an
	// inbound event kind. Callers skip such frames.
	ErrUnknownType = errors.New("protocol: unknown event type") //nolint:gochecknoglobals // sentinel error

	// ErrMalformed is returned by Decode for frames that are not valid JSON
	// objects.
	ErrMalformed = errors.New("protocol: malformed frame") //nolint:gochecknoglobals // sentinel error
)

// EventType discriminates inbound frames.
type EventType string

const (
	TypeMessage       EventType = "message"
	TypeMessageStream EventType = "message_stream"
	TypeLog           EventType = "log"
	TypeTyping        EventType = "typing"
	TypeHeartbeat     EventType = "heartbeat"
	TypeStatus        EventType = "status"

	// TypeOpened is produced locally by the channel once its handshake
	// completes. Decode never yields it.
	TypeOpened EventType = "channel_opened"

	// TypeUserMessage is the outbound frame type.
	TypeUserMessage EventType = "user_message"
)

// Inbound reports whether t is an event kind the server may send.
func (t EventType) Inbound() bool {
	switch t {
	case TypeMessage, TypeMessageStream, TypeLog, TypeTyping, TypeHeartbeat, TypeStatus:
		return true
	default:
		return false
	}
}

// Event is one decoded inbound frame.
type Event struct {
	Type      EventType `json:"type"`
	Role      string    `json:"role,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp Timestamp `json:"timestamp"`
	IsTyping  *bool     `json:"is_typing,omitempty"`
	Status    string    `json:"status,omitempty"`
}

// Typing returns the typing flag. A typing frame without the flag means the
// agent started composing.
func (e Event) Typing() bool {
	if e.IsTyping == nil {
		return true
	}
	return *e.IsTyping
}

// Decode parses one inbound frame.
func Decode(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("protocol.Decode: %w: %w", ErrMalformed, err)
	}
	if !evt.Type.Inbound() {
		return Event{}, fmt.Errorf("protocol.Decode(%q): %w", evt.Type, ErrUnknownType)
	}
	return evt, nil
}

type outboundFrame struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}

// EncodeUserMessage renders the outbound user message frame.
func EncodeUserMessage(content string) ([]byte, error) {
	payload, err := json.Marshal(outboundFrame{Type: TypeUserMessage, Content: content})
	if err != nil {
		return nil, fmt.Errorf("protocol.EncodeUserMessage: %w", err)
	}
	return payload, nil
}
