package messenger

import "context"

// MessageID uniquely identifies a message within a messenger platform.
type MessageID string

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityResolved Severity = "resolved"
)

// Alert is a platform-neutral operator notification about one session.
type Alert struct {
	Title     string
	Detail    string
	SessionID string
	Agent     string
	Severity  Severity
}

// Messenger abstracts a chat platform that operator alerts are posted to.
// Implementations handle platform-specific API calls.
type Messenger interface {
	// SendAlert posts an alert to a channel and returns its platform message ID.
	SendAlert(ctx context.Context, channelID string, alert Alert) (MessageID, error)

	// UpdateAlert replaces a previously posted alert, e.g. to mark it resolved.
	UpdateAlert(ctx context.Context, channelID string, messageID MessageID, alert Alert) error

	// Platform returns the messenger platform identifier (e.g. "slack").
	Platform() string
}
