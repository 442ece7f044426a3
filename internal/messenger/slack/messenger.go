package slack

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/agentdeck/internal/messenger"
)

// SlackAPI abstracts the subset of the Slack client used by SlackMessenger.
// This allows testing without real HTTP calls.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slacklib.MsgOption) (string, string, string, error)
}

// SlackMessenger implements messenger.Messenger for Slack.
type SlackMessenger struct {
	api SlackAPI
}

// Compile-time interface check.
var _ messenger.Messenger = (*SlackMessenger)(nil) //nolint:gochecknoglobals // compile-time check

// NewSlackMessenger creates a SlackMessenger with the given API client.
func NewSlackMessenger(api SlackAPI) *SlackMessenger {
	return &SlackMessenger{api: api}
}

// New creates a SlackMessenger backed by the Slack Web API.
func New(botToken string) *SlackMessenger {
	return NewSlackMessenger(slacklib.New(botToken))
}

// SendAlert posts an alert to a Slack channel and returns the message timestamp as MessageID.
func (m *SlackMessenger) SendAlert(ctx context.Context, channelID string, alert messenger.Alert) (messenger.MessageID, error) {
	_, ts, err := m.api.PostMessageContext(ctx, channelID,
		slacklib.MsgOptionText(FallbackText(alert), false),
		slacklib.MsgOptionBlocks(BuildAlertBlocks(alert)...),
	)
	if err != nil {
		return "", fmt.Errorf("slack.SlackMessenger.SendAlert: %w", err)
	}

	return messenger.MessageID(ts), nil
}

// UpdateAlert rewrites an alert previously posted by SendAlert.
func (m *SlackMessenger) UpdateAlert(ctx context.Context, channelID string, messageID messenger.MessageID, alert messenger.Alert) error {
	_, _, _, err := m.api.UpdateMessageContext(ctx, channelID, string(messageID),
		slacklib.MsgOptionText(FallbackText(alert), false),
		slacklib.MsgOptionBlocks(BuildAlertBlocks(alert)...),
	)
	if err != nil {
		return fmt.Errorf("slack.SlackMessenger.UpdateAlert: %w", err)
	}

	return nil
}

// Platform returns the messenger platform identifier.
func (m *SlackMessenger) Platform() string {
	return "slack"
}
