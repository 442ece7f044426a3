package slack

import (
	"fmt"

	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/agentdeck/internal/messenger"
)

func severityEmoji(s messenger.Severity) string {
	switch s {
	case messenger.SeverityCritical:
		return ":red_circle:"
	case messenger.SeverityResolved:
		return ":large_green_circle:"
	default:
		return ":warning:"
	}
}

// FallbackText is the plain-text form shown in notifications and clients
// without Block Kit support.
func FallbackText(alert messenger.Alert) string {
	return fmt.Sprintf("[%s] session %s: %s", alert.Severity, alert.SessionID, alert.Title)
}

// BuildAlertBlocks builds Slack Block Kit blocks for a session alert.
// A context block with the session and agent is appended below the text section.
func BuildAlertBlocks(alert messenger.Alert) []slacklib.Block {
	text := fmt.Sprintf("%s *%s*", severityEmoji(alert.Severity), alert.Title)
	if alert.Detail != "" {
		text += "\n" + alert.Detail
	}
	section := slacklib.NewSectionBlock(
		slacklib.NewTextBlockObject(slacklib.MarkdownType, text, false, false),
		nil,
		nil,
	)

	fields := []slacklib.MixedElement{
		slacklib.NewTextBlockObject(slacklib.MarkdownType, fmt.Sprintf("*Session:* `%s`", alert.SessionID), false, false),
	}
	if alert.Agent != "" {
		fields = append(fields, slacklib.NewTextBlockObject(slacklib.MarkdownType, fmt.Sprintf("*Agent:* %s", alert.Agent), false, false))
	}
	contextBlock := slacklib.NewContextBlock("", fields...)

	return []slacklib.Block{section, contextBlock}
}
