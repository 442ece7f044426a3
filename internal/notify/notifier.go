package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/agentdeck/internal/messenger"
)

// ErrPlatformNotFound is returned when a messenger platform is not registered.
var ErrPlatformNotFound = errors.New("notify: platform not found") //nolint:gochecknoglobals // sentinel error

// MessengerRegistry maps platform names to Messenger implementations.
type MessengerRegistry interface {
	Get(platform string) (messenger.Messenger, bool)
}

// Route is one destination alerts are posted to.
type Route struct {
	Platform  string
	ChannelID string
}

// Posted records where an alert landed so it can be updated later.
type Posted struct {
	Route
	MessageID messenger.MessageID
}

// Notifier dispatches alerts to every configured route.
type Notifier struct {
	messengers MessengerRegistry
	routes     []Route
}

// New creates a Notifier posting to routes through the given registry.
func New(messengers MessengerRegistry, routes ...Route) *Notifier {
	return &Notifier{
		messengers: messengers,
		routes:     routes,
	}
}

// Notify posts the alert to every route and returns the routes that
// accepted it. Falls back to logging if no routes are configured.
func (n *Notifier) Notify(ctx context.Context, alert messenger.Alert) ([]Posted, error) {
	if len(n.routes) == 0 {
		log.Warn().
			Str("session_id", alert.SessionID).
			Str("severity", string(alert.Severity)).
			Msg("notify: no routes configured, alert: " + alert.Title)
		return nil, nil
	}

	posted := make([]Posted, 0, len(n.routes))
	var errs []error
	for _, route := range n.routes {
		id, err := n.NotifyVia(ctx, route.Platform, route.ChannelID, alert)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		posted = append(posted, Posted{Route: route, MessageID: id})
	}

	if len(posted) == 0 {
		return nil, fmt.Errorf("notify.Notifier.Notify: all routes failed: %w", errors.Join(errs...))
	}
	for _, err := range errs {
		log.Warn().Err(err).Msg("notify: route failed")
	}
	return posted, nil
}

// Resolve rewrites previously posted alerts in place.
func (n *Notifier) Resolve(ctx context.Context, posted []Posted, alert messenger.Alert) error {
	var errs []error
	for _, p := range posted {
		msg, ok := n.messengers.Get(p.Platform)
		if !ok {
			errs = append(errs, fmt.Errorf("platform %q: %w", p.Platform, ErrPlatformNotFound))
			continue
		}
		if err := msg.UpdateAlert(ctx, p.ChannelID, p.MessageID, alert); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify.Notifier.Resolve: %w", err)
	}
	return nil
}

// NotifyVia posts an alert using a specific platform and channel directly.
func (n *Notifier) NotifyVia(ctx context.Context, platform, channelID string, alert messenger.Alert) (messenger.MessageID, error) {
	msg, ok := n.messengers.Get(platform)
	if !ok {
		return "", fmt.Errorf("notify.Notifier.NotifyVia: platform %q: %w", platform, ErrPlatformNotFound)
	}

	id, err := msg.SendAlert(ctx, channelID, alert)
	if err != nil {
		return "", fmt.Errorf("notify.Notifier.NotifyVia: send: %w", err)
	}

	return id, nil
}
