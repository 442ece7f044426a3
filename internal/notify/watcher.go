package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/messenger"
	"github.com/gosuda/agentdeck/internal/session"
)

// Subscriber delivers published payloads for a channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

type condition string

const (
	conditionLiveness condition = "liveness"
	conditionStatus   condition = "status"
	conditionPhase    condition = "phase"
)

type alertKey struct {
	session   domain.SessionID
	condition condition
}

type openAlert struct {
	alert  messenger.Alert
	posted []Posted
}

// Watcher turns controller updates into operator alerts: lost liveness, an
// unresponsive or failed session, and a lifecycle error. An alert is posted
// once when its condition starts and rewritten as resolved when it clears.
//
// Watcher is not safe for concurrent use; Run drives it from one goroutine.
type Watcher struct {
	sub      Subscriber
	notifier *Notifier
	open     map[alertKey]openAlert
}

// NewWatcher creates a Watcher.
func NewWatcher(sub Subscriber, notifier *Notifier) *Watcher {
	return &Watcher{
		sub:      sub,
		notifier: notifier,
		open:     make(map[alertKey]openAlert),
	}
}

// Run consumes the update firehose until ctx is done or the subscription
// ends.
func (w *Watcher) Run(ctx context.Context) error {
	messages, cleanup, err := w.sub.Subscribe(ctx, session.UpdatesChannel)
	if err != nil {
		return fmt.Errorf("notify.Watcher.Run: %w", err)
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-messages:
			if !ok {
				return nil
			}
			var u session.Update
			if err := json.Unmarshal(payload, &u); err != nil {
				log.Debug().Err(err).Msg("notify: skipping undecodable update")
				continue
			}
			w.Observe(ctx, u)
		}
	}
}

// Observe applies one update.
func (w *Watcher) Observe(ctx context.Context, u session.Update) {
	switch u.Kind {
	case session.UpdateLiveness:
		if u.ContextID != "" && !u.Connected && u.Phase == session.PhaseRunning {
			w.raise(ctx, u, conditionLiveness, messenger.SeverityWarning,
				"Agent stopped sending heartbeats", "The session is open but the agent is not responding.")
		} else if u.Connected {
			w.clear(ctx, u.SessionID, conditionLiveness, "Heartbeats resumed")
		}

	case session.UpdateStatus:
		switch u.Status {
		case domain.SessionStatusUnresponsive:
			w.raise(ctx, u, conditionStatus, messenger.SeverityWarning,
				"Session reported unresponsive", "The backend has not seen a heartbeat from the agent.")
		case domain.SessionStatusFailed:
			w.raise(ctx, u, conditionStatus, messenger.SeverityCritical,
				"Session failed", "The agent process failed to start or crashed.")
		case domain.SessionStatusRunning:
			w.clear(ctx, u.SessionID, conditionStatus, "Session running again")
		}

	case session.UpdatePhase:
		switch u.Phase {
		case session.PhaseError:
			w.raise(ctx, u, conditionPhase, messenger.SeverityCritical, "Session operation failed", u.Error)
		case session.PhaseStopped:
			w.clearSession(ctx, u.SessionID, "Session stopped")
		default:
			w.clear(ctx, u.SessionID, conditionPhase, "Session recovered")
		}
	}
}

// Open returns the number of unresolved alerts.
func (w *Watcher) Open() int { return len(w.open) }

func (w *Watcher) raise(ctx context.Context, u session.Update, cond condition, severity messenger.Severity, title, detail string) {
	key := alertKey{session: u.SessionID, condition: cond}
	if _, exists := w.open[key]; exists {
		return
	}

	alert := messenger.Alert{
		Title:     title,
		Detail:    detail,
		SessionID: sessionLabel(u.SessionID),
		Agent:     u.Agent,
		Severity:  severity,
	}
	posted, err := w.notifier.Notify(ctx, alert)
	if err != nil {
		log.Error().Err(err).Str("session_id", u.SessionID.String()).Msg("notify: failed to post alert")
	}
	// The condition is suppressed even when posting failed, so a flapping
	// platform does not turn every update into a retry.
	w.open[key] = openAlert{alert: alert, posted: posted}
}

func (w *Watcher) clear(ctx context.Context, id domain.SessionID, cond condition, title string) {
	key := alertKey{session: id, condition: cond}
	open, exists := w.open[key]
	if !exists {
		return
	}
	delete(w.open, key)

	resolved := open.alert
	resolved.Title = title
	resolved.Detail = "Resolved: " + open.alert.Title
	resolved.Severity = messenger.SeverityResolved
	if err := w.notifier.Resolve(ctx, open.posted, resolved); err != nil {
		log.Warn().Err(err).Str("session_id", id.String()).Msg("notify: failed to resolve alert")
	}
}

func (w *Watcher) clearSession(ctx context.Context, id domain.SessionID, title string) {
	for _, cond := range []condition{conditionLiveness, conditionStatus, conditionPhase} {
		w.clear(ctx, id, cond, title)
	}
}

func sessionLabel(id domain.SessionID) string {
	if id == "" {
		return "none"
	}
	return id.String()
}
