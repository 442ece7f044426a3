package session

import (
	"github.com/rs/zerolog/log"

	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/protocol"
	"github.com/gosuda/agentdeck/internal/transcript"
)

// pump applies one context's channel events and heartbeat expiry, one at a
// time, until the context is released or the channel ends.
func (c *Controller) pump(sc *sessionContext) {
	defer c.pumps.Done()

	events := sc.ch.Events()
	for {
		c.mu.Lock()
		if c.active != sc {
			c.mu.Unlock()
			return
		}
		expired := sc.monitor.Expired()
		c.mu.Unlock()

		select {
		case <-sc.stop:
			return

		case evt, ok := <-events:
			c.mu.Lock()
			if c.active == sc {
				if ok {
					c.apply(sc, evt)
				} else {
					c.channelEnded(sc)
				}
			}
			c.mu.Unlock()
			if !ok {
				return
			}

		case <-expired:
			c.mu.Lock()
			if c.active == sc {
				sc.monitor.Expire()
				c.publish(UpdateLiveness)
				log.Warn().Str("session_id", sc.sessionID.String()).Msg("heartbeat timeout")
			}
			c.mu.Unlock()
		}
	}
}

// apply routes one event. Callers hold c.mu.
func (c *Controller) apply(sc *sessionContext, evt protocol.Event) {
	wasConnected := sc.monitor.Connected()

	switch evt.Type {
	case protocol.TypeOpened:
		sc.monitor.Opened()
		log.Debug().Str("session_id", sc.sessionID.String()).Msg("channel opened")

	case protocol.TypeHeartbeat:
		sc.monitor.Heartbeat()

	case protocol.TypeStatus:
		c.applyStatus(sc, domain.SessionStatus(evt.Status))

	default:
		wasTyping := c.rec.Typing()
		change := c.rec.Apply(evt)
		if change.Op != transcript.OpNone {
			c.publishChange(UpdateTurn, &TurnChange{Op: change.Op, Index: change.Index, Turn: change.Turn})
		}
		if c.rec.Typing() != wasTyping {
			c.publish(UpdateTyping)
		}
	}

	if sc.monitor.Connected() != wasConnected {
		c.publish(UpdateLiveness)
	}
}

func (c *Controller) applyStatus(sc *sessionContext, status domain.SessionStatus) {
	if status == "" {
		return
	}
	sc.monitor.ObserveStatus(status)

	if c.session == nil || c.session.ID != sc.sessionID {
		return
	}
	c.session.Status = status
	c.publish(UpdateStatus)

	// Lifecycle operations own the phase while they are in flight.
	if c.phase != PhaseStarting {
		c.setPhase(phaseFor(status, c.phase))
	}

	log.Info().Str("session_id", sc.sessionID.String()).Str("status", string(status)).Msg("session status changed")
}

// channelEnded degrades liveness when the transport goes away. The context
// stays active so sends report a closed channel until the next lifecycle
// operation.
func (c *Controller) channelEnded(sc *sessionContext) {
	wasConnected := sc.monitor.Connected()
	sc.monitor.Close()
	if wasConnected {
		c.publish(UpdateLiveness)
	}

	ev := log.Warn().Str("session_id", sc.sessionID.String())
	if err := sc.ch.Err(); err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("channel ended")
}
