// Package liveness derives whether the remote agent is responsive from its
// heartbeats. Losing liveness is a soft signal; it never closes the channel.
package liveness

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/gosuda/agentdeck/internal/domain"
)

// DefaultTimeout is three missed heartbeats at the agents' 15s interval.
const DefaultTimeout = 45 * time.Second

// Monitor tracks liveness for one channel. It owns a single timeout timer
// that is armed by heartbeats and released by Close. The timer never fires a
// callback: the owner selects on Expired and calls Expire, so every state
// change happens on the owner's goroutine.
//
// Monitor is not safe for concurrent use.
type Monitor struct {
	clock   clock.Clock
	timeout time.Duration

	timer           *clock.Timer
	connected       bool
	lastHeartbeatAt time.Time
	closed          bool
}

// NewMonitor creates a disconnected monitor.
func NewMonitor(clk clock.Clock, timeout time.Duration) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Monitor{clock: clk, timeout: timeout}
}

// Opened marks the monitor connected when the channel finishes its handshake
// and starts waiting for the first heartbeat.
func (m *Monitor) Opened() {
	if m.closed {
		return
	}
	m.connected = true
	m.arm()
}

// Heartbeat records a heartbeat and re-arms the timeout.
func (m *Monitor) Heartbeat() {
	if m.closed {
		return
	}
	m.connected = true
	m.lastHeartbeatAt = m.clock.Now()
	m.arm()
}

// ObserveStatus applies a server-pushed status. Degraded statuses drop
// liveness at once; an active status is trusted until the timeout proves
// otherwise.
func (m *Monitor) ObserveStatus(status domain.SessionStatus) {
	if m.closed {
		return
	}
	switch {
	case status.Degraded():
		m.connected = false
		m.disarm()
	case status.Active():
		m.connected = true
		m.arm()
	}
}

// Expired returns the channel of the pending timeout, or nil when no
// timeout is armed. A nil channel blocks forever in a select.
func (m *Monitor) Expired() <-chan time.Time {
	if m.timer == nil {
		return nil
	}
	return m.timer.C
}

// Expire marks the agent unresponsive after the timeout fired.
func (m *Monitor) Expire() {
	m.connected = false
	m.timer = nil
}

// Close releases the timer. It is safe to call more than once.
func (m *Monitor) Close() {
	m.disarm()
	m.connected = false
	m.closed = true
}

// Connected reports whether the agent is considered responsive.
func (m *Monitor) Connected() bool { return m.connected }

// LastHeartbeatAt returns the time of the most recent heartbeat, or the zero
// time if none arrived on this channel.
func (m *Monitor) LastHeartbeatAt() time.Time { return m.lastHeartbeatAt }

func (m *Monitor) arm() {
	m.disarm()
	m.timer = m.clock.Timer(m.timeout)
}

func (m *Monitor) disarm() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
