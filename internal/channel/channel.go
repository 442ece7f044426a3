// Package channel owns the bidirectional event connection for one session.
//
// A Channel delivers inbound events one at a time, in arrival order, to a
// single consumer through Events. It never reorders, deduplicates, or queues
// outbound messages. Transport failures are reported as a transition to
// StateClosed with Err set, never as a returned error or a panic.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/protocol"
)

// ErrNotOpen is returned by Send when the channel is not in StateOpen.
var ErrNotOpen = errors.New("channel: not open") //nolint:gochecknoglobals // sentinel error

// DefaultReadLimit bounds a single inbound frame. Stream frames carry the
// cumulative reply, so the library default of 32 KiB is too small.
const DefaultReadLimit = 4 << 20

// State is the observable lifecycle state of a Channel.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options configures how a Channel connects.
type Options struct {
	// BaseURL is the WebSocket origin of the agent backend, e.g.
	// "ws://localhost:5500". The session path is appended.
	BaseURL string

	// HTTPClient is used for the handshake. Nil means http.DefaultClient.
	HTTPClient *http.Client

	// ReadLimit overrides DefaultReadLimit when positive.
	ReadLimit int64
}

// Channel is a handle bound to exactly one session id.
type Channel struct {
	sessionID domain.SessionID
	url       string
	logger    zerolog.Logger

	state  atomic.Int32
	events chan protocol.Event
	done   chan struct{}
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *websocket.Conn
	err  error

	closeOnce sync.Once
}

// URL returns the channel address for a session.
func URL(baseURL string, id domain.SessionID) string {
	return strings.TrimRight(baseURL, "/") + "/ws/" + url.PathEscape(id.String())
}

// Open starts connecting to the session and returns immediately in
// StateConnecting. The channel's lifetime is independent of ctx
// cancellation; only Close or the remote end terminates it.
func Open(ctx context.Context, opts Options, id domain.SessionID) *Channel {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c := &Channel{
		sessionID: id,
		url:       URL(opts.BaseURL, id),
		logger:    log.With().Str("session_id", id.String()).Logger(),
		events:    make(chan protocol.Event),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	c.state.Store(int32(StateConnecting))

	go c.run(runCtx, opts)

	return c
}

func (c *Channel) run(ctx context.Context, opts Options) {
	defer close(c.done)
	defer close(c.events)

	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPClient: opts.HTTPClient})
	if err != nil {
		c.finish(fmt.Errorf("channel.Open: dial %s: %w", c.url, err))
		return
	}
	defer conn.CloseNow()

	limit := opts.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)

	c.mu.Lock()
	if c.State() == StateClosed {
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.state.Store(int32(StateOpen))
	c.mu.Unlock()

	c.logger.Debug().Msg("channel open")

	if !c.deliver(ctx, protocol.Event{Type: protocol.TypeOpened}) {
		c.finish(nil)
		return
	}

	for {
		_, data, readErr := conn.Read(ctx)
		if readErr != nil {
			c.finish(readErr)
			return
		}

		evt, decodeErr := protocol.Decode(data)
		if decodeErr != nil {
			c.logger.Debug().Err(decodeErr).Msg("channel: skipping frame")
			continue
		}

		if !c.deliver(ctx, evt) {
			c.finish(nil)
			return
		}
	}
}

func (c *Channel) deliver(ctx context.Context, evt protocol.Event) bool {
	select {
	case c.events <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish records the terminal error and moves to StateClosed. Errors caused
// by a local Close or a normal remote closure are not recorded.
func (c *Channel) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasClosed := c.State() == StateClosed
	c.state.Store(int32(StateClosed))
	c.conn = nil

	if wasClosed || err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		c.logger.Debug().Msg("channel closed by remote")
		return
	}

	c.err = err
	c.logger.Warn().Err(err).Msg("channel closed")
}

// Events returns the ordered inbound sequence. After a successful handshake
// the first event is a local TypeOpened event. The channel is closed when the
// connection ends.
func (c *Channel) Events() <-chan protocol.Event { return c.events }

// Send transmits a user message. It fails with ErrNotOpen unless the channel
// is open, and never queues.
func (c *Channel) Send(ctx context.Context, content string) error {
	c.mu.Lock()
	conn := c.conn
	open := c.State() == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		return fmt.Errorf("channel.Channel.Send: %w", ErrNotOpen)
	}

	payload, err := protocol.EncodeUserMessage(content)
	if err != nil {
		return fmt.Errorf("channel.Channel.Send: %w", err)
	}

	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("channel.Channel.Send: %w", err)
	}
	return nil
}

// Close terminates the connection and waits for the read loop to exit. It is
// safe to call multiple times and from any goroutine.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state.Store(int32(StateClosed))
		c.conn = nil
		c.mu.Unlock()

		c.cancel()
	})
	<-c.done
}

// Done is closed once the channel has fully shut down.
func (c *Channel) Done() <-chan struct{} { return c.done }

// State returns the current lifecycle state.
func (c *Channel) State() State { return State(c.state.Load()) }

// Err returns the transport error that closed the channel, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SessionID returns the session the channel is bound to.
func (c *Channel) SessionID() domain.SessionID { return c.sessionID }
