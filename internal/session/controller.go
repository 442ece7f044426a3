// Package session implements the lifecycle controller that binds one remote
// agent session at a time to an event channel, a transcript and a liveness
// monitor.
//
// All controller state is guarded by a single mutex. Lifecycle operations
// run on the caller's goroutine and release the mutex only around REST
// calls; channel events and heartbeat expiry are applied by one pump
// goroutine per session context. Every lifecycle operation takes a new
// generation number, and results that arrive for an older generation are
// dropped.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/agentdeck/internal/channel"
	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/liveness"
	"github.com/gosuda/agentdeck/internal/protocol"
	"github.com/gosuda/agentdeck/internal/transcript"
)

var (
	ErrNoActiveSession = errors.New("session: no active session")               //nolint:gochecknoglobals // sentinel error
	ErrChannelNotOpen  = errors.New("session: channel not open")                //nolint:gochecknoglobals // sentinel error
	ErrSuperseded      = errors.New("session: superseded by a later operation") //nolint:gochecknoglobals // sentinel error
	ErrClosed          = errors.New("session: controller closed")               //nolint:gochecknoglobals // sentinel error

	// ErrBackfill marks a failed history fetch. The session itself stays usable.
	ErrBackfill = errors.New("session: backfill failed") //nolint:gochecknoglobals // sentinel error
)

const (
	outboxSize     = 256
	publishTimeout = 5 * time.Second
)

// Phase is the controller's lifecycle state. Stopping is not observable;
// a stop request keeps the current phase until it resolves.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopped  Phase = "stopped"
	PhaseError    Phase = "error"
)

// Directory is the subset of the session directory the controller drives.
type Directory interface {
	Create(ctx context.Context, agentName string) (domain.Session, error)
	Get(ctx context.Context, id domain.SessionID) (domain.Session, error)
	Stop(ctx context.Context, id domain.SessionID) error
	Restart(ctx context.Context, id domain.SessionID) (domain.SessionStatus, error)
	Delete(ctx context.Context, id domain.SessionID) error
	Messages(ctx context.Context, id domain.SessionID) ([]domain.Turn, error)
}

// EventChannel is an open event connection for one session.
type EventChannel interface {
	Events() <-chan protocol.Event
	Send(ctx context.Context, content string) error
	Err() error
	Close()
}

// Opener starts connecting an EventChannel for a session. It must not block
// on the handshake.
type Opener func(ctx context.Context, id domain.SessionID) EventChannel

// ChannelOpener opens WebSocket channels with opts.
func ChannelOpener(opts channel.Options) Opener {
	return func(ctx context.Context, id domain.SessionID) EventChannel {
		return channel.Open(ctx, opts, id)
	}
}

// Options configures a Controller.
type Options struct {
	Directory Directory
	Open      Opener

	// Publisher receives every Update. Nil disables publication.
	Publisher Publisher

	// Clock drives the liveness timer and log stamps. Nil means wall time.
	Clock clock.Clock

	// HeartbeatTimeout defaults to liveness.DefaultTimeout.
	HeartbeatTimeout time.Duration
}

// Snapshot is a point-in-time copy of controller state.
type Snapshot struct {
	ContextID       string          `json:"context_id,omitempty"`
	Phase           Phase           `json:"phase"`
	Session         *domain.Session `json:"session,omitempty"`
	Connected       bool            `json:"connected"`
	Typing          bool            `json:"typing"`
	LastHeartbeatAt *time.Time      `json:"last_heartbeat_at,omitempty"`
	Turns           []domain.Turn   `json:"turns"`
	Error           string          `json:"error,omitempty"`
}

// sessionContext is everything scoped to one opened channel. It is created
// on create or attach and torn down on stop, delete, switch or Close.
type sessionContext struct {
	id        string
	sessionID domain.SessionID
	ch        EventChannel
	monitor   *liveness.Monitor
	stop      chan struct{}
}

// Controller orchestrates session lifecycle operations.
type Controller struct {
	dir              Directory
	open             Opener
	pub              Publisher
	clock            clock.Clock
	heartbeatTimeout time.Duration

	mu      sync.Mutex
	gen     uint64
	phase   Phase
	session *domain.Session
	lastErr error
	rec     *transcript.Reconciler
	active  *sessionContext
	closed  bool

	outbox        chan Update
	publisherDone chan struct{}
	pumps         sync.WaitGroup
}

// New creates an idle Controller.
func New(opts Options) (*Controller, error) {
	if opts.Directory == nil {
		return nil, errors.New("session.New: directory is required")
	}
	if opts.Open == nil {
		return nil, errors.New("session.New: opener is required")
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	c := &Controller{
		dir:              opts.Directory,
		open:             opts.Open,
		pub:              opts.Publisher,
		clock:            clk,
		heartbeatTimeout: opts.HeartbeatTimeout,
		phase:            PhaseIdle,
		rec:              transcript.NewReconciler(clk),
		publisherDone:    make(chan struct{}),
	}

	if c.pub != nil {
		c.outbox = make(chan Update, outboxSize)
		go c.runPublisher()
	} else {
		close(c.publisherDone)
	}

	return c, nil
}

// Create starts a new session for agentName and attaches to it. On failure
// the phase becomes error and the current channel and transcript are left
// untouched.
func (c *Controller) Create(ctx context.Context, agentName string) (domain.Session, error) {
	c.mu.Lock()
	gen, err := c.advance(PhaseStarting)
	c.mu.Unlock()
	if err != nil {
		return domain.Session{}, fmt.Errorf("session.Controller.Create: %w", err)
	}

	sess, err := c.dir.Create(ctx, agentName)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return domain.Session{}, fmt.Errorf("session.Controller.Create: %w", ErrSuperseded)
	}
	if err != nil {
		c.fail(err)
		return domain.Session{}, fmt.Errorf("session.Controller.Create: %w", err)
	}

	c.release()
	c.rec.Reset()
	c.session = &sess
	c.publish(UpdateReset)
	c.openContext(ctx, sess.ID)
	c.setPhase(PhaseRunning)

	log.Info().Str("session_id", sess.ID.String()).Str("agent", agentName).Msg("session created")

	return sess, nil
}

// Attach switches to an existing session. A different running session is
// stopped first on a best-effort basis. The session's status is resolved,
// restarting it when it is stopped or exited, while its persisted messages
// are backfilled. The two run concurrently and their errors are joined.
func (c *Controller) Attach(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	sess, err := c.attach(ctx, id, false)
	if err != nil {
		return sess, fmt.Errorf("session.Controller.Attach: %w", err)
	}
	return sess, nil
}

// Restart attaches to a session and always requests a restart.
func (c *Controller) Restart(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	sess, err := c.attach(ctx, id, true)
	if err != nil {
		return sess, fmt.Errorf("session.Controller.Restart: %w", err)
	}
	return sess, nil
}

func (c *Controller) attach(ctx context.Context, id domain.SessionID, forceRestart bool) (domain.Session, error) {
	c.mu.Lock()
	var previous domain.SessionID
	if c.active != nil && c.session != nil && c.session.ID != id &&
		!c.session.Status.Terminal() && c.session.Status != domain.SessionStatusDeleted {
		previous = c.session.ID
	}
	target := domain.Session{ID: id}
	if c.session != nil && c.session.ID == id {
		target = *c.session
	}
	gen, err := c.advance(PhaseStarting)
	if err != nil {
		c.mu.Unlock()
		return domain.Session{}, err
	}
	c.release()
	c.rec.Reset()
	c.session = &target
	c.publish(UpdateReset)
	c.mu.Unlock()

	if previous != "" {
		if err := c.dir.Stop(ctx, previous); err != nil {
			log.Warn().Err(err).Str("session_id", previous.String()).Msg("failed to stop previous session")
		} else {
			log.Info().Str("session_id", previous.String()).Msg("previous session stopped")
		}
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return domain.Session{}, ErrSuperseded
	}
	c.openContext(ctx, id)
	c.mu.Unlock()

	var statusErr, backfillErr error
	var g errgroup.Group
	g.Go(func() error {
		statusErr = c.resolveStatus(ctx, gen, id, forceRestart)
		return nil
	})
	g.Go(func() error {
		backfillErr = c.backfill(ctx, gen, id)
		return nil
	})
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return domain.Session{}, ErrSuperseded
	}

	err = errors.Join(statusErr, backfillErr)
	if statusErr != nil {
		c.fail(err)
		return *c.session, err
	}
	c.lastErr = backfillErr
	c.setPhase(phaseFor(c.session.Status, PhaseRunning))

	log.Info().Str("session_id", id.String()).Str("status", string(c.session.Status)).Msg("session attached")

	return *c.session, err
}

func (c *Controller) resolveStatus(ctx context.Context, gen uint64, id domain.SessionID, forceRestart bool) error {
	if !forceRestart {
		sess, err := c.dir.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("resolve status: %w", err)
		}
		if err := c.adopt(gen, sess); err != nil {
			return err
		}
		if !sess.Status.Terminal() {
			return nil
		}
		log.Info().Str("session_id", id.String()).Str("status", string(sess.Status)).Msg("restarting terminal session")
	}

	status, err := c.dir.Restart(ctx, id)
	if err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	return c.adopt(gen, domain.Session{ID: id, Status: status})
}

// adopt mirrors fetched session fields into the active session.
func (c *Controller) adopt(gen uint64, fetched domain.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return ErrSuperseded
	}
	if fetched.AgentName != "" {
		c.session.AgentName = fetched.AgentName
	}
	if !fetched.CreatedAt.IsZero() {
		c.session.CreatedAt = fetched.CreatedAt
	}
	c.session.Status = fetched.Status
	c.publish(UpdateStatus)
	return nil
}

func (c *Controller) backfill(ctx context.Context, gen uint64, id domain.SessionID) error {
	turns, err := c.dir.Messages(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackfill, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return ErrSuperseded
	}
	c.rec.Backfill(turns)
	c.publish(UpdateBackfill)
	return nil
}

// Stop stops the active session. On failure the phase becomes error and the
// channel is left open. The transcript is kept either way.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("session.Controller.Stop: %w", ErrClosed)
	}
	if c.session == nil {
		c.mu.Unlock()
		return fmt.Errorf("session.Controller.Stop: %w", ErrNoActiveSession)
	}
	id := c.session.ID
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	err := c.dir.Stop(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return fmt.Errorf("session.Controller.Stop: %w", ErrSuperseded)
	}
	if err != nil {
		c.fail(err)
		return fmt.Errorf("session.Controller.Stop: %w", err)
	}

	c.release()
	c.session.Status = domain.SessionStatusStopped
	c.setPhase(PhaseStopped)
	c.session = nil

	log.Info().Str("session_id", id.String()).Msg("session stopped")

	return nil
}

// Delete removes a session from the directory. Deleting the active session
// also stops it locally and clears the transcript.
func (c *Controller) Delete(ctx context.Context, id domain.SessionID) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("session.Controller.Delete: %w", ErrClosed)
	}
	active := c.session != nil && c.session.ID == id
	var gen uint64
	if active {
		c.gen++
		gen = c.gen
	}
	c.mu.Unlock()

	err := c.dir.Delete(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()

	if active && gen != c.gen {
		return fmt.Errorf("session.Controller.Delete: %w", ErrSuperseded)
	}
	if err != nil {
		if active {
			c.fail(err)
		}
		return fmt.Errorf("session.Controller.Delete: %w", err)
	}

	if active {
		c.release()
		c.rec.Reset()
		c.publish(UpdateReset)
		c.session.Status = domain.SessionStatusDeleted
		c.setPhase(PhaseStopped)
		c.session = nil
	}

	log.Info().Str("session_id", id.String()).Bool("active", active).Msg("session deleted")

	return nil
}

// SendUserMessage sends text to the active session. Nothing is appended
// locally; the server echoes user turns back over the channel.
func (c *Controller) SendUserMessage(ctx context.Context, text string) error {
	c.mu.Lock()
	sc := c.active
	c.mu.Unlock()

	if sc == nil {
		return fmt.Errorf("session.Controller.SendUserMessage: %w", ErrNoActiveSession)
	}

	if err := sc.ch.Send(ctx, text); err != nil {
		if errors.Is(err, channel.ErrNotOpen) {
			return fmt.Errorf("session.Controller.SendUserMessage: %w", ErrChannelNotOpen)
		}
		return fmt.Errorf("session.Controller.SendUserMessage: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Phase:  c.phase,
		Typing: c.rec.Typing(),
		Turns:  c.rec.Turns(),
	}
	if c.session != nil {
		sess := *c.session
		snap.Session = &sess
	}
	if c.active != nil {
		snap.ContextID = c.active.id
		snap.Connected = c.active.monitor.Connected()
		if at := c.active.monitor.LastHeartbeatAt(); !at.IsZero() {
			snap.LastHeartbeatAt = &at
		}
	}
	if c.lastErr != nil {
		snap.Error = c.lastErr.Error()
	}
	return snap
}

// Close tears down the active session context and waits for background
// goroutines. It does not stop the remote session.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	c.release()
	if c.outbox != nil {
		close(c.outbox)
	}
	c.mu.Unlock()

	c.pumps.Wait()
	<-c.publisherDone
}

// advance starts a new lifecycle operation. Callers hold c.mu.
func (c *Controller) advance(phase Phase) (uint64, error) {
	if c.closed {
		return 0, ErrClosed
	}
	c.gen++
	c.lastErr = nil
	c.phase = phase
	c.publish(UpdatePhase)
	return c.gen, nil
}

func (c *Controller) setPhase(phase Phase) {
	if c.phase == phase {
		return
	}
	c.phase = phase
	c.publish(UpdatePhase)
}

func (c *Controller) fail(err error) {
	c.lastErr = err
	c.phase = PhaseError
	c.publish(UpdatePhase)
	log.Error().Err(err).Msg("session operation failed")
}

// openContext opens a channel for id and starts its pump. Callers hold c.mu
// and have released any previous context.
func (c *Controller) openContext(ctx context.Context, id domain.SessionID) {
	sc := &sessionContext{
		id:        uuid.NewString(),
		sessionID: id,
		ch:        c.open(ctx, id),
		monitor:   liveness.NewMonitor(c.clock, c.heartbeatTimeout),
		stop:      make(chan struct{}),
	}
	c.active = sc

	c.pumps.Add(1)
	go c.pump(sc)

	log.Debug().Str("session_id", id.String()).Str("context_id", sc.id).Msg("session context opened")
}

// release tears down the active context: its pump stops applying events,
// its timer is cancelled and its channel is closed. Callers hold c.mu.
func (c *Controller) release() {
	sc := c.active
	if sc == nil {
		return
	}
	c.active = nil
	close(sc.stop)
	sc.monitor.Close()
	sc.ch.Close()

	log.Debug().Str("session_id", sc.sessionID.String()).Str("context_id", sc.id).Msg("session context released")
}

// phaseFor maps a server status onto a phase. Statuses that say nothing
// about the lifecycle keep fallback.
func phaseFor(status domain.SessionStatus, fallback Phase) Phase {
	switch status {
	case domain.SessionStatusRunning:
		return PhaseRunning
	case domain.SessionStatusStopped, domain.SessionStatusExited, domain.SessionStatusDeleted:
		return PhaseStopped
	case domain.SessionStatusFailed:
		return PhaseError
	default:
		return fallback
	}
}

// publish queues an update built from the current state. Callers hold c.mu.
func (c *Controller) publish(kind UpdateKind) {
	c.publishChange(kind, nil)
}

func (c *Controller) publishChange(kind UpdateKind, change *TurnChange) {
	if c.outbox == nil || c.closed {
		return
	}

	u := Update{
		Kind:   kind,
		Phase:  c.phase,
		Typing: c.rec.Typing(),
		Change: change,
		Turns:  c.rec.Len(),
		At:     c.clock.Now(),
	}
	if c.session != nil {
		u.SessionID = c.session.ID
		u.Agent = c.session.AgentName
		u.Status = c.session.Status
	}
	if c.active != nil {
		u.ContextID = c.active.id
		u.Connected = c.active.monitor.Connected()
	}
	if c.lastErr != nil {
		u.Error = c.lastErr.Error()
	}

	select {
	case c.outbox <- u:
	default:
		log.Warn().Str("kind", string(kind)).Msg("update outbox full, dropping update")
	}
}

func (c *Controller) runPublisher() {
	defer close(c.publisherDone)

	for u := range c.outbox {
		payload, err := json.Marshal(u)
		if err != nil {
			log.Error().Err(err).Msg("failed to encode update")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if u.SessionID != "" {
			if err := c.pub.Publish(ctx, Channel(u.SessionID), payload); err != nil {
				log.Warn().Err(err).Str("session_id", u.SessionID.String()).Msg("failed to publish session update")
			}
		}
		if err := c.pub.Publish(ctx, UpdatesChannel, payload); err != nil {
			log.Warn().Err(err).Msg("failed to publish update")
		}
		cancel()
	}
}
