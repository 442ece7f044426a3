package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/agentdeck/internal/channel"
	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/session"
	"github.com/gosuda/agentdeck/internal/store/memory"
	"github.com/gosuda/agentdeck/internal/transcript"
)

const helpText = `Commands:
  /stop      stop the session
  /restart   restart the session
  /expand    toggle full log lines
  /status    show session state
  /quit      leave (the session keeps running)`

type interactiveOptions struct {
	agent   string // non-empty: create a session for this agent
	id      domain.SessionID
	restart bool
	expand  bool
}

func newAttachCmd(a *app) *cobra.Command {
	var restart, expand bool

	cmd := &cobra.Command{
		Use:   "attach <session-id>",
		Short: "Attach to a session and chat with it",
		Long: `Attach to a session, restarting it first if it has stopped, and show
its transcript. Lines typed on stdin are sent to the agent.

` + helpText,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.interactive(cmd, interactiveOptions{
				id:      domain.SessionID(args[0]),
				restart: restart,
				expand:  expand,
			})
		},
	}

	cmd.Flags().BoolVar(&restart, "restart", false, "Restart the session even if it is running")
	cmd.Flags().BoolVar(&expand, "expand", false, "Show log lines in full")
	return cmd
}

// interactive runs a session controller in the foreground, printing its
// transcript and forwarding stdin lines to the agent.
func (a *app) interactive(cmd *cobra.Command, opts interactiveOptions) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dir, err := a.directory()
	if err != nil {
		return err
	}

	ps := memory.New()
	defer ps.Close()

	ctrl, err := session.New(session.Options{
		Directory:        dir,
		Open:             session.ChannelOpener(channel.Options{BaseURL: a.cfg.Backend.WebSocketURL()}),
		Publisher:        ps,
		HeartbeatTimeout: a.cfg.Session.HeartbeatTimeout,
	})
	if err != nil {
		return err
	}

	updates, cleanup, err := ps.Subscribe(ctx, session.UpdatesChannel)
	if err != nil {
		ctrl.Close()
		return err
	}

	policy := transcript.DisplayPolicy{MaxChars: a.cfg.Display.MaxChars, FirstLineOnly: a.cfg.Display.FirstLineOnly}
	r := newRenderer(cmd.OutOrStdout(), policy, opts.expand, ctrl.Snapshot)

	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		for payload := range updates {
			var u session.Update
			if err := json.Unmarshal(payload, &u); err != nil {
				log.Warn().Err(err).Msg("undecodable update")
				continue
			}
			r.render(u)
		}
	}()
	defer func() {
		ctrl.Close()
		cleanup()
		<-renderDone
	}()

	var sess domain.Session
	switch {
	case opts.agent != "":
		sess, err = ctrl.Create(ctx, opts.agent)
	case opts.restart:
		sess, err = ctrl.Restart(ctx, opts.id)
	default:
		sess, err = ctrl.Attach(ctx, opts.id)
	}
	if err != nil {
		if !errors.Is(err, session.ErrBackfill) || ctrl.Snapshot().Phase == session.PhaseError {
			return fmt.Errorf("failed to open session: %w", err)
		}
		r.notice("history unavailable: " + err.Error())
	}
	log.Debug().Str("session_id", sess.ID.String()).Msg("interactive session ready")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, ctrl, r, sess.ID, line); quit {
				return nil
			}
		}
	}
}

// handleLine runs a slash command or sends line to the agent. It reports
// whether the user asked to leave.
func handleLine(ctx context.Context, ctrl *session.Controller, r *renderer, id domain.SessionID, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	switch line {
	case "/quit", "/exit":
		return true
	case "/help":
		r.notice(helpText)
	case "/expand":
		if r.toggleExpand() {
			r.notice("log lines expanded")
		} else {
			r.notice("log lines truncated")
		}
	case "/status":
		snap := ctrl.Snapshot()
		r.notice(fmt.Sprintf("phase %s, connected %t, %d turns", snap.Phase, snap.Connected, len(snap.Turns)))
	case "/stop":
		if err := ctrl.Stop(ctx); err != nil {
			r.notice("stop failed: " + err.Error())
		}
	case "/restart":
		if _, err := ctrl.Restart(ctx, id); err != nil {
			r.notice("restart failed: " + err.Error())
		}
	default:
		if strings.HasPrefix(line, "/") {
			r.notice("unknown command " + line + "; try /help")
			return false
		}
		if err := ctrl.SendUserMessage(ctx, line); err != nil {
			if errors.Is(err, session.ErrChannelNotOpen) || errors.Is(err, session.ErrNoActiveSession) {
				r.notice("not connected; message not sent")
				return false
			}
			r.notice("send failed: " + err.Error())
		}
	}
	return false
}
