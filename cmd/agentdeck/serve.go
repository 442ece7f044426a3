package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/agentdeck/internal/api/ws"
	"github.com/gosuda/agentdeck/internal/channel"
	"github.com/gosuda/agentdeck/internal/config"
	"github.com/gosuda/agentdeck/internal/messenger/slack"
	"github.com/gosuda/agentdeck/internal/notify"
	"github.com/gosuda/agentdeck/internal/server"
	"github.com/gosuda/agentdeck/internal/session"
	"github.com/gosuda/agentdeck/internal/store/memory"
	redisstore "github.com/gosuda/agentdeck/internal/store/redis"
)

const shutdownTimeout = 10 * time.Second

// pubSub is the update transport: Redis when configured, in-process
// otherwise.
type pubSub interface {
	ws.PubSub
	Close() error
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local control API",
		Long: `Run a session controller behind a local HTTP API. Updates are
streamed on /ws/updates and, when Slack is configured, liveness and
lifecycle problems are posted as alerts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dir, err := a.directory()
	if err != nil {
		return err
	}

	ps, err := openPubSub(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer ps.Close()

	ctrl, err := session.New(session.Options{
		Directory:        dir,
		Open:             session.ChannelOpener(channel.Options{BaseURL: cfg.Backend.WebSocketURL()}),
		Publisher:        ps,
		HeartbeatTimeout: cfg.Session.HeartbeatTimeout,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	srv := server.New(ctx, cfg, server.Deps{Directory: dir, Controller: ctrl, PubSub: ps})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(gctx)
	})

	if cfg.Slack.Enabled() {
		registry := notify.NewRegistry()
		registry.Register(slack.New(cfg.Slack.BotToken))
		notifier := notify.New(registry, notify.Route{Platform: "slack", ChannelID: cfg.Slack.Channel})
		watcher := notify.NewWatcher(ps, notifier)

		log.Info().Str("channel", cfg.Slack.Channel).Msg("Slack alerts enabled")
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	// Block until shutdown signal or a component fails.
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("stopped")
	return nil
}

func openPubSub(ctx context.Context, cfg config.RedisConfig) (pubSub, error) {
	if cfg.Addr == "" {
		log.Info().Msg("using in-process update fan-out")
		return memory.New(), nil
	}

	ps, err := redisstore.New(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", cfg.Addr).Msg("using Redis update fan-out")
	return ps, nil
}
