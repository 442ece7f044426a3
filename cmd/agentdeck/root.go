package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/agentdeck/internal/config"
	"github.com/gosuda/agentdeck/internal/directory"
)

var version = "dev" //nolint:gochecknoglobals // set by -ldflags

// app carries state shared by every command.
type app struct {
	cfg *config.Config

	apiURL string
	wsURL  string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "agentdeck",
		Short: "Drive remote agent sessions",
		Long: `agentdeck talks to an agent backend: it lists the agent catalog,
manages sessions and streams their transcripts.

Quick Start:
  agentdeck agents                # List available agents
  agentdeck create echo --attach  # Start a session and chat with it
  agentdeck serve                 # Run the local control API`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "Agent backend REST URL (overrides AGENTDECK_API_URL)")
	root.PersistentFlags().StringVar(&a.wsURL, "ws-url", "", "Agent backend WebSocket URL (overrides AGENTDECK_WS_URL)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newServeCmd(a),
		newAgentsCmd(a),
		newSessionsCmd(a),
		newCreateCmd(a),
		newAttachCmd(a),
		newStopCmd(a),
		newRestartCmd(a),
		newDeleteCmd(a),
	)

	return root
}

// init loads configuration, applies flag overrides and sets up the global
// logger.
func (a *app) init(logOut io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.OverrideBackend(a.apiURL, a.wsURL); err != nil {
		return err
	}
	a.cfg = cfg

	zerolog.SetGlobalLevel(cfg.Log.Level)
	if cfg.Log.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: logOut}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(logOut).With().Timestamp().Logger()
	}

	return nil
}

func (a *app) directory() (*directory.Client, error) {
	client, err := directory.New(directory.Config{
		BaseURL:   a.cfg.Backend.APIURL,
		Timeout:   a.cfg.Backend.Timeout,
		RateLimit: a.cfg.Backend.RateLimit,
		Burst:     a.cfg.Backend.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("directory client: %w", err)
	}
	return client, nil
}
