package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gosuda/agentdeck/internal/domain"
)

func newCreateCmd(a *app) *cobra.Command {
	var attach, expand bool

	cmd := &cobra.Command{
		Use:   "create <agent>",
		Short: "Start a new session for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if attach {
				return a.interactive(cmd, interactiveOptions{agent: args[0], expand: expand})
			}

			dir, err := a.directory()
			if err != nil {
				return err
			}
			sess, err := dir.Create(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to create session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created session %s (%s)\n", idStyle.Render(sess.ID.String()), sess.AgentName)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&attach, "attach", "a", false, "Attach to the new session interactively")
	cmd.Flags().BoolVar(&expand, "expand", false, "Show log lines in full")
	return cmd
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Stop a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.directory()
			if err != nil {
				return err
			}
			if err := dir.Stop(cmd.Context(), domain.SessionID(args[0])); err != nil {
				return fmt.Errorf("failed to stop session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped session %s\n", idStyle.Render(args[0]))
			return nil
		},
	}
}

func newRestartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <session-id>",
		Short: "Restart a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.directory()
			if err != nil {
				return err
			}
			status, err := dir.Restart(cmd.Context(), domain.SessionID(args[0]))
			if err != nil {
				return fmt.Errorf("failed to restart session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restarted session %s: %s\n",
				idStyle.Render(args[0]), statusStyle(status).Render(string(status)))
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.directory()
			if err != nil {
				return err
			}
			if err := dir.Delete(cmd.Context(), domain.SessionID(args[0])); err != nil {
				return fmt.Errorf("failed to delete session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", idStyle.Render(args[0]))
			return nil
		},
	}
}
