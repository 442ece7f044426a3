package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gosuda/agentdeck/internal/domain"
)

func newAgentsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agent catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := a.directory()
			if err != nil {
				return err
			}
			agents, err := dir.ListAgents(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list agents: %w", err)
			}
			return printAgents(cmd.OutOrStdout(), agents)
		},
	}
}

func newSessionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := a.directory()
			if err != nil {
				return err
			}
			sessions, err := dir.ListSessions(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			return printSessions(cmd.OutOrStdout(), sessions)
		},
	}
}

func printAgents(out io.Writer, agents []domain.Agent) error {
	if len(agents) == 0 {
		_, err := fmt.Fprintln(out, "No agents available.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, headerStyle.Render("NAME")+"\t"+headerStyle.Render("DESCRIPTION"))
	for _, agent := range agents {
		fmt.Fprintf(w, "%s\t%s\n", agentStyle.Render(agent.Name), agent.Description)
	}
	return w.Flush()
}

func printSessions(out io.Writer, sessions []domain.Session) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(out, "No sessions.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, headerStyle.Render("ID")+"\t"+headerStyle.Render("AGENT")+"\t"+
		headerStyle.Render("STATUS")+"\t"+headerStyle.Render("CREATED"))
	for _, s := range sessions {
		created := "-"
		if !s.CreatedAt.IsZero() {
			created = s.CreatedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			idStyle.Render(s.ID.String()),
			s.AgentName,
			statusStyle(s.Status).Render(string(s.Status)),
			dateStyle.Render(created),
		)
	}
	return w.Flush()
}
