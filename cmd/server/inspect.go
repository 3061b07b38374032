package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/SAISURYACHARAN89/codesync/internal/client"
	"github.com/SAISURYACHARAN89/codesync/internal/domain/execution"
)

func newLanguagesCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "languages",
		Short: "List the languages a server can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			langs, err := client.New(client.Options{BaseURL: server, Retries: 2}).Languages(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LANGUAGE\tALIASES\tBACKEND\tVERSION")
			for _, p := range langs {
				backend := p.Backend
				if backend == "" {
					backend = "default"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Language, strings.Join(p.Aliases, ","), backend, p.Version)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&server, "server", serverURL(), "server base URL (CODESYNC_URL)")
	return cmd
}

func newSessionCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "session CODE",
		Short: "Show the members of a live session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			snap, err := client.New(client.Options{BaseURL: server, Retries: 2}).Session(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session: %s\n", snap.ID)
			fmt.Fprintf(out, "created: %s\n", snap.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "members: %d\n", len(snap.Members))
			for _, m := range snap.Members {
				line := "  " + string(m)
				if pos, ok := snap.Cursors[m]; ok {
					line += fmt.Sprintf(" @ %d:%d", pos.Line, pos.Column)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", serverURL(), "server base URL (CODESYNC_URL)")
	return cmd
}

func newHealthCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			h, err := client.New(client.Options{BaseURL: server}).Health(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status: %s (up %s)\n", h.Status, h.Uptime)
			fmt.Fprintf(out, "sessions: %d, members: %d, connections: %d, attached: %d\n",
				h.Sessions.Sessions, h.Sessions.Members, h.Connections, h.Attached)
			if h.Sandbox != nil {
				printSandbox(cmd, h.Sandbox)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", serverURL(), "server base URL (CODESYNC_URL)")
	return cmd
}

func printSandbox(cmd *cobra.Command, h *execution.Health) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sandbox slots: %d/%d in use\n", h.Slots.InUse, h.Slots.Size)
	for _, execID := range h.Running {
		fmt.Fprintf(out, "  running %s\n", execID)
	}
	for _, b := range h.Breakers {
		fmt.Fprintf(out, "  breaker %s: %s\n", b.Name, b.State)
	}
}
