package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/triage-ai/guardbench/internal/config"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Show the parsed guardrail configuration",
	Long: `Print the guardrail settings as guardbench understands them: whether
screening is enabled, the mode, the backend and every PolicyRef parsed from
GUARDRAILS_IDS, plus any entries that were skipped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printPolicies(cmd.OutOrStdout(), cfg)
	},
}

func printPolicies(w io.Writer, c *config.Config) error {
	g := c.Guardrails
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Enabled:\t%t\n", g.Enabled)
	fmt.Fprintf(tw, "Mode:\t%s\n", g.Mode)
	fmt.Fprintf(tw, "Backend:\t%s\n", g.Backend)
	fmt.Fprintf(tw, "Output pairing:\t%s\n", g.Pairing)
	fmt.Fprintf(tw, "Timeout:\t%s\n", g.Timeout)
	if g.Backend == config.BackendGRPC {
		fmt.Fprintf(tw, "Endpoint:\t%s\n", g.GRPCEndpoint)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nPolicies (%d):\n", len(g.Policies))
	if len(g.Policies) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, p := range g.Policies {
		fmt.Fprintf(tw, "  %d.\tID: %s\tVersion: %s\n", i+1, p.ID, p.Version)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(g.Skipped) > 0 {
		fmt.Fprintf(w, "\nSkipped entries (no ':' separator):\n")
		for _, s := range g.Skipped {
			fmt.Fprintf(w, "  %s\n", s)
		}
	}
	if g.Enabled && len(g.Policies) == 0 {
		fmt.Fprintf(w, "\nWarning: %v\n", config.ErrNoPolicies)
	}
	return nil
}
