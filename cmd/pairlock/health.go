package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/groblegark/pairlock/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Show the ruleset the daemon is enforcing",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := callContext()
		defer cancel()

		h, err := client.HookHealth(ctx)
		if err != nil {
			return fmt.Errorf("health: %w", err)
		}
		if jsonOutput {
			return printJSON(h)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s\t%s\n", ui.RenderMuted("status:"), h.Status)
		fmt.Fprintf(w, "%s\t%s\n", ui.RenderMuted("pattern hash:"), h.PatternHash)
		fmt.Fprintf(w, "%s\t%d\n", ui.RenderMuted("pattern count:"), h.PatternCount)
		fmt.Fprintf(w, "%s\t%s\n", ui.RenderMuted("uptime:"), formatUptime(h.UptimeSeconds))
		return w.Flush()
	},
}
