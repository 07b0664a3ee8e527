package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/groblegark/pairlock/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show daemon status",
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

		st, err := client.Status(ctx)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		if jsonOutput {
			return printJSON(st)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s\t%d\n", ui.RenderMuted("pending requests:"), st.PendingCount)
		fmt.Fprintf(w, "%s\t%d\n", ui.RenderMuted("active sessions:"), st.ActiveSessions)
		fmt.Fprintf(w, "%s\t%s\n", ui.RenderMuted("uptime:"), formatUptime(st.UptimeSeconds))
		return w.Flush()
	},
}
