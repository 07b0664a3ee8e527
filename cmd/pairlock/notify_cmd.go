package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:     "notify <type> [payload-json]",
	Short:   "Broadcast an event to daemon subscribers",
	GroupID: "hooks",
	Long: `Publish an event to every subscribed connection. Wrappers use this to
report command completion ('request_executed' with an exit_code payload),
which settles the executing request.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType := args[0]

		var payload any
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
				return fmt.Errorf("payload is not valid JSON: %w", err)
			}
		}

		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := callContext()
		defer cancel()

		if err := client.Notify(ctx, eventType, payload); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		if jsonOutput {
			return printJSON(map[string]any{"sent": true, "type": eventType})
		}
		fmt.Printf("sent %s\n", eventType)
		return nil
	},
}
