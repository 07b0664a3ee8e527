package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:     "ping",
	Short:   "Check that the daemon is reachable",
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

		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if jsonOutput {
			return printJSON(map[string]any{"pong": true, "remote": client.Remote()})
		}
		if client.Remote() {
			fmt.Println("pong (remote)")
		} else {
			fmt.Println("pong")
		}
		return nil
	},
}
