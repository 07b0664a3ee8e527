package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groblegark/pairlock/internal/ui"
)

var verifyCmd = &cobra.Command{
	Use:     "verify <request-id>",
	Short:   "Claim the execution token for an approved request",
	GroupID: "hooks",
	Long: `Check that a request has its approvals and claim the single execution
token. Exits 0 when execution is allowed and 1 when it is refused, so
wrappers can gate the command on the exit code.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requestID := args[0]
		session, _ := cmd.Flags().GetString("session")
		if session == "" {
			return fmt.Errorf("--session is required")
		}

		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := callContext()
		defer cancel()

		res, err := client.VerifyExecute(ctx, requestID, session)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}

		if jsonOutput {
			if err := printJSON(res); err != nil {
				return err
			}
		} else if res.Allowed {
			fmt.Printf("%s %s\n", ui.RenderAccent("execute:"), requestID)
		} else {
			fmt.Printf("refused: %s (status %s)\n", res.Reason, res.Status)
		}

		if !res.Allowed {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().String("session", "", "executing session ID")
}
