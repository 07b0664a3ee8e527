package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groblegark/pairlock/internal/ipc"
	"github.com/groblegark/pairlock/internal/ui"
)

var reviewCmd = &cobra.Command{
	Use:     "review",
	Short:   "Approve or deny a pending request",
	GroupID: "reviews",
}

func runReview(cmd *cobra.Command, requestID, decision string) error {
	session, _ := cmd.Flags().GetString("session")
	if session == "" {
		return fmt.Errorf("--session is required")
	}
	comment, _ := cmd.Flags().GetString("comment")

	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := callContext()
	defer cancel()

	res, err := client.Review(ctx, ipc.ReviewParams{
		RequestID: requestID,
		SessionID: session,
		Decision:  decision,
		Comment:   comment,
	})
	if err != nil {
		return fmt.Errorf("review: %w", err)
	}

	if jsonOutput {
		return printJSON(res)
	}
	fmt.Printf("%s %s is now %s\n", ui.RenderMuted("request"), res.RequestID, ui.RenderAccent(res.Status))
	return nil
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Record an approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReview(cmd, args[0], "approve")
	},
}

var reviewDenyCmd = &cobra.Command{
	Use:   "deny <request-id>",
	Short: "Record a denial",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReview(cmd, args[0], "deny")
	},
}

func init() {
	for _, c := range []*cobra.Command{reviewApproveCmd, reviewDenyCmd} {
		c.Flags().String("session", "", "reviewing session ID")
		c.Flags().String("comment", "", "optional review comment")
	}
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewDenyCmd)
}
