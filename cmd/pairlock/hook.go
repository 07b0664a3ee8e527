package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/groblegark/pairlock/internal/ipc"
	"github.com/groblegark/pairlock/internal/ui"
)

var hookCmd = &cobra.Command{
	Use:     "hook <command...>",
	Short:   "Classify a command and open an approval request if it is blocked",
	GroupID: "hooks",
	Long: `Classify a shell command against the daemon's ruleset. Safe commands
exit 0 immediately. Blocked commands open an approval request (when a
session is given) and exit 1; the wrapper should hold the command until
'pairlock verify' grants the execution token.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := ipc.HookQueryParams{
			Command: strings.Join(args, " "),
		}
		params.SessionID, _ = cmd.Flags().GetString("session")
		params.Agent, _ = cmd.Flags().GetString("agent")
		params.Program, _ = cmd.Flags().GetString("program")
		params.Model, _ = cmd.Flags().GetString("model")
		params.CWD, _ = cmd.Flags().GetString("cwd")
		params.ProjectPath, _ = cmd.Flags().GetString("project")
		params.Justification, _ = cmd.Flags().GetString("justification")
		params.RequireDifferentModel, _ = cmd.Flags().GetBool("require-different-model")

		if params.CWD == "" {
			params.CWD, _ = os.Getwd()
		}

		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := callContext()
		defer cancel()

		res, err := client.HookQuery(ctx, params)
		if err != nil {
			return fmt.Errorf("hook query: %w", err)
		}

		if jsonOutput {
			if err := printJSON(res); err != nil {
				return err
			}
		} else if res.Action == "allow" {
			fmt.Printf("allow (%s)\n", res.Tier)
		} else {
			fmt.Printf("%s %s tier, needs %d approvals\n",
				ui.RenderAccent("blocked:"), res.Tier, res.MinApprovals)
			if res.Rule != "" {
				fmt.Printf("rule: %s\n", ui.RenderMuted(res.Rule))
			}
			if res.RequestID != "" {
				fmt.Printf("request: %s\n", ui.RenderCommand(res.RequestID))
			}
		}

		if res.Action != "allow" {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	hookCmd.Flags().String("session", "", "requesting session ID")
	hookCmd.Flags().String("agent", "", "agent name (e.g. claude, codex)")
	hookCmd.Flags().String("program", "", "agent program")
	hookCmd.Flags().String("model", "", "model identity of the requestor")
	hookCmd.Flags().String("cwd", "", "working directory of the command (default: current)")
	hookCmd.Flags().String("project", "", "project path the session works in")
	hookCmd.Flags().String("justification", "", "why the command is needed")
	hookCmd.Flags().Bool("require-different-model", false, "require reviewers on a different model")
}
