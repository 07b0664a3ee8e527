package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/groblegark/pairlock/internal/config"
	"github.com/groblegark/pairlock/internal/ui"
)

var (
	socketPath string
	jsonOutput bool
	noColor    bool
)

func defaultSocket() string {
	if s := os.Getenv("PAIRLOCK_SOCKET"); s != "" {
		return s
	}
	return config.DefaultSocketPath()
}

var rootCmd = &cobra.Command{
	Use:   "pairlock <command>",
	Short: "Two-person approval daemon for risky agent commands",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		// A named remote supplies the host and key unless the environment
		// already does.
		applyActiveRemote()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocket(), "daemon unix socket path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "hooks", Title: "Hooks:"},
		&cobra.Group{ID: "reviews", Title: "Reviews:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	// Hooks
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(notifyCmd)

	// Reviews
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(watchCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
