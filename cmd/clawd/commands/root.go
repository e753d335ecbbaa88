// Package commands implements the clawd CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clawd",
		Short: "ClawD - personal assistant gateway",
		Long: `ClawD runs the gateway core of a personal assistant: a WebSocket
control plane with per-session work lanes, subagent run tracking, and a
cron scheduler.

Examples:
  clawd serve
  clawd serve --config ./clawd.yaml
  clawd cron list
  clawd token set`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(version),
		newHealthCmd(),
		newTokenCmd(),
		newCronCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
