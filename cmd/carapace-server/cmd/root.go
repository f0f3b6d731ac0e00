// Package cmd provides the CLI commands for carapace-server.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "carapace-server",
	Short: "Carapace trusted-side policy gateway",
	Long: `carapace-server is the trusted-side half of Carapace: it accepts
connections from carapace-agent, enforces per-tool policy on every CLI
invocation and upstream HTTP/JSON-RPC call, rate-limits by tool, and
audits every decision.

Configuration is read entirely from CARAPACE_* environment variables;
see LoadServerConfig in internal/config for the full list and their
defaults.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
