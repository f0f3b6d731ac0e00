// Package cmd provides the CLI commands for carapace-agent.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "carapace-agent",
	Short: "Carapace untrusted-side ingress",
	Long: `carapace-agent runs alongside an untrusted AI agent process and gives
it two ingress surfaces — a Unix-domain socket for CLI-style tool calls and
a loopback HTTP proxy for JSON-RPC and SSE traffic — both forwarded over a
reconnecting connection to carapace-server for policy enforcement.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
