// Package cmd provides the CLI commands for carapace-shim.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "carapace-shim",
	Short: "Transparent forwarding shim for a policy-enforced tool",
	Long: `carapace-shim replaces a user-facing tool binary on PATH (by copy or
symlink, named after the tool it replaces) and forwards every invocation's
argv, env, and cwd to carapace-agent's CLI ingress socket, printing the
returned stdout/stderr and exiting with the returned exit code.

Running it directly (rather than via a tool-named symlink) exposes
--install and --which, helpers for setting up and inspecting that
replacement.`,
	RunE:               runForward,
	DisableFlagParsing: true,
}

var (
	installTarget string
	whichTarget   string
)

func init() {
	rootCmd.Flags().StringVar(&installTarget, "install", "", "install this shim binary over the named PATH entry")
	rootCmd.Flags().StringVar(&whichTarget, "which", "", "print the real binary a PATH entry resolves to, bypassing the shim")
}

// Execute runs the root command. Flag parsing is disabled on rootCmd
// itself so that "carapace-shim gh pr list --all" forwards "--all" to the
// wrapped tool rather than being consumed by cobra; --install and --which
// are recognized by runForward before forwarding begins.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
