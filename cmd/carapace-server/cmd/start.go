package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/austinylin/carapace/internal/config"
	"github.com/austinylin/carapace/internal/logging"
	"github.com/austinylin/carapace/internal/procsig"
	"github.com/austinylin/carapace/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the policy-enforcing listener",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), procsig.Graceful()...)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	printBanner(cfg)

	logger.Info("carapace-server starting",
		"policy_file", cfg.PolicyFile,
		"listen", fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort),
		"rate_limit_max", cfg.RateLimitMax,
		"rate_limit_window_secs", cfg.RateLimitWindowSecs,
		"max_connections", cfg.MaxConnections,
	)

	if err := server.Run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("carapace-server stopped")
	return nil
}

// printBanner writes a one-line startup summary to stderr, colorized when
// stderr is an interactive terminal (operator consoles, not log shippers).
func printBanner(cfg config.ServerConfig) {
	line := fmt.Sprintf("carapace-server listening on %s:%d (policy: %s)", cfg.ListenHost, cfg.ListenPort, cfg.PolicyFile)
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		color.New(color.FgGreen, color.Bold).Fprintln(os.Stderr, line)
		return
	}
	fmt.Fprintln(os.Stderr, line)
}

func pidFilePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".carapace", "server.pid")
	}
	return filepath.Join(os.TempDir(), "carapace-server.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
