package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/austinylin/carapace/internal/agent"
	"github.com/austinylin/carapace/internal/config"
	"github.com/austinylin/carapace/internal/connection"
	"github.com/austinylin/carapace/internal/logging"
	"github.com/austinylin/carapace/internal/procsig"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the CLI and HTTP ingress listeners",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), procsig.Graceful()...)
	defer stop()

	conn, err := connection.New(ctx, cfg.ServerHost, cfg.ServerPort, connection.WithLogger(logger))
	if err != nil {
		logger.Warn("initial connection to carapace-server failed, will retry", "error", err)
	}

	a := agent.New(conn, logger, cfg.PingInterval())

	go a.RunReaderLoop(ctx)
	go a.RunKeepalive(ctx)

	cliIngress := agent.NewCLIIngress(a, logger)
	httpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.HTTPPort)
	httpIngress := agent.NewHTTPIngress(a, logger, httpAddr)

	metricsAddr := net.JoinHostPort("127.0.0.1", fmt.Sprintf("%d", cfg.MetricsPort))
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: agent.NewMetricsHandler(a)}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("agent metrics server stopped", "error", err)
		}
	}()
	defer metricsSrv.Close()

	errCh := make(chan error, 2)
	go func() {
		errCh <- cliIngress.Serve(ctx, cfg.CLISocketPath)
	}()
	go func() {
		errCh <- httpIngress.Serve(ctx)
	}()

	logger.Info("carapace-agent starting",
		"server", fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		"cli_socket", cfg.CLISocketPath,
		"http_addr", httpAddr,
	)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("carapace-agent stopped")
	return nil
}
