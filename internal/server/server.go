package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/austinylin/carapace/internal/audit"
	"github.com/austinylin/carapace/internal/config"
	"github.com/austinylin/carapace/internal/policy"
	"github.com/austinylin/carapace/internal/ratelimit"
)

// Run loads the policy file and starts the listener on cfg's configured
// address, blocking until ctx is cancelled. On cancellation it stops
// accepting new connections and waits up to cfg.ShutdownTimeout for
// in-flight connections to drain.
func Run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	rawConfig, err := policy.LoadFile(cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("server: load policy file %s: %w", cfg.PolicyFile, err)
	}
	compiled, err := rawConfig.Compile()
	if err != nil {
		return fmt.Errorf("server: compile policy: %w", err)
	}
	logger.Info("policy loaded", "file", cfg.PolicyFile, "tools", len(compiled.Tools))

	limiter := ratelimit.New(cfg.RateLimitMax, int64(cfg.RateLimitWindowSecs))
	for name, tool := range compiled.Tools {
		if tool.Type == policy.ToolTypeHTTP && tool.HTTP != nil && tool.HTTP.RateLimit != nil {
			limiter.SetOverride(name, tool.HTTP.RateLimit.Max, int64(tool.HTTP.RateLimit.WindowSec))
		}
	}

	var sink audit.Sink = audit.NopSink{}
	if cfg.AuditLog != "" {
		fileSink, err := audit.NewFileSink(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("server: open audit log: %w", err)
		}
		defer fileSink.Close()
		sink = fileSink
	}

	listener := NewListener(compiled, limiter, sink, logger, cfg.MaxConnections)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, listener.ActiveConnections)
	listener.WithMetrics(metrics)

	addr := net.JoinHostPort(cfg.ListenHost, fmt.Sprintf("%d", cfg.ListenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	logger.Info("carapace-server listening", "addr", addr, "max_connections", cfg.MaxConnections)

	metricsAddr := net.JoinHostPort(cfg.ListenHost, fmt.Sprintf("%d", cfg.MetricsPort))
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: Handler(reg)}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	logger.Info("carapace-server metrics listening", "addr", metricsAddr)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listener.Serve(ctx, ln)
	}()

	select {
	case err := <-serveErr:
		_ = metricsSrv.Close()
		return err
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	drained := make(chan struct{})
	go func() {
		listener.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		logger.Info("all connections drained")
	case <-drainCtx.Done():
		logger.Warn("shutdown timeout exceeded, connections may be forcibly closed", "timeout", cfg.ShutdownTimeout())
	}

	_ = metricsSrv.Close()

	return <-serveErr
}
