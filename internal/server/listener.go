// Package server implements the trusted-side listener, policy dispatch,
// and upstream execution: the server half of Carapace's request pipeline.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/austinylin/carapace/internal/audit"
	"github.com/austinylin/carapace/internal/policy"
	"github.com/austinylin/carapace/internal/protocol"
	"github.com/austinylin/carapace/internal/ratelimit"
)

// Listener accepts agent connections, enforces a concurrent-connection
// cap, and spawns a reader/writer pair per accepted connection.
type Listener struct {
	config  *policy.CompiledConfig
	limiter *ratelimit.Limiter
	audit   audit.Sink
	logger  *slog.Logger

	cliDispatch  *CLIDispatcher
	httpDispatch *HTTPDispatcher

	maxConnections int
	activeConns    atomic.Int64

	metrics *Metrics

	wg sync.WaitGroup
}

// NewListener wires a Listener over the given compiled policy, rate
// limiter, and audit sink.
func NewListener(config *policy.CompiledConfig, limiter *ratelimit.Limiter, sink audit.Sink, logger *slog.Logger, maxConnections int) *Listener {
	return &Listener{
		config:         config,
		limiter:        limiter,
		audit:          sink,
		logger:         logger,
		cliDispatch:    NewCLIDispatcher(config, sink, logger),
		httpDispatch:   NewHTTPDispatcher(config, sink, logger),
		maxConnections: maxConnections,
	}
}

// WithMetrics attaches m, routing request and rate-limit-denial counters
// through it. ActiveConnections() should back m's active-connections
// gauge; called once during server startup, before Serve.
func (l *Listener) WithMetrics(m *Metrics) *Listener {
	l.metrics = m
	return l
}

// ActiveConnections returns the number of connections currently accepted,
// for use as a Prometheus GaugeFunc source.
func (l *Listener) ActiveConnections() int64 {
	return l.activeConns.Load()
}

// Serve runs the accept loop on ln until ctx is cancelled or Accept fails.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}

		if l.activeConns.Load() >= int64(l.maxConnections) {
			l.logger.Warn("connection cap reached, dropping connection", "remote", conn.RemoteAddr())
			conn.Close()
			continue
		}

		l.activeConns.Add(1)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.activeConns.Add(-1)
			l.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection runs one connection's reader loop and SSE writer task
// until the connection closes. The writer half is serialized behind
// writeMu so SSE events and terminal responses never interleave mid-frame.
func (l *Listener) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(msg protocol.Message) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := protocol.WriteFrame(conn, msg); err != nil {
			l.logger.Warn("write failed", "remote", conn.RemoteAddr(), "error", err)
		}
	}

	queue := newSSEQueue()
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		for {
			msg, ok := queue.pop()
			if !ok {
				return
			}
			write(msg)
		}
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var dispatchWG sync.WaitGroup
	for {
		msg, err := protocol.ReadFrame(conn)
		if err != nil {
			l.logger.Debug("connection reader ending", "remote", conn.RemoteAddr(), "error", err)
			break
		}

		switch m := msg.(type) {
		case protocol.Ping:
			write(protocol.Pong{RequestID: m.RequestID, Timestamp: m.Timestamp})
		case protocol.CliRequest:
			dispatchWG.Add(1)
			go func() {
				defer dispatchWG.Done()
				l.dispatchCLI(connCtx, m, write)
			}()
		case protocol.HTTPRequest:
			dispatchWG.Add(1)
			go func() {
				defer dispatchWG.Done()
				l.dispatchHTTP(connCtx, m, queue, write)
			}()
		default:
			l.logger.Warn("unexpected message on server connection", "type", fmt.Sprintf("%T", m))
		}
	}

	dispatchWG.Wait()
	queue.close()
	writerWG.Wait()
}

func (l *Listener) dispatchCLI(ctx context.Context, req protocol.CliRequest, write func(protocol.Message)) {
	if !l.limiter.Allow(req.Tool) {
		if l.metrics != nil {
			l.metrics.observeRateLimitDenied(req.Tool)
		}
		id := req.RequestID
		write(protocol.ErrorMessage{RequestID: &id, Code: "rate_limited", Message: "tool rate limit exceeded"})
		return
	}
	resp := l.cliDispatch.Dispatch(ctx, req)
	if l.metrics != nil {
		l.metrics.observeRequest(req.Tool, "cli", isAllowedResponse(resp))
	}
	write(resp)
}

func (l *Listener) dispatchHTTP(ctx context.Context, req protocol.HTTPRequest, queue *sseQueue, write func(protocol.Message)) {
	if !l.limiter.Allow(req.Tool) {
		if l.metrics != nil {
			l.metrics.observeRateLimitDenied(req.Tool)
		}
		id := req.RequestID
		write(protocol.ErrorMessage{RequestID: &id, Code: "rate_limited", Message: "tool rate limit exceeded"})
		return
	}
	terminal := l.httpDispatch.Dispatch(ctx, req, queue)
	if l.metrics != nil {
		l.metrics.observeRequest(req.Tool, "http", isAllowedResponse(terminal))
	}
	if terminal != nil {
		write(terminal)
	}
}

// isAllowedResponse reports whether resp represents an allowed dispatch
// outcome (anything but an ErrorMessage), for the requests_total "outcome"
// label.
func isAllowedResponse(resp protocol.Message) bool {
	_, denied := resp.(protocol.ErrorMessage)
	return !denied
}

// Wait blocks until every accepted connection's handler has returned.
func (l *Listener) Wait() {
	l.wg.Wait()
}
