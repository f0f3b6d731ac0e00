// Package agent implements the untrusted-side ingress: the CLI and HTTP
// listeners an agent process talks to, the reconnecting connection to
// carapace-server, and the reader/keepalive tasks that keep them in sync.
package agent

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/austinylin/carapace/internal/connection"
	"github.com/austinylin/carapace/internal/multiplexer"
	"github.com/austinylin/carapace/internal/protocol"
)

// Agent owns the connection to carapace-server, the multiplexer that
// correlates responses to waiters, and the background reader and
// keepalive tasks that keep the connection alive.
type Agent struct {
	conn   *connection.Connection
	mux    *multiplexer.Multiplexer
	logger *slog.Logger

	pingInterval time.Duration
	pingCounter  uint64
	pingMu       sync.Mutex
}

// New wires an Agent around an already-established connection.
func New(conn *connection.Connection, logger *slog.Logger, pingInterval time.Duration) *Agent {
	return &Agent{
		conn:         conn,
		mux:          multiplexer.New(),
		logger:       logger,
		pingInterval: pingInterval,
	}
}

// Multiplexer returns the waiter table ingress handlers register against.
func (a *Agent) Multiplexer() *multiplexer.Multiplexer {
	return a.mux
}

// Send forwards msg to carapace-server.
func (a *Agent) Send(msg protocol.Message) error {
	return a.conn.Send(msg)
}

// RunReaderLoop loops forever: when the connection is unhealthy it cleans
// up every waiter and blocks on the reconnect notifier; otherwise it
// receives a frame and, unless it is a Pong (dropped — keepalive replies
// carry no waiter), routes it through the multiplexer.
func (a *Agent) RunReaderLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !a.conn.IsHealthy() {
			a.mux.CleanupOnDisconnect()
			if err := a.conn.WaitForReconnect(ctx); err != nil {
				return
			}
			continue
		}

		msg, err := a.conn.Recv()
		if err != nil {
			a.logger.Warn("connection recv error", "error", err)
			continue
		}
		if msg == nil {
			// Clean EOF: connection marked unhealthy by Recv; loop back
			// around to the unhealthy branch above.
			continue
		}
		if _, isPong := msg.(protocol.Pong); isPong {
			continue
		}
		a.mux.HandleResponse(msg)
	}
}

// RunKeepalive sends a Ping on every tick when the connection is healthy,
// or attempts a reconnect when it is not. A send failure marks the
// connection unhealthy; the reader loop owns recovery from there.
func (a *Agent) RunKeepalive(ctx context.Context) {
	ticker := time.NewTicker(a.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.conn.IsHealthy() {
				if err := a.conn.ReconnectIfNeeded(ctx); err != nil {
					a.logger.Warn("reconnect attempt failed", "error", err)
				}
				continue
			}
			ping := protocol.Ping{RequestID: a.nextPingID(), Timestamp: uint64(time.Now().Unix())}
			if err := a.conn.Send(ping); err != nil {
				a.logger.Warn("keepalive ping failed", "error", err)
			}
		}
	}
}

func (a *Agent) nextPingID() string {
	a.pingMu.Lock()
	defer a.pingMu.Unlock()
	a.pingCounter++
	return "ping-" + strconv.FormatUint(a.pingCounter, 10)
}
