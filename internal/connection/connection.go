// Package connection implements the reconnecting framed-duplex TCP
// connection the agent uses to reach the server.
package connection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/austinylin/carapace/internal/carapaceerr"
	"github.com/austinylin/carapace/internal/protocol"
)

// maxBackoff caps the exponential reconnect backoff, per spec, to avoid
// pathological sleeps on a long-dead server.
const maxBackoff = 3600000 * time.Millisecond

// Connection is a reconnecting framed-duplex TCP connection. The reader
// half and writer half are each guarded by their own mutex so that a slow
// write never blocks a concurrent read, and vice versa. The connected flag
// is the single source of truth both the keepalive monitor and the reader
// loop consult; it flips false on any I/O error and true only after a
// successful (re)connect.
type Connection struct {
	host string
	port int

	reconnectAttempts int
	initialBackoff    time.Duration

	logger *slog.Logger

	readerMu sync.Mutex
	reader   *bufio.Reader

	writerMu sync.Mutex
	writer   net.Conn // also used as the raw connection for closing

	connected atomic.Bool

	notifyMu sync.Mutex
	notifyCh chan struct{}

	totalReconnectAttempts atomic.Int64
}

// Option configures a Connection at construction.
type Option func(*Connection)

// WithReconnectParams overrides the default reconnect attempt count and
// initial backoff.
func WithReconnectParams(attempts int, initialBackoff time.Duration) Option {
	return func(c *Connection) {
		c.reconnectAttempts = attempts
		c.initialBackoff = initialBackoff
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connection) {
		c.logger = logger
	}
}

// New constructs a Connection and immediately attempts to establish it.
// On exhaustion of all reconnect attempts, it returns a
// CodeReconnectionFailed error; the Connection is still usable afterward
// and a later ReconnectIfNeeded call will retry.
func New(ctx context.Context, host string, port int, opts ...Option) (*Connection, error) {
	c := &Connection{
		host:              host,
		port:              port,
		reconnectAttempts: 5,
		initialBackoff:    100 * time.Millisecond,
		logger:            slog.Default(),
		notifyCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.establish(ctx); err != nil {
		return c, err
	}
	return c, nil
}

// establish attempts up to reconnectAttempts connects with exponential
// backoff, capped at maxBackoff. On success it installs the new reader and
// writer halves, marks the connection healthy, and wakes anyone blocked in
// WaitForReconnect.
func (c *Connection) establish(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.reconnectAttempts; attempt++ {
		c.totalReconnectAttempts.Add(1)
		conn, err := c.tryConnect(ctx)
		if err == nil {
			c.readerMu.Lock()
			c.reader = bufio.NewReader(conn)
			c.readerMu.Unlock()

			c.writerMu.Lock()
			c.writer = conn
			c.writerMu.Unlock()

			c.connected.Store(true)
			c.armNotifier()

			c.logger.Info("connection established",
				"host", c.host, "port", c.port, "attempt", attempt+1)
			return nil
		}
		lastErr = err

		if attempt < c.reconnectAttempts-1 {
			backoff := c.initialBackoff * time.Duration(1<<uint(attempt))
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			c.logger.Warn("connection attempt failed, retrying",
				"attempt", attempt+1, "backoff", backoff, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return carapaceerr.Wrap(carapaceerr.CodeReconnectionFailed, "reconnect cancelled", ctx.Err())
			}
		}
	}
	return carapaceerr.Wrap(carapaceerr.CodeReconnectionFailed,
		fmt.Sprintf("exhausted %d reconnect attempts", c.reconnectAttempts), lastErr)
}

func (c *Connection) tryConnect(ctx context.Context) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, carapaceerr.Wrap(carapaceerr.CodeConnectionRefused, "tcp dial failed", err)
	}
	return conn, nil
}

// armNotifier closes the current notifier (waking anyone blocked on it)
// and installs a fresh one for the next disconnect/reconnect cycle.
func (c *Connection) armNotifier() {
	c.notifyMu.Lock()
	old := c.notifyCh
	c.notifyCh = make(chan struct{})
	c.notifyMu.Unlock()
	close(old)
}

// Send writes and flushes one frame. Any I/O error marks the connection
// unhealthy; the reader loop owns recovery, not Send itself.
func (c *Connection) Send(msg protocol.Message) error {
	c.writerMu.Lock()
	defer c.writerMu.Unlock()

	if c.writer == nil {
		return carapaceerr.New(carapaceerr.CodeConnectionLost, "connection not established")
	}
	if err := protocol.WriteFrame(c.writer, msg); err != nil {
		c.connected.Store(false)
		return carapaceerr.Wrap(carapaceerr.CodeConnectionLost, "send failed", err)
	}
	return nil
}

// Recv returns the next frame, or (nil, nil) on a clean EOF. Any I/O error
// marks the connection unhealthy and is returned to the caller.
func (c *Connection) Recv() (protocol.Message, error) {
	c.readerMu.Lock()
	reader := c.reader
	c.readerMu.Unlock()

	if reader == nil {
		return nil, carapaceerr.New(carapaceerr.CodeConnectionLost, "connection not established")
	}

	msg, err := protocol.ReadFrame(reader)
	if err != nil {
		c.connected.Store(false)
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, carapaceerr.Wrap(carapaceerr.CodeConnectionLost, "recv failed", err)
	}
	return msg, nil
}

// IsHealthy reads the connected flag without any I/O.
func (c *Connection) IsHealthy() bool {
	return c.connected.Load()
}

// TotalReconnectAttempts returns the lifetime count of dial attempts made
// by establish, across every reconnect cycle. Exposed as a Prometheus
// gauge by the agent process, mirroring the original implementation's
// reconnect_attempts counter.
func (c *Connection) TotalReconnectAttempts() int64 {
	return c.totalReconnectAttempts.Load()
}

// WaitForReconnect blocks until the next successful establish, or until ctx
// is done.
func (c *Connection) WaitForReconnect(ctx context.Context) error {
	c.notifyMu.Lock()
	ch := c.notifyCh
	c.notifyMu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReconnectIfNeeded is a no-op when healthy; otherwise it runs establish.
func (c *Connection) ReconnectIfNeeded(ctx context.Context) error {
	if c.IsHealthy() {
		return nil
	}
	return c.establish(ctx)
}

// Kill tears down both halves and marks the connection unhealthy. It does
// not prevent re-establishment: a subsequent ReconnectIfNeeded will still
// dial again.
func (c *Connection) Kill() error {
	c.connected.Store(false)

	c.writerMu.Lock()
	conn := c.writer
	c.writer = nil
	c.writerMu.Unlock()

	c.readerMu.Lock()
	c.reader = nil
	c.readerMu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			return fmt.Errorf("connection: close: %w", err)
		}
	}
	return nil
}
