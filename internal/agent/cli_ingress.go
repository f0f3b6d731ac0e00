package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/austinylin/carapace/internal/protocol"
)

// cliIngressDeadline bounds how long a CLI ingress connection waits for its
// CliResponse before giving up.
const cliIngressDeadline = 30 * time.Second

// maxCLIRequestBytes bounds the JSON object read from a CLI ingress
// connection, per spec ("total ≤ a few MiB").
const maxCLIRequestBytes = 4 * 1024 * 1024

// cliIngressRequest is the wire shape accepted on the CLI Unix socket.
type cliIngressRequest struct {
	Tool string            `json:"tool"`
	Argv []string          `json:"argv"`
	Env  map[string]string `json:"env"`
	Cwd  string            `json:"cwd"`
}

// CLIIngress accepts connections on a Unix-domain socket and forwards each
// as a CliRequest to carapace-server.
type CLIIngress struct {
	agent  *Agent
	logger *slog.Logger
}

// NewCLIIngress builds a CLIIngress over agent.
func NewCLIIngress(agent *Agent, logger *slog.Logger) *CLIIngress {
	return &CLIIngress{agent: agent, logger: logger}
}

// Serve accepts connections on socketPath until ctx is cancelled. The
// socket file is removed first so a stale file from a prior run does not
// block bind.
func (i *CLIIngress) Serve(ctx context.Context, socketPath string) error {
	_ = os.Remove(socketPath)

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("cli ingress: listen on %s: %w", socketPath, err)
	}
	defer ln.Close()

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
				return fmt.Errorf("cli ingress: accept: %w", err)
			}
		}
		go i.handle(ctx, conn)
	}
}

func (i *CLIIngress) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := io.LimitReader(conn, maxCLIRequestBytes)
	var req cliIngressRequest
	if err := json.NewDecoder(bufio.NewReader(reader)).Decode(&req); err != nil {
		i.logger.Warn("cli ingress: malformed request", "error", err)
		return
	}
	if req.Tool == "" {
		req.Tool = "unknown"
	}

	id := uuid.NewString()
	if pid, uid, ok := peerCredentials(conn); ok {
		i.logger.Info("cli ingress: request received", "request_id", id, "tool", req.Tool, "peer_pid", pid, "peer_uid", uid)
	} else {
		i.logger.Info("cli ingress: request received", "request_id", id, "tool", req.Tool)
	}

	waiter := i.agent.Multiplexer().RegisterWaiter(id)

	cliReq := protocol.CliRequest{
		RequestID: id,
		Tool:      req.Tool,
		Argv:      req.Argv,
		Env:       req.Env,
		Cwd:       req.Cwd,
	}
	if err := i.agent.Send(cliReq); err != nil {
		i.agent.Multiplexer().RemoveWaiter(id)
		i.logger.Warn("cli ingress: send failed", "tool", req.Tool, "error", err)
		return
	}

	deadline := time.NewTimer(cliIngressDeadline)
	defer deadline.Stop()

	select {
	case msg, ok := <-waiter:
		i.agent.Multiplexer().RemoveWaiter(id)
		if !ok {
			i.logger.Warn("cli ingress: waiter closed before response", "tool", req.Tool)
			return
		}
		i.writeResponse(conn, msg)
	case <-deadline.C:
		i.agent.Multiplexer().RemoveWaiter(id)
		i.logger.Warn("cli ingress: deadline exceeded", "tool", req.Tool)
	case <-ctx.Done():
		i.agent.Multiplexer().RemoveWaiter(id)
	}
}

func (i *CLIIngress) writeResponse(conn net.Conn, msg protocol.Message) {
	body, err := protocol.Encode(msg)
	if err != nil {
		i.logger.Warn("cli ingress: encode response failed", "error", err)
		return
	}
	if _, err := conn.Write(body); err != nil && !errors.Is(err, io.EOF) {
		i.logger.Warn("cli ingress: write response failed", "error", err)
	}
}
