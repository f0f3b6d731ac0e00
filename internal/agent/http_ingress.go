package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/austinylin/carapace/internal/protocol"
)

const (
	httpIngressDeadline    = 60 * time.Second
	httpIngressSSEDeadline = 300 * time.Second
	defaultRPCTool         = "signal-cli"
	maxHTTPIngressBody     = 100 * 1024 * 1024
)

// HTTPIngress is carapace-agent's loopback HTTP proxy: the untrusted-side
// surface that forwards JSON-RPC calls and SSE subscriptions to
// carapace-server as HttpRequest messages.
type HTTPIngress struct {
	agent  *Agent
	logger *slog.Logger
	server *http.Server
}

// NewHTTPIngress builds an HTTPIngress over agent, listening on addr
// (expected to be a loopback address per spec.md §4.7).
func NewHTTPIngress(agent *Agent, logger *slog.Logger, addr string) *HTTPIngress {
	i := &HTTPIngress{agent: agent, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/check", i.handleCheck)
	mux.HandleFunc("/api/v1/events", i.handleEvents)
	mux.HandleFunc("/api/v1/rpc", i.handleRPC(defaultRPCTool))
	mux.HandleFunc("/rpc", i.handleRPC(""))
	mux.HandleFunc("/", i.handleFallback)

	i.server = &http.Server{Addr: addr, Handler: mux}
	return i
}

// Serve blocks, running the HTTP server until ctx is cancelled.
func (i *HTTPIngress) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := i.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return i.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (i *HTTPIngress) handleCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (i *HTTPIngress) handleEvents(w http.ResponseWriter, r *http.Request) {
	i.forward(w, r, defaultRPCTool, httpIngressSSEDeadline)
}

func (i *HTTPIngress) handleRPC(defaultTool string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i.forward(w, r, defaultTool, httpIngressDeadline)
	}
}

func (i *HTTPIngress) handleFallback(w http.ResponseWriter, r *http.Request) {
	i.forward(w, r, "", httpIngressDeadline)
}

// forward reads the request body, strips its routing "tool" field,
// synthesizes an HttpRequest, and awaits the server's reply on a deadline.
// defaultTool is used when the body carries no "tool" field; with an empty
// defaultTool such a request is forwarded with an empty tool name.
func (i *HTTPIngress) forward(w http.ResponseWriter, r *http.Request, defaultTool string, deadline time.Duration) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxHTTPIngressBody+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxHTTPIngressBody {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	tool, strippedBody := extractAndStripTool(body, defaultTool)

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	id := uuid.NewString()
	waiter := i.agent.Multiplexer().RegisterWaiter(id)

	req := protocol.HTTPRequest{
		RequestID: id,
		Tool:      tool,
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   headers,
	}
	if len(strippedBody) > 0 {
		bodyStr := string(strippedBody)
		req.Body = &bodyStr
	}

	if err := i.agent.Send(req); err != nil {
		i.agent.Multiplexer().RemoveWaiter(id)
		http.Error(w, "upstream connection unavailable", http.StatusBadGateway)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), deadline)
	defer cancel()

	sseStarted := false
	for {
		select {
		case msg, ok := <-waiter:
			if !ok {
				if !sseStarted {
					http.Error(w, "connection to carapace-server lost", http.StatusBadGateway)
				}
				i.agent.Multiplexer().RemoveWaiter(id)
				return
			}
			switch m := msg.(type) {
			case protocol.HTTPResponse:
				i.agent.Multiplexer().RemoveWaiter(id)
				i.writeHTTPResponse(w, m)
				return
			case protocol.SseEvent:
				if !sseStarted {
					sseStarted = true
					w.Header().Set("Content-Type", "text/event-stream")
					w.Header().Set("Cache-Control", "no-cache")
					w.WriteHeader(http.StatusOK)
				}
				fmt.Fprintf(w, "data: %s\n\n", m.Data)
				if flusher, ok := w.(http.Flusher); ok {
					flusher.Flush()
				}
			case protocol.ErrorMessage:
				i.agent.Multiplexer().RemoveWaiter(id)
				if !sseStarted {
					http.Error(w, m.Message, http.StatusBadGateway)
				}
				return
			}
		case <-ctx.Done():
			i.agent.Multiplexer().RemoveWaiter(id)
			if !sseStarted {
				http.Error(w, "upstream request timed out", http.StatusGatewayTimeout)
			}
			return
		}
	}
}

func (i *HTTPIngress) writeHTTPResponse(w http.ResponseWriter, resp protocol.HTTPResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	status := int(resp.Status)
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != nil {
		_, _ = w.Write([]byte(*resp.Body))
	}
}

// extractAndStripTool parses body as JSON, removes its "tool" field (pure
// routing metadata not forwarded upstream), and returns both the tool name
// (defaultTool if absent) and the re-marshaled body. Non-JSON or empty
// bodies pass through unchanged with defaultTool.
func extractAndStripTool(body []byte, defaultTool string) (tool string, stripped []byte) {
	if len(bytes.TrimSpace(body)) == 0 {
		return defaultTool, body
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(body, &generic); err != nil {
		return defaultTool, body
	}

	tool = defaultTool
	if raw, ok := generic["tool"]; ok {
		var t string
		if err := json.Unmarshal(raw, &t); err == nil && t != "" {
			tool = t
		}
		delete(generic, "tool")
	}

	reencoded, err := json.Marshal(generic)
	if err != nil {
		return tool, body
	}
	return tool, reencoded
}
