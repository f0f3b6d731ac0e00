package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/austinylin/carapace/internal/audit"
	"github.com/austinylin/carapace/internal/policy"
	"github.com/austinylin/carapace/internal/protocol"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	sseEventsTimeout   = 300 * time.Second
	maxHTTPBodySize    = 100 * 1024 * 1024 // 100 MiB, per spec.md §4.10
)

// HTTPDispatcher validates and forwards policy-checked upstream HTTP and
// JSON-RPC calls, including line-by-line SSE passthrough.
type HTTPDispatcher struct {
	config *policy.CompiledConfig
	audit  audit.Sink
	logger *slog.Logger
	client *http.Client
}

// NewHTTPDispatcher builds an HTTPDispatcher over a compiled policy set.
func NewHTTPDispatcher(config *policy.CompiledConfig, sink audit.Sink, logger *slog.Logger) *HTTPDispatcher {
	return &HTTPDispatcher{
		config: config,
		audit:  sink,
		logger: logger,
		client: &http.Client{},
	}
}

// Dispatch validates req and forwards it upstream. For a non-streaming
// response it returns a terminal HttpResponse. For an SSE response it
// emits SseEvent messages onto sseOut as they arrive and returns nil: the
// caller treats a nil return as stream completion with no terminal
// message to write.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req protocol.HTTPRequest, sseOut *sseQueue) protocol.Message {
	start := time.Now()

	tool, ok := d.config.Tools[req.Tool]
	if !ok {
		return d.deny(req.RequestID, req.Tool, "tool_not_found", "no policy configured for tool", start)
	}
	if tool.Type != policy.ToolTypeHTTP {
		return d.deny(req.RequestID, req.Tool, "invalid_tool_type", "tool is not an HTTP tool", start)
	}
	httpPolicy := tool.HTTP

	if strings.ContainsAny(req.Path, "\r\n") {
		return d.deny(req.RequestID, req.Tool, "invalid_message", "path contains CR or LF", start)
	}

	var bodyBytes []byte
	if req.Body != nil {
		bodyBytes = []byte(*req.Body)
	}
	if len(bodyBytes) > maxHTTPBodySize {
		return d.deny(req.RequestID, req.Tool, "invalid_message", "body exceeds maximum size", start)
	}

	if msg := d.checkJSONRPC(req, httpPolicy, bodyBytes, start); msg != nil {
		return msg
	}

	timeout := defaultHTTPTimeout
	if strings.Contains(req.Path, "/api/v1/events") {
		timeout = sseEventsTimeout
	} else if httpPolicy.Timeout > 0 {
		timeout = httpPolicy.Timeout
	}

	upstreamCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	upstreamURL := strings.TrimSuffix(httpPolicy.Upstream, "/") + req.Path
	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}
	upstreamReq, err := http.NewRequestWithContext(upstreamCtx, req.Method, upstreamURL, bodyReader)
	if err != nil {
		cancel()
		return d.deny(req.RequestID, req.Tool, "io_error", fmt.Sprintf("build upstream request: %v", err), start)
	}
	hasContentType := false
	for k, v := range req.Headers {
		upstreamReq.Header.Set(k, v)
		if strings.EqualFold(k, "content-type") {
			hasContentType = true
		}
	}
	if req.Body != nil && !hasContentType {
		upstreamReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(upstreamReq)
	if err != nil {
		d.audit.Record(audit.Entry{Time: time.Now(), Tool: req.Tool, Action: "http_call", Allowed: true, Reason: "upstream transport error", DurationMS: time.Since(start).Milliseconds()})
		return protocol.ErrorMessage{RequestID: &req.RequestID, Code: "request_timeout", Message: fmt.Sprintf("upstream call failed: %v", err)}
	}
	defer resp.Body.Close()

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		d.streamSSE(upstreamCtx, resp.Body, req, sseOut)
		d.audit.Record(audit.Entry{Time: time.Now(), Tool: req.Tool, Action: "http_sse", Allowed: true, DurationMS: time.Since(start).Milliseconds()})
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return d.deny(req.RequestID, req.Tool, "io_error", fmt.Sprintf("read upstream response: %v", err), start)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	bodyStr := string(respBody)

	d.audit.Record(audit.Entry{Time: time.Now(), Tool: req.Tool, Action: "http_call", Allowed: true, DurationMS: time.Since(start).Milliseconds()})

	return protocol.HTTPResponse{
		RequestID: req.RequestID,
		Status:    uint16(resp.StatusCode),
		Headers:   headers,
		Body:      &bodyStr,
	}
}

// checkJSONRPC runs method validation and parameter filtering when the
// body parses as a JSON-RPC request carrying a "method" field. It returns
// a non-nil message only when the request should be denied.
func (d *HTTPDispatcher) checkJSONRPC(req protocol.HTTPRequest, httpPolicy *policy.HTTPPolicy, bodyBytes []byte, start time.Time) protocol.Message {
	if len(bodyBytes) == 0 {
		return nil
	}
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(bodyBytes, &probe); err != nil || probe.Method == "" {
		return nil
	}

	methodDecision := policy.ValidateMethod(probe.Method, httpPolicy.JSONRPCAllowMethods, httpPolicy.JSONRPCDenyMethods)
	if !methodDecision.Allowed {
		return d.deny(req.RequestID, req.Tool, "policy_denied", methodDecision.Reason, start)
	}

	paramDecision, err := policy.ValidateParams(probe.Method, bodyBytes, httpPolicy.JSONRPCParamFilters)
	if err != nil {
		return d.deny(req.RequestID, req.Tool, "policy_denied", err.Error(), start)
	}
	if !paramDecision.Allowed {
		return d.deny(req.RequestID, req.Tool, "policy_denied", paramDecision.Reason, start)
	}
	return nil
}

// streamSSE reads body line-by-line and emits one SseEvent per blank-line
// delimited block, without ever buffering the whole stream. It terminates
// when the upstream body closes or the context deadline expires. Closing
// the queue does not end the stream: events pushed after the queue is
// closed are dropped.
//
// State machine: Idle -> Accumulating -> Emit -> Idle, transitioning on a
// blank line; Accumulating -> Idle on upstream close, emitting only if the
// accumulator is non-empty.
func (d *HTTPDispatcher) streamSSE(ctx context.Context, body io.Reader, req protocol.HTTPRequest, sseOut *sseQueue) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var accumulator strings.Builder

	emit := func() {
		if accumulator.Len() == 0 {
			return
		}
		sseOut.push(protocol.SseEvent{
			RequestID: req.RequestID,
			Tool:      req.Tool,
			Event:     "message",
			Data:      accumulator.String(),
		})
		accumulator.Reset()
	}

	lines := make(chan string)
	scanDone := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanDone <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			emit()
			return
		case line, ok := <-lines:
			if !ok {
				emit()
				return
			}
			if line == "" {
				emit()
				continue
			}
			if accumulator.Len() > 0 {
				accumulator.WriteByte('\n')
			}
			accumulator.WriteString(line)
		}
	}
}

func (d *HTTPDispatcher) deny(requestID, tool, code, message string, start time.Time) protocol.Message {
	d.audit.Record(audit.Entry{
		Time: time.Now(), Tool: tool, Action: "http_call",
		Allowed: false, Reason: message, DurationMS: time.Since(start).Milliseconds(),
	})
	id := requestID
	return protocol.ErrorMessage{RequestID: &id, Code: code, Message: message}
}
