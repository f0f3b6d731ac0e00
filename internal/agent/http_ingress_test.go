package agent

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/austinylin/carapace/internal/protocol"
)

func TestHTTPIngress_HandleCheckReturnsOK(t *testing.T) {
	t.Parallel()

	a, server, cleanup := testServerAgentPair(t)
	defer cleanup()
	ing := NewHTTPIngress(a, testDiscardLogger(), "127.0.0.1:0")
	_ = server

	req := httptest.NewRequest(http.MethodGet, "/api/v1/check", nil)
	rec := httptest.NewRecorder()
	ing.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("body = %q, want OK", rec.Body.String())
	}
}

func TestHTTPIngress_ForwardsRPCAndReturnsResponse(t *testing.T) {
	t.Parallel()

	a, server, cleanup := testServerAgentPair(t)
	defer cleanup()
	ing := NewHTTPIngress(a, testDiscardLogger(), "127.0.0.1:0")

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/rpc", bytes.NewReader([]byte(`{"tool":"custom-rpc","method":"send"}`)))
		rec := httptest.NewRecorder()
		ing.server.Handler.ServeHTTP(rec, req)
		done <- rec
	}()

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.ReadFrame(server)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	httpReq, ok := msg.(protocol.HTTPRequest)
	if !ok {
		t.Fatalf("got %T, want protocol.HTTPRequest", msg)
	}
	if httpReq.Tool != "custom-rpc" {
		t.Errorf("Tool = %q, want custom-rpc (extracted from body, not the route default)", httpReq.Tool)
	}
	if httpReq.Body == nil || !bytes.Contains([]byte(*httpReq.Body), []byte(`"method":"send"`)) {
		t.Errorf("Body = %v, want it to still contain method after tool stripped", httpReq.Body)
	}

	body := "pong"
	resp := protocol.HTTPResponse{RequestID: httpReq.RequestID, Status: 200, Body: &body}
	if err := protocol.WriteFrame(server, resp); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	select {
	case rec := <-done:
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		if rec.Body.String() != "pong" {
			t.Errorf("body = %q, want pong", rec.Body.String())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded response")
	}
}

func TestHTTPIngress_DisconnectBeforeResponseReturnsBadGateway(t *testing.T) {
	t.Parallel()

	a, server, cleanup := testServerAgentPair(t)
	defer cleanup()
	ing := NewHTTPIngress(a, testDiscardLogger(), "127.0.0.1:0")

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/rpc", bytes.NewReader([]byte(`{}`)))
		rec := httptest.NewRecorder()
		ing.server.Handler.ServeHTTP(rec, req)
		done <- rec
	}()

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.ReadFrame(server)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	httpReq := msg.(protocol.HTTPRequest)

	a.Multiplexer().RemoveWaiter(httpReq.RequestID)

	select {
	case rec := <-done:
		if rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", rec.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bad-gateway response")
	}
}

func TestExtractAndStripTool(t *testing.T) {
	t.Parallel()

	tool, stripped := extractAndStripTool([]byte(`{"tool":"git","args":["status"]}`), "default")
	if tool != "git" {
		t.Errorf("tool = %q, want git", tool)
	}
	if bytes.Contains(stripped, []byte(`"tool"`)) {
		t.Errorf("stripped body still contains tool field: %s", stripped)
	}

	tool, stripped = extractAndStripTool([]byte(``), "default")
	if tool != "default" {
		t.Errorf("empty body tool = %q, want default", tool)
	}
	if len(stripped) != 0 {
		t.Errorf("empty body stripped = %q, want empty", stripped)
	}

	tool, _ = extractAndStripTool([]byte(`not json`), "default")
	if tool != "default" {
		t.Errorf("non-JSON body tool = %q, want default", tool)
	}
}
