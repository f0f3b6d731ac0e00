package agent

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetricsHandler_ExposesAgentGauges(t *testing.T) {
	t.Parallel()

	a, _, cleanup := testServerAgentPair(t)
	defer cleanup()

	handler := NewMetricsHandler(a)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"carapace_agent_connection_healthy",
		"carapace_agent_reconnect_attempts_total",
		"carapace_agent_waiters",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if !strings.Contains(body, "carapace_agent_connection_healthy 1") {
		t.Error("expected connection_healthy gauge to read 1 for a freshly established connection")
	}
}
