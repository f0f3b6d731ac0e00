package server

import (
	"context"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/austinylin/carapace/internal/audit"
	"github.com/austinylin/carapace/internal/policy"
	"github.com/austinylin/carapace/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func compiledPolicy(t *testing.T, yaml string) *policy.CompiledConfig {
	t.Helper()
	cfg, err := policy.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("policy.Parse: %v", err)
	}
	compiled, err := cfg.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return compiled
}

func TestCLIDispatcher_AllowedCommandRuns(t *testing.T) {
	t.Parallel()

	compiled := compiledPolicy(t, `
tools:
  echo:
    type: cli
    binary: /bin/echo
    argv_allow:
      - "*"
`)
	d := NewCLIDispatcher(compiled, audit.NopSink{}, testLogger())

	resp := d.Dispatch(context.Background(), protocol.CliRequest{
		RequestID: "r1", Tool: "echo", Argv: []string{"hello"},
	})
	cr, ok := resp.(protocol.CliResponse)
	if !ok {
		t.Fatalf("got %T, want protocol.CliResponse", resp)
	}
	if cr.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", cr.ExitCode)
	}
	if cr.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", cr.Stdout, "hello\n")
	}
}

func TestCLIDispatcher_UnknownToolDenied(t *testing.T) {
	t.Parallel()

	compiled := compiledPolicy(t, `tools: {}`)
	d := NewCLIDispatcher(compiled, audit.NopSink{}, testLogger())

	resp := d.Dispatch(context.Background(), protocol.CliRequest{RequestID: "r1", Tool: "ghost"})
	errMsg, ok := resp.(protocol.ErrorMessage)
	if !ok {
		t.Fatalf("got %T, want protocol.ErrorMessage", resp)
	}
	if errMsg.Code != "tool_not_found" {
		t.Errorf("Code = %q, want tool_not_found", errMsg.Code)
	}
}

func TestCLIDispatcher_ArgvNotAllowedDenied(t *testing.T) {
	t.Parallel()

	compiled := compiledPolicy(t, `
tools:
  echo:
    type: cli
    binary: /bin/echo
    argv_allow:
      - "safe-arg-only"
`)
	d := NewCLIDispatcher(compiled, audit.NopSink{}, testLogger())

	resp := d.Dispatch(context.Background(), protocol.CliRequest{
		RequestID: "r1", Tool: "echo", Argv: []string{"rm", "-rf"},
	})
	errMsg, ok := resp.(protocol.ErrorMessage)
	if !ok {
		t.Fatalf("got %T, want protocol.ErrorMessage", resp)
	}
	if errMsg.Code != "policy_denied" {
		t.Errorf("Code = %q, want policy_denied", errMsg.Code)
	}
}

func TestCLIDispatcher_ShellUnsafeArgvDenied(t *testing.T) {
	t.Parallel()

	compiled := compiledPolicy(t, `
tools:
  echo:
    type: cli
    binary: /bin/echo
    argv_allow:
      - "*"
`)
	d := NewCLIDispatcher(compiled, audit.NopSink{}, testLogger())

	resp := d.Dispatch(context.Background(), protocol.CliRequest{
		RequestID: "r1", Tool: "echo", Argv: []string{"a;rm -rf /"},
	})
	errMsg, ok := resp.(protocol.ErrorMessage)
	if !ok {
		t.Fatalf("got %T, want protocol.ErrorMessage", resp)
	}
	if errMsg.Code != "shell_injection" {
		t.Errorf("Code = %q, want shell_injection", errMsg.Code)
	}
}

func TestCLIDispatcher_TimeoutReportsFailure(t *testing.T) {
	t.Parallel()

	compiled := compiledPolicy(t, `
tools:
  sleep:
    type: cli
    binary: /bin/sleep
    argv_allow:
      - "*"
    timeout: 50ms
`)
	d := NewCLIDispatcher(compiled, audit.NopSink{}, testLogger())

	start := time.Now()
	resp := d.Dispatch(context.Background(), protocol.CliRequest{
		RequestID: "r1", Tool: "sleep", Argv: []string{"5"},
	})
	if time.Since(start) > 2*time.Second {
		t.Error("dispatch should have been bounded by the tool's timeout")
	}
	cr, ok := resp.(protocol.CliResponse)
	if !ok {
		t.Fatalf("got %T, want protocol.CliResponse", resp)
	}
	if cr.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 for a timed-out process", cr.ExitCode)
	}
}

func TestCLIDispatcher_EnvInjectOverridesRequestEnv(t *testing.T) {
	t.Parallel()

	compiled := compiledPolicy(t, `
tools:
  printenv:
    type: cli
    binary: /usr/bin/printenv
    argv_allow:
      - "*"
    env_inject:
      FOO: injected
`)
	d := NewCLIDispatcher(compiled, audit.NopSink{}, testLogger())

	resp := d.Dispatch(context.Background(), protocol.CliRequest{
		RequestID: "r1", Tool: "printenv", Argv: []string{"FOO"},
		Env: map[string]string{"FOO": "original"},
	})
	cr, ok := resp.(protocol.CliResponse)
	if !ok {
		t.Fatalf("got %T, want protocol.CliResponse", resp)
	}
	if cr.Stdout != "injected\n" {
		t.Errorf("Stdout = %q, want env_inject to win over the request env", cr.Stdout)
	}
}
