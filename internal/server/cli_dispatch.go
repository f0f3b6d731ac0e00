package server

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/austinylin/carapace/internal/audit"
	"github.com/austinylin/carapace/internal/policy"
	"github.com/austinylin/carapace/internal/protocol"
)

// defaultCLITimeout bounds process execution when a tool's policy does not
// specify one.
const defaultCLITimeout = 30 * time.Second

// CLIDispatcher validates and executes policy-checked command-line tool
// invocations.
type CLIDispatcher struct {
	config *policy.CompiledConfig
	audit  audit.Sink
	logger *slog.Logger
}

// NewCLIDispatcher builds a CLIDispatcher over a compiled policy set.
func NewCLIDispatcher(config *policy.CompiledConfig, sink audit.Sink, logger *slog.Logger) *CLIDispatcher {
	return &CLIDispatcher{config: config, audit: sink, logger: logger}
}

// Dispatch validates req against the tool's CLI policy and, if allowed,
// spawns the configured binary. It always returns a terminal message: a
// CliResponse on execution (however the process exited) or an Error on
// policy failure.
func (d *CLIDispatcher) Dispatch(ctx context.Context, req protocol.CliRequest) protocol.Message {
	start := time.Now()

	tool, ok := d.config.Tools[req.Tool]
	if !ok {
		return d.deny(req.RequestID, req.Tool, "tool_not_found", "no policy configured for tool", start)
	}
	if tool.Type != policy.ToolTypeCLI {
		return d.deny(req.RequestID, req.Tool, "invalid_tool_type", "tool is not a CLI tool", start)
	}
	cliPolicy := tool.CLI

	matcher := d.config.Matcher(req.Tool)
	if matcher == nil || !matcher.Matches(req.Argv) {
		return d.deny(req.RequestID, req.Tool, "policy_denied", "argv not permitted by policy", start)
	}

	if err := policy.ValidateBinaryPath(cliPolicy.Binary); err != nil {
		return d.deny(req.RequestID, req.Tool, "invalid_binary", err.Error(), start)
	}

	for _, arg := range req.Argv {
		if policy.IsShellUnsafe(arg) {
			return d.deny(req.RequestID, req.Tool, "shell_injection", "argument contains shell metacharacters", start)
		}
	}

	timeout := cliPolicy.Timeout
	if timeout <= 0 {
		timeout = defaultCLITimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env := mergeEnv(req.Env, cliPolicy.EnvInject)

	cmd := exec.CommandContext(execCtx, cliPolicy.Binary, req.Argv...)
	cmd.Env = env
	cmd.Dir = req.Cwd
	if req.Stdin != nil {
		cmd.Stdin = bytes.NewBufferString(*req.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	exitCode := int32(-1)
	if cmd.ProcessState != nil {
		exitCode = int32(cmd.ProcessState.ExitCode())
	}
	allowed := true
	reason := "dispatched"
	if execCtx.Err() != nil {
		reason = "timed out"
		exitCode = -1
	} else if runErr != nil {
		d.logger.Warn("cli dispatch process error", "tool", req.Tool, "error", runErr)
	}

	d.audit.Record(audit.Entry{
		Time: time.Now(), Tool: req.Tool, Action: "cli_exec",
		Allowed: allowed, Reason: reason, DurationMS: time.Since(start).Milliseconds(),
	})

	return protocol.CliResponse{
		RequestID: req.RequestID,
		ExitCode:  exitCode,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
	}
}

// mergeEnv overlays inject onto base, with inject winning on key conflict,
// and returns the combined set as "KEY=VALUE" strings for exec.Cmd.Env.
func mergeEnv(base, inject map[string]string) []string {
	merged := make(map[string]string, len(base)+len(inject))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range inject {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

func (d *CLIDispatcher) deny(requestID, tool, code, message string, start time.Time) protocol.Message {
	d.audit.Record(audit.Entry{
		Time: time.Now(), Tool: tool, Action: "cli_exec",
		Allowed: false, Reason: message, DurationMS: time.Since(start).Milliseconds(),
	})
	id := requestID
	return protocol.ErrorMessage{RequestID: &id, Code: code, Message: message}
}
