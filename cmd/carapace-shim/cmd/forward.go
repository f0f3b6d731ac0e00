package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/austinylin/carapace/internal/protocol"
)

// defaultAgentSocket is used when CARAPACE_AGENT_SOCKET is unset, matching
// the agent's own default CLI ingress socket path.
const defaultAgentSocket = "/tmp/carapace-agent.sock"

// forwardDialTimeout bounds the Unix socket dial; a hung or absent agent
// should fail fast rather than hang the wrapped tool invocation.
const forwardDialTimeout = 5 * time.Second

// runForward is rootCmd's RunE and is reached for every invocation. It
// handles "carapace-shim --install ..." / "carapace-shim --which ..." itself
// and forwards everything else, including plain "carapace-shim <argv...>"
// and, in the common case, invocations of a tool-named symlink/copy of this
// binary (argv[0] is the tool name).
func runForward(_ *cobra.Command, args []string) error {
	rawArgs := args
	if target, rest, ok := extractFlagValue(rawArgs, "--install"); ok {
		return runInstall(target, rest)
	}
	if target, _, ok := extractFlagValue(rawArgs, "--which"); ok {
		return runWhich(target)
	}
	return forward(rawArgs)
}

// extractFlagValue scans args for "--name value" or "--name=value" as the
// leading flag. It exists because rootCmd disables cobra's flag parsing (so
// that a forwarded tool's own "--install"-shaped flags are never consumed
// by us), so --install/--which are recognized by hand instead.
func extractFlagValue(args []string, name string) (value string, rest []string, ok bool) {
	if len(args) == 0 {
		return "", args, false
	}
	head := args[0]
	switch {
	case head == name:
		if len(args) < 2 {
			return "", args, false
		}
		return args[1], args[2:], true
	case strings.HasPrefix(head, name+"="):
		return strings.TrimPrefix(head, name+"="), args[1:], true
	default:
		return "", args, false
	}
}

// toolName derives the name carapace-server should enforce policy against
// from argv[0], the way the original carapace-shim does: the basename of
// the path the shell actually invoked, so that a symlink named "git"
// forwards as tool "git" regardless of where it lives on PATH.
func toolName(argv0 string) string {
	if argv0 == "" {
		return "unknown"
	}
	base := filepath.Base(argv0)
	if base == "." || base == string(filepath.Separator) {
		return "unknown"
	}
	return base
}

// forward sends argv (with argv[0] stripped), the process environment, and
// the working directory to the agent's CLI ingress socket, then reproduces
// the returned stdout/stderr/exit code.
func forward(rawArgs []string) error {
	tool := toolName(os.Args[0])
	var argv []string
	if len(rawArgs) > 0 {
		argv = rawArgs
	}

	socketPath := os.Getenv("CARAPACE_AGENT_SOCKET")
	if socketPath == "" {
		socketPath = defaultAgentSocket
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}

	req := struct {
		Tool string            `json:"tool"`
		Argv []string          `json:"argv"`
		Env  map[string]string `json:"env"`
		Cwd  string            `json:"cwd"`
	}{
		Tool: tool,
		Argv: argv,
		Env:  environMap(),
		Cwd:  cwd,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	conn, err := net.DialTimeout("unix", socketPath, forwardDialTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not connect to carapace agent at %s: %s\n", socketPath, err)
		os.Exit(1)
	}
	defer conn.Close()

	if _, err := conn.Write(body); err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not send request to carapace agent: %s\n", err)
		os.Exit(1)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not read response from carapace agent: %s\n", err)
		os.Exit(1)
	}

	msg, err := protocol.Decode(bytes.TrimSpace(raw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: malformed response from carapace agent: %s\n", err)
		os.Exit(1)
	}

	switch m := msg.(type) {
	case protocol.CliResponse:
		if m.Stdout != "" {
			fmt.Fprint(os.Stdout, m.Stdout)
		}
		if m.Stderr != "" {
			fmt.Fprint(os.Stderr, m.Stderr)
		}
		os.Exit(int(m.ExitCode))
	case protocol.ErrorMessage:
		fmt.Fprintf(os.Stderr, "Error: %s: %s\n", m.Code, m.Message)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "Error: unexpected response type from carapace agent\n")
		os.Exit(1)
	}
	return nil
}

// environMap flattens os.Environ()'s "KEY=VALUE" entries into a map, the
// shape the CLI ingress socket expects for CliRequest.Env.
func environMap() map[string]string {
	raw := os.Environ()
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		out[k] = v
	}
	return out
}
