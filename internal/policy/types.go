// Package policy implements per-tool access control: glob-based argv
// matching, JSON-RPC method and parameter filtering, shell-safety checks,
// and the YAML policy file schema that configures them.
package policy

import "time"

// ToolType distinguishes a CLI policy from an HTTP policy.
type ToolType string

const (
	ToolTypeCLI  ToolType = "cli"
	ToolTypeHTTP ToolType = "http"
)

// Config is the complete loaded policy file: a mapping from tool name to
// its policy.
type Config struct {
	Tools map[string]*ToolPolicy
}

// ToolPolicy is the union of CLI and HTTP policy shapes. Exactly one of
// CLI or HTTP is populated, selected by Type.
type ToolPolicy struct {
	Type ToolType
	CLI  *CLIPolicy
	HTTP *HTTPPolicy
}

// AuditConfig controls per-tool audit emission. It is consumed by the
// internal/audit sink, not by the policy engine itself.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CLIPolicy governs a command-line tool.
type CLIPolicy struct {
	Binary     string            `yaml:"binary"`
	ArgvAllow  []string          `yaml:"argv_allow"`
	ArgvDeny   []string          `yaml:"argv_deny"`
	EnvInject  map[string]string `yaml:"env_inject"`
	CwdAllow   []string          `yaml:"cwd_allow"`
	Timeout    time.Duration     `yaml:"timeout"`
	Audit      AuditConfig       `yaml:"audit"`
}

// ParamFilter restricts one JSON-RPC method's parameter field to a set of
// allow/deny glob patterns.
type ParamFilter struct {
	Field        string   `yaml:"field"`
	AllowPatterns []string `yaml:"allow_patterns"`
	DenyPatterns  []string `yaml:"deny_patterns"`
}

// HTTPPolicy governs an upstream HTTP/JSON-RPC tool.
type HTTPPolicy struct {
	Upstream            string                 `yaml:"upstream"`
	JSONRPCAllowMethods []string               `yaml:"jsonrpc_allow_methods"`
	JSONRPCDenyMethods  []string               `yaml:"jsonrpc_deny_methods"`
	JSONRPCParamFilters map[string]ParamFilter `yaml:"jsonrpc_param_filters"`
	RateLimit           *RateLimitOverride     `yaml:"rate_limit"`
	Timeout             time.Duration          `yaml:"timeout"`
	Audit               AuditConfig            `yaml:"audit"`
}

// RateLimitOverride customizes the fixed-window rate limiter for a single
// tool, overriding the server-wide default.
type RateLimitOverride struct {
	Max       int `yaml:"max"`
	WindowSec int `yaml:"window_sec"`
}
