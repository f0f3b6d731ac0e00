package policy

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/austinylin/carapace/internal/carapaceerr"
)

// rawToolPolicy is the YAML shape for one entry under tools:. It carries
// every field from both policy variants; LoadFile splits it into the
// appropriate concrete policy based on Type and rejects fields that don't
// belong to that type's shape.
type rawToolPolicy struct {
	Type ToolType `yaml:"type"`

	// CLI fields.
	Binary    string            `yaml:"binary"`
	ArgvAllow []string          `yaml:"argv_allow"`
	ArgvDeny  []string          `yaml:"argv_deny"`
	EnvInject map[string]string `yaml:"env_inject"`
	CwdAllow  []string          `yaml:"cwd_allow"`

	// HTTP fields.
	Upstream            string                 `yaml:"upstream"`
	JSONRPCAllowMethods []string               `yaml:"jsonrpc_allow_methods"`
	JSONRPCDenyMethods  []string               `yaml:"jsonrpc_deny_methods"`
	JSONRPCParamFilters map[string]ParamFilter `yaml:"jsonrpc_param_filters"`
	RateLimit           *RateLimitOverride     `yaml:"rate_limit"`

	// Shared fields.
	Timeout string      `yaml:"timeout"`
	Audit   AuditConfig `yaml:"audit"`
}

type rawConfig struct {
	Tools map[string]rawToolPolicy `yaml:"tools"`
}

// LoadFile reads and parses a policy file at path. Unknown top-level keys
// (including unrecognized fields within a tool entry) are rejected.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, carapaceerr.Wrap(carapaceerr.CodeConfigError, "read policy file", err)
	}
	return Parse(data)
}

// Parse decodes policy file contents already read into memory.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw rawConfig
	if err := dec.Decode(&raw); err != nil {
		return nil, carapaceerr.Wrap(carapaceerr.CodeConfigError, "parse policy file", err)
	}

	cfg := &Config{Tools: make(map[string]*ToolPolicy, len(raw.Tools))}
	for name, r := range raw.Tools {
		policy, err := r.toToolPolicy()
		if err != nil {
			return nil, carapaceerr.Wrap(carapaceerr.CodeConfigError, fmt.Sprintf("tool %q", name), err)
		}
		cfg.Tools[name] = policy
	}
	return cfg, nil
}

func (r rawToolPolicy) toToolPolicy() (*ToolPolicy, error) {
	timeout, err := parseTimeout(r.Timeout)
	if err != nil {
		return nil, err
	}

	switch r.Type {
	case ToolTypeCLI:
		if r.Binary == "" {
			return nil, fmt.Errorf("cli policy requires a binary path")
		}
		if r.Upstream != "" || len(r.JSONRPCAllowMethods) > 0 || len(r.JSONRPCDenyMethods) > 0 ||
			len(r.JSONRPCParamFilters) > 0 || r.RateLimit != nil {
			return nil, fmt.Errorf("cli policy does not accept http policy fields")
		}
		return &ToolPolicy{
			Type: ToolTypeCLI,
			CLI: &CLIPolicy{
				Binary:    r.Binary,
				ArgvAllow: r.ArgvAllow,
				ArgvDeny:  r.ArgvDeny,
				EnvInject: r.EnvInject,
				CwdAllow:  r.CwdAllow,
				Timeout:   timeout,
				Audit:     r.Audit,
			},
		}, nil
	case ToolTypeHTTP:
		if r.Upstream == "" {
			return nil, fmt.Errorf("http policy requires an upstream URL")
		}
		if r.Binary != "" || len(r.ArgvAllow) > 0 || len(r.ArgvDeny) > 0 ||
			len(r.EnvInject) > 0 || len(r.CwdAllow) > 0 {
			return nil, fmt.Errorf("http policy does not accept cli policy fields")
		}
		return &ToolPolicy{
			Type: ToolTypeHTTP,
			HTTP: &HTTPPolicy{
				Upstream:            r.Upstream,
				JSONRPCAllowMethods: r.JSONRPCAllowMethods,
				JSONRPCDenyMethods:  r.JSONRPCDenyMethods,
				JSONRPCParamFilters: r.JSONRPCParamFilters,
				RateLimit:           r.RateLimit,
				Timeout:             timeout,
				Audit:               r.Audit,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown tool type %q (want %q or %q)", r.Type, ToolTypeCLI, ToolTypeHTTP)
	}
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	return d, nil
}

// CompiledConfig is a Config with every CLI tool's argv matcher pre-built,
// so CLI dispatch never pays argv glob-compilation cost and an invalid argv
// glob surfaces at startup. JSON-RPC param-filter globs are not pre-built:
// ValidateParams compiles them per request.
type CompiledConfig struct {
	Tools    map[string]*ToolPolicy
	matchers map[string]*ArgvMatcher
}

// Compile builds argv matchers for every CLI tool in c. An invalid glob
// fails the whole compile, per spec: "Invalid glob at construction ⇒
// configuration error."
func (c *Config) Compile() (*CompiledConfig, error) {
	compiled := &CompiledConfig{
		Tools:    c.Tools,
		matchers: make(map[string]*ArgvMatcher, len(c.Tools)),
	}
	for name, p := range c.Tools {
		if p.Type != ToolTypeCLI {
			continue
		}
		m, err := NewArgvMatcher(p.CLI.ArgvAllow, p.CLI.ArgvDeny)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}
		compiled.matchers[name] = m
	}
	return compiled, nil
}

// Matcher returns the pre-built argv matcher for a CLI tool. The caller is
// expected to have already confirmed the tool exists and is a CLI policy.
func (c *CompiledConfig) Matcher(tool string) *ArgvMatcher {
	return c.matchers[tool]
}
