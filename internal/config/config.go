// Package config loads carapace-agent and carapace-server process
// configuration from environment variables via viper, following the
// teacher's viper-based configuration loader.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// AgentConfig configures carapace-agent: its CLI and HTTP ingress
// listeners and its connection to carapace-server.
type AgentConfig struct {
	ServerHost       string
	ServerPort       int
	CLISocketPath    string
	HTTPPort         int
	LogLevel         string
	LogFile          string
	LogJSON          bool
	PingIntervalSecs int
	AgentSocketPath  string
	MetricsPort      int
}

// PingInterval returns the keepalive interval as a time.Duration.
func (c AgentConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSecs) * time.Second
}

// LoadAgentConfig reads CARAPACE_* environment variables, applying the
// defaults set below.
func LoadAgentConfig() (AgentConfig, error) {
	v := newViper()

	v.SetDefault("server_host", "127.0.0.1")
	v.SetDefault("server_port", 8765)
	v.SetDefault("cli_socket", "/tmp/carapace-agent.sock")
	v.SetDefault("http_port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("log_json", false)
	v.SetDefault("ping_interval_secs", 5)
	v.SetDefault("agent_socket", "/tmp/carapace-agent.sock")
	v.SetDefault("metrics_port", 9091)

	for _, key := range []string{
		"server_host", "server_port", "cli_socket", "http_port",
		"log_level", "log_file", "log_json", "ping_interval_secs", "agent_socket", "metrics_port",
	} {
		if err := v.BindEnv(key); err != nil {
			return AgentConfig{}, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	return AgentConfig{
		ServerHost:       v.GetString("server_host"),
		ServerPort:       v.GetInt("server_port"),
		CLISocketPath:    v.GetString("cli_socket"),
		HTTPPort:         v.GetInt("http_port"),
		LogLevel:         v.GetString("log_level"),
		LogFile:          v.GetString("log_file"),
		LogJSON:          v.GetBool("log_json"),
		PingIntervalSecs: v.GetInt("ping_interval_secs"),
		AgentSocketPath:  v.GetString("agent_socket"),
		MetricsPort:      v.GetInt("metrics_port"),
	}, nil
}

// ServerConfig configures carapace-server: its policy source, rate
// limiting, connection cap, and audit sink.
type ServerConfig struct {
	ListenHost            string
	ListenPort            int
	PolicyFile            string
	RateLimitMax          int
	RateLimitWindowSecs   int
	MaxConnections        int
	ShutdownTimeoutSecs   int
	AuditLog              string
	LogLevel              string
	LogFile               string
	LogJSON               bool
	MetricsPort           int
}

// RateLimitWindow returns the fixed-window duration as a time.Duration.
func (c ServerConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSecs) * time.Second
}

// ShutdownTimeout returns the drain deadline as a time.Duration.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSecs) * time.Second
}

// LoadServerConfig reads CARAPACE_* environment variables, applying the
// defaults set below.
func LoadServerConfig() (ServerConfig, error) {
	v := newViper()

	v.SetDefault("listen_host", "0.0.0.0")
	v.SetDefault("server_port", 8765)
	v.SetDefault("policy_file", "/etc/carapace/policy.yaml")
	v.SetDefault("rate_limit_max", 1000)
	v.SetDefault("rate_limit_window_secs", 60)
	v.SetDefault("max_connections", 100)
	v.SetDefault("shutdown_timeout_secs", 30)
	v.SetDefault("audit_log", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("log_json", false)
	v.SetDefault("metrics_port", 9090)

	for _, key := range []string{
		"listen_host", "server_port", "policy_file", "rate_limit_max",
		"rate_limit_window_secs", "max_connections", "shutdown_timeout_secs",
		"audit_log", "log_level", "log_file", "log_json", "metrics_port",
	} {
		if err := v.BindEnv(key); err != nil {
			return ServerConfig{}, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	return ServerConfig{
		ListenHost:          v.GetString("listen_host"),
		ListenPort:          v.GetInt("server_port"),
		PolicyFile:          v.GetString("policy_file"),
		RateLimitMax:        v.GetInt("rate_limit_max"),
		RateLimitWindowSecs: v.GetInt("rate_limit_window_secs"),
		MaxConnections:      v.GetInt("max_connections"),
		ShutdownTimeoutSecs: v.GetInt("shutdown_timeout_secs"),
		AuditLog:            v.GetString("audit_log"),
		LogLevel:            v.GetString("log_level"),
		LogFile:             v.GetString("log_file"),
		LogJSON:             v.GetBool("log_json"),
		MetricsPort:         v.GetInt("metrics_port"),
	}, nil
}

// newViper returns a viper instance scoped to the CARAPACE_ env prefix.
// A fresh instance (rather than the global viper.GetViper()) keeps the
// agent and server loaders independent, since both processes may link
// this package in tests.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CARAPACE")
	v.AutomaticEnv()
	return v
}
