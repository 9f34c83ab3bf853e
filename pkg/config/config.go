// Package config provides unified configuration for the atelier server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (ATELIER_ prefix, then legacy names)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all configuration for the atelier server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Agent         AgentConfig         `yaml:"agent"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Replicate     ReplicateConfig     `yaml:"replicate"`
	Session       SessionConfig       `yaml:"session"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	MCP           MCPConfig           `yaml:"mcp"`
}

// ServerConfig holds HTTP and WebSocket listener settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`             // default: "localhost"
	HTTPPort       int           `yaml:"http_port"`        // default: 8080
	WSPort         int           `yaml:"ws_port"`          // default: 8866
	PublicURL      string        `yaml:"public_url"`       // default: http://localhost:<http_port>
	FrontendDir    string        `yaml:"frontend_dir"`     // default: "frontend"
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // default: 120s
	MaxUploadBytes int64         `yaml:"max_upload_bytes"` // default: 100 MiB
}

// StorageConfig describes where artifacts and spaces live.
type StorageConfig struct {
	Root     string         `yaml:"root"`    // default: "."
	Dir      string         `yaml:"dir"`     // default: "data"
	Backend  string         `yaml:"backend"` // "filesystem" or "postgres", default: "filesystem"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL settings for the space store.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	DSNFile  string `yaml:"dsn_file"`
	MaxConns int32  `yaml:"max_conns"` // default: 10
	Migrate  bool   `yaml:"migrate"`   // default: true
}

// AgentConfig holds settings for the language-model agent loop.
type AgentConfig struct {
	BaseURL          string            `yaml:"base_url"`
	APIKey           string            `yaml:"api_key"`
	APIKeyFile       string            `yaml:"api_key_file"`
	Model            string            `yaml:"model"`     // default: "claude-haiku-4-5-20251001"
	MaxTurns         int               `yaml:"max_turns"` // default: 25
	Timeout          time.Duration     `yaml:"timeout"`   // default: 120s
	SystemPromptFile string            `yaml:"system_prompt_file"`
	Pricing          PricingConfig     `yaml:"pricing"`
	AllowedTools     []string          `yaml:"allowed_tools"` // empty allows every tool
	MCPServers       []MCPServerConfig `yaml:"mcp_servers"`
}

// PricingConfig holds per-million-token prices in USD.
type PricingConfig struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`  // default: 1.00
	OutputPerMTok float64 `yaml:"output_per_mtok"` // default: 5.00
}

// MCPServerConfig describes a remote MCP server whose tools the agent may call.
type MCPServerConfig struct {
	Name      string            `yaml:"name" json:"name"`
	Transport string            `yaml:"transport" json:"transport"` // "sse" or "streamable-http"
	URL       string            `yaml:"url" json:"url"`
	Headers   map[string]string `yaml:"headers" json:"headers"`
}

// SandboxConfig holds code execution settings.
type SandboxConfig struct {
	Root       string        `yaml:"root"`        // default: storage.root
	Timeout    time.Duration `yaml:"timeout"`     // default: 5m
	ScriptsDir string        `yaml:"scripts_dir"` // default: "skills/ai_models/scripts"
}

// ReplicateConfig holds model provider settings.
type ReplicateConfig struct {
	BaseURL      string        `yaml:"base_url"` // default: "https://api.replicate.com"
	APIToken     string        `yaml:"api_token"`
	APITokenFile string        `yaml:"api_token_file"`
	PollInterval time.Duration `yaml:"poll_interval"` // default: 1s
	Timeout      time.Duration `yaml:"timeout"`       // default: 10m
}

// SessionConfig holds per-connection session settings.
type SessionConfig struct {
	QueueSize int  `yaml:"queue_size"` // default: 8
	Reminder  bool `yaml:"reminder"`   // default: true
}

// ArtifactsConfig holds artifact scan settings.
type ArtifactsConfig struct {
	Window time.Duration `yaml:"window"` // default: 30s
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: "INFO"
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// ObservabilityConfig holds monitoring settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// MCPConfig controls the MCP endpoint that serves the code_exec tool set.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/mcp"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:           "localhost",
			HTTPPort:       8080,
			WSPort:         8866,
			FrontendDir:    "frontend",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   120 * time.Second,
			MaxUploadBytes: 100 << 20,
		},
		Storage: StorageConfig{
			Root:    ".",
			Dir:     "data",
			Backend: "filesystem",
			Postgres: PostgresConfig{
				MaxConns: 10,
				Migrate:  true,
			},
		},
		Agent: AgentConfig{
			Model:    "claude-haiku-4-5-20251001",
			MaxTurns: 25,
			Timeout:  120 * time.Second,
			Pricing: PricingConfig{
				InputPerMTok:  1.00,
				OutputPerMTok: 5.00,
			},
		},
		Sandbox: SandboxConfig{
			Timeout:    5 * time.Minute,
			ScriptsDir: filepath.Join("skills", "ai_models", "scripts"),
		},
		Replicate: ReplicateConfig{
			BaseURL:      "https://api.replicate.com",
			PollInterval: time.Second,
			Timeout:      10 * time.Minute,
		},
		Session: SessionConfig{
			QueueSize: 8,
			Reminder:  true,
		},
		Artifacts: ArtifactsConfig{
			Window: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		MCP: MCPConfig{
			Enabled: true,
			Path:    "/mcp",
		},
	}
}

// StorageDir returns the directory generated and uploaded artifacts are written to.
func (c *Config) StorageDir() string {
	return filepath.Join(c.Storage.Root, c.Storage.Dir)
}

// SandboxRoot returns the directory sandboxed code is confined to.
func (c *Config) SandboxRoot() string {
	if c.Sandbox.Root != "" {
		return c.Sandbox.Root
	}
	return c.Storage.Root
}

// PublicURL returns the base URL clients use to fetch artifacts, without a trailing slash.
func (c *Config) PublicURL() string {
	if c.Server.PublicURL != "" {
		return strings.TrimRight(c.Server.PublicURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", c.Server.HTTPPort)
}
