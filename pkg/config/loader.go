package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, ATELIER_CONFIG env, ./config.yaml, /etc/atelier/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if filePath := discoverConfigFile(configPath); filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile returns the first config file found, or "" if none.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("ATELIER_CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/atelier/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile parses a YAML file over cfg. Absent fields keep their defaults.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// lookupEnv returns the first non-empty value among the named variables.
// ATELIER_ names come first so they win over the legacy unprefixed ones.
func lookupEnv(names ...string) (string, bool) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v, true
		}
	}
	return "", false
}

func envString(dst *string, names ...string) {
	if v, ok := lookupEnv(names...); ok {
		*dst = v
	}
}

func envInt(dst *int, names ...string) {
	if v, ok := lookupEnv(names...); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(dst *time.Duration, names ...string) {
	if v, ok := lookupEnv(names...); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(dst *bool, names ...string) {
	if v, ok := lookupEnv(names...); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// applyEnvOverrides maps environment variables to config fields.
func applyEnvOverrides(cfg *Config) {
	envString(&cfg.Server.Host, "ATELIER_HOST")
	envInt(&cfg.Server.HTTPPort, "ATELIER_HTTP_PORT", "HTTP_PORT")
	envInt(&cfg.Server.WSPort, "ATELIER_WS_PORT", "WS_PORT")
	envString(&cfg.Server.PublicURL, "ATELIER_PUBLIC_URL")
	envString(&cfg.Server.FrontendDir, "ATELIER_FRONTEND_DIR")

	envString(&cfg.Storage.Root, "ATELIER_STORAGE_ROOT", "STORAGE_ROOT")
	envString(&cfg.Storage.Dir, "ATELIER_STORAGE_DIR", "STORAGE_DIR")
	envString(&cfg.Storage.Backend, "ATELIER_STORAGE_BACKEND")
	envString(&cfg.Storage.Postgres.DSN, "ATELIER_POSTGRES_DSN")

	envString(&cfg.Agent.BaseURL, "ATELIER_BASE_URL")
	envString(&cfg.Agent.APIKey, "ATELIER_API_KEY")
	envString(&cfg.Agent.Model, "ATELIER_MODEL", "CLAUDE_MODEL")
	envInt(&cfg.Agent.MaxTurns, "ATELIER_MAX_TURNS")

	envString(&cfg.Sandbox.Root, "ATELIER_SANDBOX_ROOT")
	envDuration(&cfg.Sandbox.Timeout, "ATELIER_SANDBOX_TIMEOUT")
	envString(&cfg.Sandbox.ScriptsDir, "ATELIER_SCRIPTS_DIR")

	envString(&cfg.Replicate.BaseURL, "ATELIER_REPLICATE_URL")
	envString(&cfg.Replicate.APIToken, "ATELIER_REPLICATE_TOKEN", "REPLICATE_API_TOKEN")

	envInt(&cfg.Session.QueueSize, "ATELIER_QUEUE_SIZE")
	envBool(&cfg.Session.Reminder, "ATELIER_REMINDER")
	envDuration(&cfg.Artifacts.Window, "ATELIER_ARTIFACT_WINDOW")

	envString(&cfg.Logging.Format, "ATELIER_LOG_FORMAT")

	// ATELIER_MCP_SERVERS: JSON array of MCP server configs.
	if v := os.Getenv("ATELIER_MCP_SERVERS"); v != "" {
		servers, err := parseMCPServersJSON(v)
		if err == nil && len(servers) > 0 {
			cfg.Agent.MCPServers = servers
		}
	}
}

// parseMCPServersJSON parses a JSON array of MCP server configurations.
func parseMCPServersJSON(jsonStr string) ([]MCPServerConfig, error) {
	var servers []MCPServerConfig
	if err := json.Unmarshal([]byte(jsonStr), &servers); err != nil {
		return nil, fmt.Errorf("parsing MCP servers JSON: %w", err)
	}
	return servers, nil
}

// resolveFileReferences fills empty secret fields from their _file companions.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name  string
		file  string
		value *string
	}{
		{"agent.api_key_file", cfg.Agent.APIKeyFile, &cfg.Agent.APIKey},
		{"replicate.api_token_file", cfg.Replicate.APITokenFile, &cfg.Replicate.APIToken},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
	}
	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
