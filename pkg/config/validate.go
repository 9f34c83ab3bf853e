package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each prefixed with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 {
		errs = append(errs, fmt.Errorf("server.http_port must be > 0, got %d", c.Server.HTTPPort))
	}
	if c.Server.WSPort <= 0 {
		errs = append(errs, fmt.Errorf("server.ws_port must be > 0, got %d", c.Server.WSPort))
	}
	if c.Server.HTTPPort == c.Server.WSPort {
		errs = append(errs, fmt.Errorf("server.ws_port must differ from server.http_port (%d)", c.Server.HTTPPort))
	}

	if c.Storage.Dir == "" || strings.ContainsAny(c.Storage.Dir, `/\`) || c.Storage.Dir == ".." {
		errs = append(errs, fmt.Errorf("storage.dir must be a single directory name, got %q", c.Storage.Dir))
	}
	switch c.Storage.Backend {
	case "filesystem":
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.backend is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be \"filesystem\" or \"postgres\", got %q", c.Storage.Backend))
	}

	if c.Agent.BaseURL == "" {
		errs = append(errs, fmt.Errorf("agent.base_url is required"))
	}
	if c.Agent.Model == "" {
		errs = append(errs, fmt.Errorf("agent.model is required"))
	}
	if c.Agent.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_turns must be > 0, got %d", c.Agent.MaxTurns))
	}
	for i, s := range c.Agent.MCPServers {
		if s.Name == "" || s.URL == "" {
			errs = append(errs, fmt.Errorf("agent.mcp_servers[%d]: name and url are required", i))
		}
		switch s.Transport {
		case "", "sse", "streamable-http":
		default:
			errs = append(errs, fmt.Errorf("agent.mcp_servers[%d].transport must be \"sse\" or \"streamable-http\", got %q", i, s.Transport))
		}
	}

	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.timeout must be > 0, got %s", c.Sandbox.Timeout))
	}
	if c.Replicate.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("replicate.poll_interval must be > 0, got %s", c.Replicate.PollInterval))
	}
	if c.Session.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("session.queue_size must be >= 1, got %d", c.Session.QueueSize))
	}
	if c.Artifacts.Window <= 0 {
		errs = append(errs, fmt.Errorf("artifacts.window must be > 0, got %s", c.Artifacts.Window))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
