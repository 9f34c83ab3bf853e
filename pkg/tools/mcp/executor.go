package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/rhuss/atelier/pkg/tools"
)

// MCPExecutor exposes the tools of several MCP servers as one
// tools.ToolExecutor. Tool lists are fetched on first use; when two servers
// publish the same name, the server that sorts first owns it.
type MCPExecutor struct {
	mu      sync.RWMutex
	clients map[string]*MCPClient
	owner   map[string]string // tool name -> server name
	ready   bool
}

var _ tools.ToolExecutor = (*MCPExecutor)(nil)

// NewMCPExecutor wraps already connected clients keyed by server name.
func NewMCPExecutor(clients map[string]*MCPClient) *MCPExecutor {
	return &MCPExecutor{clients: clients, owner: map[string]string{}}
}

// ConnectAll dials every server in servers. A server that cannot be
// reached is logged and left out.
func ConnectAll(ctx context.Context, servers []ServerConfig) *MCPExecutor {
	clients := make(map[string]*MCPClient, len(servers))
	for _, cfg := range servers {
		c := NewMCPClient(cfg)
		if err := c.Connect(ctx); err != nil {
			slog.Error("mcp server unavailable", "server", cfg.Name, "url", cfg.URL, "error", err)
			continue
		}
		clients[cfg.Name] = c
	}
	return NewMCPExecutor(clients)
}

// Kind returns ToolKindMCP.
func (e *MCPExecutor) Kind() tools.ToolKind {
	return tools.ToolKindMCP
}

// CanExecute reports whether some server publishes toolName.
func (e *MCPExecutor) CanExecute(toolName string) bool {
	e.discover()
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.owner[toolName]
	return ok
}

// Execute sends call to the server owning the tool.
func (e *MCPExecutor) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	e.discover()
	e.mu.RLock()
	server, ok := e.owner[call.Name]
	client := e.clients[server]
	e.mu.RUnlock()
	if !ok {
		return tools.ErrorResult(call.ID, fmt.Sprintf("no MCP server provides tool %q", call.Name)), nil
	}
	return client.CallTool(ctx, call)
}

// Definitions lists every routable tool, grouped by server name.
func (e *MCPExecutor) Definitions() []tools.Definition {
	e.discover()
	e.mu.RLock()
	defer e.mu.RUnlock()

	var defs []tools.Definition
	for _, server := range e.serverNames() {
		c := e.clients[server]
		c.mu.Lock()
		for _, d := range c.cachedTools {
			if e.owner[d.Name] == server {
				defs = append(defs, d)
			}
		}
		c.mu.Unlock()
	}
	return defs
}

// Close closes every connection and joins their errors.
func (e *MCPExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for name, c := range e.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (e *MCPExecutor) serverNames() []string {
	names := make([]string, 0, len(e.clients))
	for name := range e.clients {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (e *MCPExecutor) discover() {
	e.mu.RLock()
	ready := e.ready
	e.mu.RUnlock()
	if ready {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return
	}
	for _, server := range e.serverNames() {
		defs, err := e.clients[server].DiscoverTools(context.Background())
		if err != nil {
			slog.Error("mcp tool discovery failed", "server", server, "error", err)
			continue
		}
		for _, d := range defs {
			if prev, taken := e.owner[d.Name]; taken {
				slog.Warn("duplicate mcp tool ignored", "tool", d.Name, "kept", prev, "ignored", server)
				continue
			}
			e.owner[d.Name] = server
		}
		slog.Info("mcp tools discovered", "server", server, "count", len(defs))
	}
	e.ready = true
}
