package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/tools"
)

// MCPClient is one connection to an external MCP server whose tools the
// agent can call next to code_exec.
type MCPClient struct {
	cfg     ServerConfig
	client  *mcp.Client
	session *mcp.ClientSession

	mu            sync.Mutex
	cachedTools   []tools.Definition
	toolsResolved bool
}

// NewMCPClient returns an unconnected client for cfg.
func NewMCPClient(cfg ServerConfig) *MCPClient {
	return &MCPClient{cfg: cfg}
}

// Connect dials the configured URL and performs the MCP handshake.
func (c *MCPClient) Connect(ctx context.Context) error {
	transport, err := transportFor(c.cfg)
	if err != nil {
		return fmt.Errorf("mcp server %q: %w", c.cfg.Name, err)
	}
	return c.ConnectWithTransport(ctx, transport)
}

// ConnectWithTransport performs the handshake over an existing transport.
func (c *MCPClient) ConnectWithTransport(ctx context.Context, transport mcp.Transport) error {
	c.client = mcp.NewClient(&mcp.Implementation{Name: "atelier", Version: "1.0.0"}, nil)
	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connecting to mcp server %q: %w", c.cfg.Name, err)
	}
	c.session = session
	debug.Log("mcp", "connected", "server", c.cfg.Name, "url", c.cfg.URL)
	return nil
}

func transportFor(cfg ServerConfig) (mcp.Transport, error) {
	hc := http.DefaultClient
	if len(cfg.Headers) > 0 {
		hc = &http.Client{Transport: staticHeaders{next: http.DefaultTransport, headers: cfg.Headers}}
	}
	switch cfg.Transport {
	case "", "streamable-http":
		return &mcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: hc}, nil
	case "sse":
		return &mcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: hc}, nil
	}
	return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
}

// staticHeaders sets fixed headers (usually Authorization) on every request.
type staticHeaders struct {
	next    http.RoundTripper
	headers map[string]string
}

func (s staticHeaders) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	return s.next.RoundTrip(req)
}

// DiscoverTools returns the server's tool list. The first successful
// listing is cached for the lifetime of the connection.
func (c *MCPClient) DiscoverTools(ctx context.Context) ([]tools.Definition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.toolsResolved {
		return c.cachedTools, nil
	}
	if c.session == nil {
		return nil, fmt.Errorf("mcp server %q: not connected", c.cfg.Name)
	}

	var defs []tools.Definition
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing tools of %q: %w", c.cfg.Name, err)
		}
		def := tools.Definition{Name: tool.Name, Description: tool.Description}
		if tool.InputSchema != nil {
			schema, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %q of %q: input schema: %w", tool.Name, c.cfg.Name, err)
			}
			def.Parameters = schema
		}
		defs = append(defs, def)
	}

	c.cachedTools, c.toolsResolved = defs, true
	return defs, nil
}

// CallTool forwards call to the server. Bad arguments and transport
// failures come back as error results the model can read.
func (c *MCPClient) CallTool(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	if c.session == nil {
		return nil, fmt.Errorf("mcp server %q: not connected", c.cfg.Name)
	}

	params := &mcp.CallToolParams{Name: call.Name}
	if call.Arguments != "" {
		var args map[string]any
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return tools.ErrorResult(call.ID, fmt.Sprintf("invalid arguments JSON: %v", err)), nil
		}
		params.Arguments = args
	}

	debug.Trace("mcp", "call tool", "server", c.cfg.Name, "tool", call.Name, "call_id", call.ID)
	res, err := c.session.CallTool(ctx, params)
	if err != nil {
		return tools.ErrorResult(call.ID, fmt.Sprintf("MCP tool call error: %v", err)), nil
	}

	// Only text blocks reach the model.
	out := &tools.ToolResult{CallID: call.ID, IsError: res.IsError}
	for _, block := range res.Content {
		if text, ok := block.(*mcp.TextContent); ok {
			out.Content = append(out.Content, tools.Content{Type: "text", Text: text.Text})
		}
	}
	return out, nil
}

// Close ends the session. It is safe to call more than once.
func (c *MCPClient) Close() error {
	if c.session == nil {
		return nil
	}
	s := c.session
	c.session = nil
	return s.Close()
}
