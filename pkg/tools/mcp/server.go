package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/tools"
)

// ToolProvider is the in-process tool set a Server publishes.
type ToolProvider interface {
	Name() string
	Tools() []tools.Definition
	Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error)
}

// NewServer builds an MCP server exposing every tool of p.
func NewServer(p ToolProvider, version string) (*mcp.Server, error) {
	server := mcp.NewServer(&mcp.Implementation{Name: p.Name(), Version: version}, nil)

	for _, def := range p.Tools() {
		schema := map[string]any{"type": "object"}
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("tool %q: decoding parameters: %w", def.Name, err)
			}
		}
		server.AddTool(&mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		}, toolHandler(p, def.Name))
	}
	return server, nil
}

func toolHandler(p ToolProvider, name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		call := tools.ToolCall{
			ID:        "mcp_" + uuid.NewString(),
			Name:      name,
			Arguments: string(req.Params.Arguments),
		}
		debug.Log("mcp", "tool call", "tool", name, "call_id", call.ID)

		result, err := p.Execute(ctx, call)
		if err != nil {
			return nil, err
		}
		return toCallToolResult(result), nil
	}
}

func toCallToolResult(r *tools.ToolResult) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: r.IsError}
	for _, c := range r.Content {
		out.Content = append(out.Content, &mcp.TextContent{Text: c.Text})
	}
	return out
}

// Handler serves server over MCP streamable HTTP.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

// ServeStdio runs server on stdin and stdout until ctx is done or the
// client disconnects.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
