package tools

import (
	"context"
	"encoding/json"
	"strings"
)

// ToolKind classifies how a tool is hosted and executed.
type ToolKind int

const (
	// ToolKindBuiltin is a tool executed in-process by a registered provider.
	ToolKindBuiltin ToolKind = iota

	// ToolKindMCP is a tool served by an external MCP server.
	ToolKindMCP
)

// ToolExecutor executes tool calls.
type ToolExecutor interface {
	// Kind returns the type of tools this executor handles.
	Kind() ToolKind

	// CanExecute checks if this executor can handle the given tool name.
	CanExecute(toolName string) bool

	// Execute runs the tool. Tool-level failures are reported as results
	// with IsError set; a Go error means the executor itself broke.
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
}

// Definition describes a tool to the model.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall represents a model's request to invoke a tool.
type ToolCall struct {
	// ID is the unique call identifier assigned by the model.
	ID string

	// Name is the tool function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// Content is one block of tool output.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	// CallID matches the originating ToolCall.ID.
	CallID string `json:"tool_use_id"`

	Content []Content `json:"content"`

	// IsError indicates that the content is an error message.
	IsError bool `json:"is_error,omitempty"`
}

// TextResult builds a successful single-block result.
func TextResult(callID, text string) *ToolResult {
	return &ToolResult{CallID: callID, Content: []Content{{Type: "text", Text: text}}}
}

// ErrorResult builds a failed single-block result.
func ErrorResult(callID, text string) *ToolResult {
	r := TextResult(callID, text)
	r.IsError = true
	return r
}

// Text joins the text blocks of the result with newlines.
func (r *ToolResult) Text() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}
