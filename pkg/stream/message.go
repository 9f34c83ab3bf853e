// Package stream turns bridge events into the outbound messages of the
// WebSocket protocol.
package stream

import "encoding/json"

// Outbound message types.
const (
	TypePong            = "pong"
	TypeSystem          = "system"
	TypeAgent           = "agent"
	TypeToolUse         = "tool_use"
	TypeToolResult      = "tool_result"
	TypeCost            = "cost"
	TypeImageDownloaded = "image_downloaded"
	TypeError           = "error"
	TypeDone            = "done"
)

// Message is one outbound protocol message.
type Message struct {
	Type         string   `json:"type"`
	Content      string   `json:"content,omitempty"`
	Block        any      `json:"block,omitempty"`
	URLs         []string `json:"urls,omitempty"`
	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"`
	DurationMS   *int64   `json:"duration_ms,omitempty"`
}

// ToolUseBlock is the block of a tool_use message.
type ToolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultBlock is the block of a tool_result message.
type ToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

// Pong returns a pong message.
func Pong() Message { return Message{Type: TypePong} }

// Done returns the terminal message of a query.
func Done() Message { return Message{Type: TypeDone} }

// System returns a system message.
func System(content string) Message { return Message{Type: TypeSystem, Content: content} }

// Error returns an error message.
func Error(content string) Message { return Message{Type: TypeError, Content: content} }
