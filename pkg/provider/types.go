package provider

import "encoding/json"

// ProviderRequest is one completion request.
type ProviderRequest struct {
	Model       string            `json:"model"`
	Messages    []ProviderMessage `json:"messages"`
	Tools       []ProviderTool    `json:"tools,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Stream      bool              `json:"stream"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ProviderMessage is one conversation message.
type ProviderMessage struct {
	Role       string             `json:"role"`
	Content    string             `json:"content"`
	ToolCalls  []ProviderToolCall `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
}

// ProviderToolCall is a tool call requested by the assistant.
type ProviderToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ProviderTool is a function the model may call.
type ProviderTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
	u.TotalTokens += u2.TotalTokens
}

// ModelInfo describes a model served by the backend.
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ProviderEventType identifies the kind of streaming event.
type ProviderEventType int

const (
	// ProviderEventTextDelta carries an incremental text chunk in Delta.
	ProviderEventTextDelta ProviderEventType = iota

	// ProviderEventTextDone marks the end of the assistant's text.
	ProviderEventTextDone

	// ProviderEventToolCallDelta carries an incremental chunk of tool call
	// arguments. The first delta for an index also sets FunctionName.
	ProviderEventToolCallDelta

	// ProviderEventToolCallDone carries one fully assembled tool call in
	// ToolCall.
	ProviderEventToolCallDone

	// ProviderEventReasoningDelta carries reasoning tokens from models that
	// expose them.
	ProviderEventReasoningDelta

	// ProviderEventDone is the last event of a successful stream. It carries
	// the finish reason and, when reported, Usage.
	ProviderEventDone

	// ProviderEventError reports a stream failure in Err.
	ProviderEventError
)

// String returns the event type name.
func (t ProviderEventType) String() string {
	switch t {
	case ProviderEventTextDelta:
		return "text_delta"
	case ProviderEventTextDone:
		return "text_done"
	case ProviderEventToolCallDelta:
		return "tool_call_delta"
	case ProviderEventToolCallDone:
		return "tool_call_done"
	case ProviderEventReasoningDelta:
		return "reasoning_delta"
	case ProviderEventDone:
		return "done"
	case ProviderEventError:
		return "error"
	}
	return "unknown"
}

// Finish reasons.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
)

// ProviderEvent is one event in a streaming completion.
type ProviderEvent struct {
	Type          ProviderEventType
	Delta         string
	ToolCallIndex int
	FunctionName  string
	ToolCall      *ProviderToolCall
	FinishReason  string
	Usage         *Usage
	Err           error
}
