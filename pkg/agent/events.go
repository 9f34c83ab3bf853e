package agent

import (
	"encoding/json"

	"github.com/rhuss/atelier/pkg/provider"
	"github.com/rhuss/atelier/pkg/tools"
)

// EventType identifies the kind of bridge event.
type EventType string

const (
	EventText       EventType = "text"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventSystem     EventType = "system"
	EventResult     EventType = "result"
	EventError      EventType = "error"
)

// System event subtypes.
const (
	SubtypeInit     = "init"
	SubtypeMaxTurns = "max_turns"
)

// ToolUse is a tool invocation requested by the model.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ResultSummary closes a query.
type ResultSummary struct {
	TotalCostUSD float64        `json:"total_cost_usd"`
	DurationMS   int64          `json:"duration_ms"`
	NumTurns     int            `json:"num_turns"`
	Usage        provider.Usage `json:"usage"`
}

// Event is one step of a query. Exactly one of the payload fields is set,
// matching Type.
type Event struct {
	Type       EventType
	Text       string
	ToolUse    *ToolUse
	ToolResult *tools.ToolResult
	Subtype    string
	Result     *ResultSummary
	Err        error
}

// toolInput returns call arguments as JSON, wrapping non-JSON argument
// strings so the input is always a valid document.
func toolInput(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	data, _ := json.Marshal(map[string]string{"raw": args})
	return data
}
