package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/provider"
	"github.com/rhuss/atelier/pkg/tools"
)

var (
	// ErrClosed is returned by Query after Close.
	ErrClosed = errors.New("agent: bridge closed")

	// ErrBusy is returned by Query while another query is running.
	ErrBusy = errors.New("agent: query already in progress")
)

// Bridge is one agent conversation. The history lives in the bridge, so a
// fresh bridge starts a fresh conversation.
type Bridge interface {
	// Query sends prompt and returns the events it produces. The channel is
	// closed when the query finishes, fails or ctx is cancelled.
	Query(ctx context.Context, prompt string) (<-chan Event, error)

	// Close releases the bridge. Queries after Close fail with ErrClosed.
	Close() error
}

// ToolSource is a ToolExecutor that can describe its tools to the model.
type ToolSource interface {
	tools.ToolExecutor
	Definitions() []tools.Definition
}

// Config holds the per-bridge loop settings.
type Config struct {
	Model        string
	MaxTurns     int
	SystemPrompt string
	Pricing      Pricing

	// AllowedTools restricts which tools the model may call. Empty allows all.
	AllowedTools []string
}

func (c Config) maxTurns() int {
	if c.MaxTurns <= 0 {
		return 25
	}
	return c.MaxTurns
}

var _ Bridge = (*Loop)(nil)

// Loop is the Bridge implementation backed by a streaming LLM provider.
type Loop struct {
	provider  provider.Provider
	executors []ToolSource
	cfg       Config

	// owned is closed with the bridge; shared executors are not.
	owned io.Closer

	// running is held for the duration of a query.
	running sync.Mutex

	mu      sync.Mutex
	history []provider.ProviderMessage
	closed  bool
}

// NewLoop creates a Loop. The provider must not be nil.
func NewLoop(p provider.Provider, executors []ToolSource, cfg Config) (*Loop, error) {
	if p == nil {
		return nil, fmt.Errorf("agent: provider must not be nil")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("agent: model is required")
	}
	l := &Loop{
		provider:  p,
		executors: executors,
		cfg:       cfg,
	}
	if cfg.SystemPrompt != "" {
		l.history = append(l.history, provider.ProviderMessage{Role: provider.RoleSystem, Content: cfg.SystemPrompt})
	}
	return l, nil
}

// Query implements Bridge.
func (l *Loop) Query(ctx context.Context, prompt string) (<-chan Event, error) {
	if !l.running.TryLock() {
		return nil, ErrBusy
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.running.Unlock()
		return nil, ErrClosed
	}
	l.history = append(l.history, provider.ProviderMessage{Role: provider.RoleUser, Content: prompt})
	l.mu.Unlock()

	debug.Log("agent", "query started", "model", l.cfg.Model, "prompt", debug.Truncate(prompt, 200))

	ch := make(chan Event, 16)
	go func() {
		// running is released before ch closes, so a caller that drained
		// ch can query again right away.
		defer close(ch)
		defer l.running.Unlock()
		l.run(ctx, ch)
	}()
	return ch, nil
}

// Close implements Bridge.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if l.owned != nil {
		return l.owned.Close()
	}
	return nil
}

// History returns a copy of the conversation so far.
func (l *Loop) History() []provider.ProviderMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]provider.ProviderMessage(nil), l.history...)
}

// run executes the agentic loop for the last user message.
func (l *Loop) run(ctx context.Context, ch chan<- Event) {
	start := time.Now()
	emit := func(ev Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(Event{Type: EventSystem, Subtype: SubtypeInit}) {
		return
	}

	toolDefs := provider.ToolsFromDefinitions(l.definitions())

	var usage provider.Usage
	turns := 0
	finished := false
	for turns < l.cfg.maxTurns() {
		if ctx.Err() != nil {
			return
		}
		turns++

		req := &provider.ProviderRequest{
			Model:    l.cfg.Model,
			Messages: l.History(),
			Tools:    toolDefs,
			Stream:   true,
		}
		text, calls, turnUsage, err := l.streamTurn(ctx, req)
		if turnUsage != nil {
			usage.Add(*turnUsage)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("agent turn failed", "model", l.cfg.Model, "turn", turns, "error", err.Error())
			emit(Event{Type: EventError, Err: err})
			return
		}

		if text != "" {
			if !emit(Event{Type: EventText, Text: text}) {
				return
			}
		}
		l.appendHistory(provider.ProviderMessage{Role: provider.RoleAssistant, Content: text, ToolCalls: calls})

		if len(calls) == 0 {
			finished = true
			break
		}
		if !l.runTools(ctx, calls, emit) {
			return
		}
	}

	if !finished {
		debug.Log("agent", "max turns reached", "turns", turns)
		if !emit(Event{Type: EventSystem, Subtype: SubtypeMaxTurns}) {
			return
		}
	}

	elapsed := time.Since(start)
	debug.Log("agent", "query finished",
		"turns", turns,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"elapsed", elapsed,
	)
	emit(Event{Type: EventResult, Result: &ResultSummary{
		TotalCostUSD: l.cfg.Pricing.Cost(usage),
		DurationMS:   elapsed.Milliseconds(),
		NumTurns:     turns,
		Usage:        usage,
	}})
}

// streamTurn consumes one provider stream and returns the assistant text,
// the completed tool calls and the usage of the turn.
func (l *Loop) streamTurn(ctx context.Context, req *provider.ProviderRequest) (string, []provider.ProviderToolCall, *provider.Usage, error) {
	events, err := l.provider.Stream(ctx, req)
	if err != nil {
		return "", nil, nil, err
	}

	var text strings.Builder
	var calls []provider.ProviderToolCall
	var usage *provider.Usage
	for ev := range events {
		switch ev.Type {
		case provider.ProviderEventTextDelta:
			text.WriteString(ev.Delta)
		case provider.ProviderEventToolCallDone:
			if ev.ToolCall != nil {
				calls = append(calls, *ev.ToolCall)
			}
		case provider.ProviderEventDone:
			usage = ev.Usage
		case provider.ProviderEventError:
			return "", nil, usage, ev.Err
		}
	}
	if ctx.Err() != nil {
		return "", nil, usage, ctx.Err()
	}
	return text.String(), calls, usage, nil
}

// runTools executes calls in order, reporting each as a tool_use and
// tool_result pair, and appends the results to the history.
func (l *Loop) runTools(ctx context.Context, calls []provider.ProviderToolCall, emit func(Event) bool) bool {
	toolCalls := make([]tools.ToolCall, len(calls))
	for i, c := range calls {
		toolCalls[i] = tools.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}

	filtered := tools.FilterAllowedTools(toolCalls, l.cfg.AllowedTools)
	rejected := make(map[string]*tools.ToolResult, len(filtered.Rejected))
	for i := range filtered.Rejected {
		rejected[filtered.Rejected[i].CallID] = &filtered.Rejected[i]
	}

	for _, call := range toolCalls {
		if !emit(Event{Type: EventToolUse, ToolUse: &ToolUse{ID: call.ID, Name: call.Name, Input: toolInput(call.Arguments)}}) {
			return false
		}

		result, ok := rejected[call.ID]
		if !ok {
			result = l.execute(ctx, call)
		}

		l.appendHistory(provider.ProviderMessage{Role: provider.RoleTool, Content: result.Text(), ToolCallID: call.ID})
		if !emit(Event{Type: EventToolResult, ToolResult: result}) {
			return false
		}
	}
	return true
}

// execute dispatches one call to the first executor that accepts it.
func (l *Loop) execute(ctx context.Context, call tools.ToolCall) *tools.ToolResult {
	debug.Log("agent", "tool call", "tool", call.Name, "call_id", call.ID)
	for _, exec := range l.executors {
		if !exec.CanExecute(call.Name) {
			continue
		}
		result, err := exec.Execute(ctx, call)
		if err != nil {
			slog.Warn("tool execution error",
				"tool", call.Name,
				"call_id", call.ID,
				"error", err.Error(),
			)
			return tools.ErrorResult(call.ID, err.Error())
		}
		if result.CallID == "" {
			result.CallID = call.ID
		}
		return result
	}
	return tools.ErrorResult(call.ID, "no executor found for tool "+call.Name)
}

// definitions collects tool definitions across executors. The first
// executor to define a name wins.
func (l *Loop) definitions() []tools.Definition {
	seen := make(map[string]bool)
	var defs []tools.Definition
	for _, exec := range l.executors {
		for _, d := range exec.Definitions() {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			defs = append(defs, d)
		}
	}
	return defs
}

func (l *Loop) appendHistory(m provider.ProviderMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, m)
}
