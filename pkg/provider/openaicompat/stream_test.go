package openaicompat

import (
	"context"
	"strings"
	"testing"

	"github.com/rhuss/atelier/pkg/provider"
)

// collectEvents runs ParseSSEStream and returns all events.
func collectEvents(t *testing.T, sseData string) ([]provider.ProviderEvent, error) {
	t.Helper()
	ch := make(chan provider.ProviderEvent, 64)

	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(ch)
		_, err = ParseSSEStream(context.Background(), strings.NewReader(sseData), ch)
	}()

	var events []provider.ProviderEvent
	for ev := range ch {
		events = append(events, ev)
	}
	<-done
	return events, err
}

func eventTypes(events []provider.ProviderEvent) string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Type.String()
	}
	return strings.Join(names, ",")
}

func TestParseSSEStream_TextDeltas(t *testing.T) {
	sseData := `data: {"id":"c1","model":"m","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}

data: {"id":"c1","model":"m","choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}

data: {"id":"c1","model":"m","choices":[{"index":0,"delta":{"content":" world"},"finish_reason":null}]}

data: {"id":"c1","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: {"id":"c1","model":"m","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}

data: [DONE]
`
	events, err := collectEvents(t, sseData)
	if err != nil {
		t.Fatalf("ParseSSEStream() error: %v", err)
	}

	if got, want := eventTypes(events), "text_delta,text_delta,text_done,done"; got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
	if events[0].Delta != "Hello" || events[1].Delta != " world" {
		t.Errorf("deltas = %q, %q", events[0].Delta, events[1].Delta)
	}

	last := events[len(events)-1]
	if last.FinishReason != provider.FinishStop {
		t.Errorf("FinishReason = %q, want stop", last.FinishReason)
	}
	if last.Usage == nil || last.Usage.InputTokens != 12 || last.Usage.OutputTokens != 3 {
		t.Errorf("Usage = %+v, want 12/3", last.Usage)
	}
}

func TestParseSSEStream_ToolCalls(t *testing.T) {
	sseData := `data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"list_tools","arguments":""}}]},"finish_reason":null}]}

data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"exec_code","arguments":"{\"co"}}]},"finish_reason":null}]}

data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"de\":\"1\"}"}}]},"finish_reason":null}]}

data: {"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}

data: [DONE]
`
	events, err := collectEvents(t, sseData)
	if err != nil {
		t.Fatalf("ParseSSEStream() error: %v", err)
	}

	var calls []*provider.ProviderToolCall
	for _, ev := range events {
		if ev.Type == provider.ProviderEventToolCallDone {
			calls = append(calls, ev.ToolCall)
		}
	}
	if len(calls) != 2 {
		t.Fatalf("got %d completed tool calls, want 2 (%s)", len(calls), eventTypes(events))
	}

	// Completed calls are ordered by index, not arrival.
	if calls[0].ID != "call_a" || calls[0].Name != "exec_code" || calls[0].Arguments != `{"code":"1"}` {
		t.Errorf("calls[0] = %+v", calls[0])
	}
	if calls[1].ID != "call_b" || calls[1].Arguments != "{}" {
		t.Errorf("calls[1] = %+v, want empty arguments normalized to {}", calls[1])
	}

	last := events[len(events)-1]
	if last.Type != provider.ProviderEventDone || last.FinishReason != provider.FinishToolCalls {
		t.Errorf("last event = %+v", last)
	}
}

func TestParseSSEStream_MalformedChunk(t *testing.T) {
	sseData := `data: {"choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}

data: {this is not valid json}

: keep-alive

data: {"choices":[{"index":0,"delta":{"content":"!"},"finish_reason":null}]}

data: [DONE]
`
	events, err := collectEvents(t, sseData)
	if err != nil {
		t.Fatalf("ParseSSEStream() error: %v", err)
	}
	if got, want := eventTypes(events), "text_delta,text_delta,done"; got != want {
		t.Errorf("events = %s, want %s", got, want)
	}
}

func TestParseSSEStream_MissingDoneSentinel(t *testing.T) {
	events, err := collectEvents(t, `data: {"choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}
`)
	if err != nil {
		t.Fatalf("ParseSSEStream() error: %v", err)
	}
	last := events[len(events)-1]
	if last.Type != provider.ProviderEventDone || last.FinishReason != provider.FinishStop {
		t.Errorf("last event = %+v, want done/stop", last)
	}
}

func TestParseSSEStream_Reasoning(t *testing.T) {
	events, _ := collectEvents(t, `data: {"choices":[{"index":0,"delta":{"reasoning_content":"thinking","content":"answer"},"finish_reason":null}]}

data: [DONE]
`)
	if got, want := eventTypes(events), "reasoning_delta,text_delta,done"; got != want {
		t.Errorf("events = %s, want %s", got, want)
	}
}

func TestParseSSEStream_CancelledConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unbuffered and never read: the parser must not block.
	ch := make(chan provider.ProviderEvent)
	_, err := ParseSSEStream(ctx, strings.NewReader(`data: {"choices":[{"index":0,"delta":{"content":"x"}}]}
`), ch)
	if err == nil {
		t.Error("expected the context error")
	}
}

func TestTranslateToChat(t *testing.T) {
	req := &provider.ProviderRequest{
		Model:  "m",
		Stream: true,
		Messages: []provider.ProviderMessage{
			{Role: provider.RoleSystem, Content: "sys"},
			{Role: provider.RoleAssistant, ToolCalls: []provider.ProviderToolCall{{ID: "c1", Name: "exec_code", Arguments: "{}"}}},
			{Role: provider.RoleTool, ToolCallID: "c1", Content: "2"},
		},
		Tools: []provider.ProviderTool{{Name: "exec_code", Parameters: []byte(`{"type":"object"}`)}},
	}
	cr := TranslateToChat(req)

	if cr.N != 1 || !cr.Stream || cr.StreamOptions == nil || !cr.StreamOptions.IncludeUsage {
		t.Errorf("stream settings = %+v", cr)
	}
	if len(cr.Messages) != 3 {
		t.Fatalf("got %d messages", len(cr.Messages))
	}
	if cr.Messages[1].Content != nil {
		t.Errorf("tool-only assistant content = %q, want null", *cr.Messages[1].Content)
	}
	if tc := cr.Messages[1].ToolCalls; len(tc) != 1 || tc[0].Type != "function" || tc[0].Function.Name != "exec_code" {
		t.Errorf("tool calls = %+v", tc)
	}
	if cr.Messages[2].ToolCallID != "c1" || *cr.Messages[2].Content != "2" {
		t.Errorf("tool message = %+v", cr.Messages[2])
	}
	if len(cr.Tools) != 1 || cr.Tools[0].Type != "function" {
		t.Errorf("tools = %+v", cr.Tools)
	}
}
