package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/rhuss/atelier/pkg/api"
	"github.com/rhuss/atelier/pkg/provider"
)

// maxLineBytes bounds a single SSE line. Tool call argument chunks are
// small, but some backends send the whole message in one chunk.
const maxLineBytes = 1 << 20

// ToolCallBuffer tracks incremental tool call argument assembly across
// multiple SSE chunks for a single tool call index.
type ToolCallBuffer struct {
	ID   string
	Name string
	Args strings.Builder
}

// streamState is the per-stream parser state.
type streamState struct {
	ctx       context.Context
	ch        chan<- provider.ProviderEvent
	toolCalls map[int]*ToolCallBuffer
	finish    string
	usage     *provider.Usage
}

// send delivers ev unless the consumer went away.
func (s *streamState) send(ev provider.ProviderEvent) bool {
	select {
	case s.ch <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// ParseSSEStream reads Chat Completions SSE chunks from the given reader,
// translates each chunk to ProviderEvent values, and sends them on ch.
// The channel is NOT closed by this function; the caller is responsible
// for closing it.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	\n
//	data: [DONE]\n
//	\n
//
// A successful stream ends with exactly one ProviderEventDone carrying the
// finish reason and the usage reported by the backend. A read failure ends
// it with a ProviderEventError instead, which is also returned. Malformed
// chunks are logged and skipped.
func ParseSSEStream(ctx context.Context, body io.Reader, ch chan<- provider.ProviderEvent) (*provider.Usage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	st := &streamState{
		ctx:       ctx,
		ch:        ch,
		toolCalls: make(map[int]*ToolCallBuffer),
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return st.usage, ctx.Err()
		}

		line := scanner.Text()

		// Lines that don't start with "data:" are ignored
		// (empty separators, ": keep-alive" comments, event names).
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)

		if payload == "[DONE]" {
			break
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Warn("skipping malformed SSE chunk",
				"error", err.Error(),
				"data", Truncate(payload, 200),
			)
			continue
		}

		if !st.translateChunk(&chunk) {
			return st.usage, ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return st.usage, ctx.Err()
		}
		streamErr := api.NewServerError("SSE stream read error: " + err.Error())
		st.send(provider.ProviderEvent{Type: provider.ProviderEventError, Err: streamErr})
		return st.usage, streamErr
	}

	// Backends that omit finish_reason still get their tool calls delivered.
	if !st.flushToolCalls() {
		return st.usage, ctx.Err()
	}
	finish := st.finish
	if finish == "" {
		finish = provider.FinishStop
	}
	st.send(provider.ProviderEvent{
		Type:         provider.ProviderEventDone,
		FinishReason: finish,
		Usage:        st.usage,
	})
	return st.usage, nil
}

// translateChunk converts a single chunk into zero or more events. It
// returns false when the consumer is gone.
func (s *streamState) translateChunk(chunk *ChatCompletionChunk) bool {
	// Usage arrives on the final chunk (stream_options.include_usage),
	// usually with an empty choices array.
	if chunk.Usage != nil {
		s.usage = &provider.Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
			TotalTokens:  chunk.Usage.TotalTokens,
		}
	}
	if len(chunk.Choices) == 0 {
		return true
	}

	choice := chunk.Choices[0]
	delta := choice.Delta

	// Reasoning content (e.g. DeepSeek R1). The same chunk may also carry text.
	if delta.ReasoningContent != nil && *delta.ReasoningContent != "" {
		if !s.send(provider.ProviderEvent{
			Type:  provider.ProviderEventReasoningDelta,
			Delta: *delta.ReasoningContent,
		}) {
			return false
		}
	}

	if delta.Content != nil && *delta.Content != "" {
		if !s.send(provider.ProviderEvent{
			Type:  provider.ProviderEventTextDelta,
			Delta: *delta.Content,
		}) {
			return false
		}
	}

	for _, tc := range delta.ToolCalls {
		buf, exists := s.toolCalls[tc.Index]
		ev := provider.ProviderEvent{
			Type:          provider.ProviderEventToolCallDelta,
			ToolCallIndex: tc.Index,
			Delta:         tc.Function.Arguments,
		}
		if !exists {
			// First chunk for this index carries the id and function name.
			buf = &ToolCallBuffer{ID: tc.ID, Name: tc.Function.Name}
			s.toolCalls[tc.Index] = buf
			ev.FunctionName = tc.Function.Name
		} else if tc.Function.Name != "" && buf.Name == "" {
			buf.Name = tc.Function.Name
		}
		buf.Args.WriteString(tc.Function.Arguments)
		if !s.send(ev) {
			return false
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		s.finish = *choice.FinishReason
		if !s.flushToolCalls() {
			return false
		}
		return s.send(provider.ProviderEvent{Type: provider.ProviderEventTextDone})
	}
	return true
}

// flushToolCalls emits ProviderEventToolCallDone for each buffered tool
// call in index order and clears the buffer.
func (s *streamState) flushToolCalls() bool {
	for _, idx := range slices.Sorted(maps.Keys(s.toolCalls)) {
		buf := s.toolCalls[idx]
		args := buf.Args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		if !s.send(provider.ProviderEvent{
			Type:          provider.ProviderEventToolCallDone,
			ToolCallIndex: idx,
			FunctionName:  buf.Name,
			ToolCall: &provider.ProviderToolCall{
				ID:        buf.ID,
				Name:      buf.Name,
				Arguments: args,
			},
		}) {
			return false
		}
	}
	clear(s.toolCalls)
	return true
}

// Truncate limits a string to maxLen bytes for log output.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
