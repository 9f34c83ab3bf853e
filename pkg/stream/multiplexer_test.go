package stream

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/atelier/pkg/agent"
	"github.com/rhuss/atelier/pkg/artifact"
	"github.com/rhuss/atelier/pkg/tools"
)

func feed(events ...agent.Event) <-chan agent.Event {
	ch := make(chan agent.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func newTestMux(t *testing.T) (*Multiplexer, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	scanner := artifact.NewScanner(artifact.Config{Dir: dir, PublicURL: "http://localhost:8080/data"})
	return New("data", scanner), dir
}

func forward(t *testing.T, m *Multiplexer, events <-chan agent.Event) []Message {
	t.Helper()
	var msgs []Message
	if _, err := m.Forward(context.Background(), events, func(msg Message) error {
		msgs = append(msgs, msg)
		return nil
	}); err != nil {
		t.Fatalf("Forward() error: %v", err)
	}
	return msgs
}

func msgTypes(msgs []Message) string {
	names := make([]string, len(msgs))
	for i, m := range msgs {
		names[i] = m.Type
	}
	return strings.Join(names, ",")
}

func TestForward_OrderAndShape(t *testing.T) {
	m, _ := newTestMux(t)
	msgs := forward(t, m, feed(
		agent.Event{Type: agent.EventSystem, Subtype: "init"},
		agent.Event{Type: agent.EventText, Text: "Let me run that."},
		agent.Event{Type: agent.EventToolUse, ToolUse: &agent.ToolUse{ID: "t1", Name: "exec_code", Input: json.RawMessage(`{"code":"1+1"}`)}},
		agent.Event{Type: agent.EventToolResult, ToolResult: &tools.ToolResult{CallID: "t1", Content: []tools.Content{{Type: "text", Text: "2"}}}},
		agent.Event{Type: agent.EventResult, Result: &agent.ResultSummary{TotalCostUSD: 0.01234, DurationMS: 1500}},
	))

	if got, want := msgTypes(msgs), "system,agent,tool_use,tool_result,cost,done"; got != want {
		t.Fatalf("messages = %s, want %s", got, want)
	}
	if msgs[0].Content != "[System: init]" {
		t.Errorf("system content = %q", msgs[0].Content)
	}
	if msgs[4].Content != "Cost: $0.0123, Duration: 1500ms" || *msgs[4].DurationMS != 1500 {
		t.Errorf("cost = %+v", msgs[4])
	}

	data, err := json.Marshal(msgs[2])
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"type":"tool_use","block":{"type":"tool_use","id":"t1","name":"exec_code","input":{"code":"1+1"}}}`; string(data) != want {
		t.Errorf("tool_use = %s, want %s", data, want)
	}
	data, _ = json.Marshal(msgs[3])
	if want := `{"type":"tool_result","block":{"type":"tool_result","tool_use_id":"t1","content":"2","is_error":false}}`; string(data) != want {
		t.Errorf("tool_result = %s, want %s", data, want)
	}
}

func TestForward_TextPathsAnnounceArtifacts(t *testing.T) {
	m, _ := newTestMux(t)
	text := "Saved to /home/u/proj/data/fox_1.PNG and /home/u/proj/data/clip.mp4, plus /tmp/other/x.png"
	msgs := forward(t, m, feed(agent.Event{Type: agent.EventText, Text: text}))

	if got, want := msgTypes(msgs), "agent,image_downloaded,done"; got != want {
		t.Fatalf("messages = %s, want %s", got, want)
	}
	want := []string{"http://localhost:8080/data/fox_1.PNG", "http://localhost:8080/data/clip.mp4"}
	if strings.Join(msgs[1].URLs, " ") != strings.Join(want, " ") {
		t.Errorf("urls = %v, want %v", msgs[1].URLs, want)
	}
}

func TestForward_ScansStorageDir(t *testing.T) {
	m, dir := newTestMux(t)
	path := filepath.Join(dir, "foo.png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Now().Add(-5 * time.Second)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	msgs := forward(t, m, feed(agent.Event{Type: agent.EventResult, Result: &agent.ResultSummary{}}))
	if got, want := msgTypes(msgs), "cost,image_downloaded,done"; got != want {
		t.Fatalf("messages = %s, want %s", got, want)
	}
	if len(msgs[1].URLs) != 1 || !strings.HasSuffix(msgs[1].URLs[0], "/data/foo.png") {
		t.Errorf("urls = %v", msgs[1].URLs)
	}
}

func TestForward_AlwaysEndsWithDone(t *testing.T) {
	m, _ := newTestMux(t)

	if got := msgTypes(forward(t, m, nil)); got != "done" {
		t.Errorf("nil channel: messages = %s, want done", got)
	}
	if got := msgTypes(forward(t, m, feed())); got != "done" {
		t.Errorf("empty channel: messages = %s, want done", got)
	}

	msgs := forward(t, m, feed(agent.Event{Type: agent.EventError, Err: errors.New("backend down")}))
	if got := msgTypes(msgs); got != "error,done" {
		t.Fatalf("messages = %s, want error,done", got)
	}
	if msgs[0].Content != "Agent error: backend down" {
		t.Errorf("error content = %q", msgs[0].Content)
	}
}

func TestForward_SendErrorStops(t *testing.T) {
	m, _ := newTestMux(t)
	boom := errors.New("socket closed")
	calls := 0
	_, err := m.Forward(context.Background(), feed(
		agent.Event{Type: agent.EventText, Text: "a"},
		agent.Event{Type: agent.EventText, Text: "b"},
	), func(Message) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Errorf("err = %v after %d sends, want socket closed after 1", err, calls)
	}
}

func TestForward_ContextCancel(t *testing.T) {
	m, _ := newTestMux(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	never := make(chan agent.Event)
	if _, err := m.Forward(ctx, never, func(Message) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestForward_Stats(t *testing.T) {
	m, _ := newTestMux(t)
	st, _ := m.Forward(context.Background(), feed(
		agent.Event{Type: agent.EventText, Text: "see /x/data/a.png"},
		agent.Event{Type: agent.EventError, Err: errors.New("x")},
	), func(Message) error { return nil })
	if !st.Failed || st.Artifacts != 1 || st.Messages != 4 {
		t.Errorf("stats = %+v, want failed with 1 artifact and 4 messages", st)
	}
}
