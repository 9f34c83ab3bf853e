package stream

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/rhuss/atelier/pkg/agent"
	"github.com/rhuss/atelier/pkg/artifact"
	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/observability"
)

// SendFunc delivers one outbound message. An error stops the multiplexer.
type SendFunc func(Message) error

// ArtifactScanner finds files produced by the finished query.
type ArtifactScanner interface {
	Scan(now time.Time) ([]string, error)
	URL(name string) string
}

// Stats summarizes one forwarded query.
type Stats struct {
	Messages  int
	Artifacts int
	Failed    bool
}

// Multiplexer forwards the events of one query at a time. It is stateless
// between queries and safe for concurrent use.
type Multiplexer struct {
	scanner  ArtifactScanner
	pathExpr *regexp.Regexp
	now      func() time.Time
}

// New creates a Multiplexer. storageDir is the storage directory name as
// it appears in absolute paths mentioned by the agent.
func New(storageDir string, scanner ArtifactScanner) *Multiplexer {
	exts := make([]string, len(artifact.MediaExtensions))
	for i, e := range artifact.MediaExtensions {
		exts[i] = strings.TrimPrefix(e, ".")
	}
	expr := `(?i)/[^\s]+/` + regexp.QuoteMeta(storageDir) + `/[^\s]+\.(?:` + strings.Join(exts, "|") + `)`
	return &Multiplexer{
		scanner:  scanner,
		pathExpr: regexp.MustCompile(expr),
		now:      time.Now,
	}
}

// Forward drains events in a single pass, sending exactly one message per
// event in arrival order. Agent text that mentions artifact paths is
// followed by an image_downloaded message. When the channel is exhausted
// the storage directory is scanned, and a done message is always sent
// last. A nil channel is treated as an empty query.
func (m *Multiplexer) Forward(ctx context.Context, events <-chan agent.Event, send SendFunc) (Stats, error) {
	var st Stats
	out := func(msg Message) error {
		if err := send(msg); err != nil {
			return err
		}
		st.Messages++
		return nil
	}

	if events != nil {
	drain:
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					break drain
				}
				if ev.Type == agent.EventError {
					st.Failed = true
				}
				for _, msg := range m.translate(ev, &st) {
					if err := out(msg); err != nil {
						return st, err
					}
				}
			case <-ctx.Done():
				return st, ctx.Err()
			}
		}
	}

	if m.scanner != nil {
		urls, err := m.scanner.Scan(m.now())
		if err != nil {
			slog.Warn("artifact scan failed", "error", err.Error())
		}
		if len(urls) > 0 {
			st.Artifacts += len(urls)
			observability.ArtifactsDetectedTotal.WithLabelValues("scan").Add(float64(len(urls)))
			if err := out(Message{Type: TypeImageDownloaded, URLs: urls}); err != nil {
				return st, err
			}
		}
	}

	return st, out(Done())
}

// translate maps one event to its message, plus the image_downloaded
// message for artifact paths in agent text.
func (m *Multiplexer) translate(ev agent.Event, st *Stats) []Message {
	switch ev.Type {
	case agent.EventText:
		msgs := []Message{{Type: TypeAgent, Content: ev.Text}}
		if urls := m.pathURLs(ev.Text); len(urls) > 0 {
			st.Artifacts += len(urls)
			observability.ArtifactsDetectedTotal.WithLabelValues("text").Add(float64(len(urls)))
			msgs = append(msgs, Message{Type: TypeImageDownloaded, URLs: urls})
		}
		return msgs

	case agent.EventToolUse:
		return []Message{{Type: TypeToolUse, Block: ToolUseBlock{
			Type:  "tool_use",
			ID:    ev.ToolUse.ID,
			Name:  ev.ToolUse.Name,
			Input: ev.ToolUse.Input,
		}}}

	case agent.EventToolResult:
		return []Message{{Type: TypeToolResult, Block: ToolResultBlock{
			Type:      "tool_result",
			ToolUseID: ev.ToolResult.CallID,
			Content:   ev.ToolResult.Text(),
			IsError:   ev.ToolResult.IsError,
		}}}

	case agent.EventSystem:
		return []Message{System(fmt.Sprintf("[System: %s]", ev.Subtype))}

	case agent.EventResult:
		cost := ev.Result.TotalCostUSD
		ms := ev.Result.DurationMS
		return []Message{{
			Type:         TypeCost,
			Content:      fmt.Sprintf("Cost: $%.4f, Duration: %dms", cost, ms),
			TotalCostUSD: &cost,
			DurationMS:   &ms,
		}}

	case agent.EventError:
		msg := "unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return []Message{Error("Agent error: " + msg)}
	}

	debug.Log("session", "dropping unknown bridge event", "type", ev.Type)
	return []Message{Error(fmt.Sprintf("unknown event type %q", ev.Type))}
}

// pathURLs returns the public URLs of artifact paths mentioned in text,
// in order of appearance without duplicates.
func (m *Multiplexer) pathURLs(text string) []string {
	if m.scanner == nil {
		return nil
	}
	var urls []string
	seen := make(map[string]bool)
	for _, p := range m.pathExpr.FindAllString(text, -1) {
		u := m.scanner.URL(path.Base(p))
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}
