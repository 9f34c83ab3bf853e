package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rhuss/atelier/pkg/agent"
	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/observability"
	"github.com/rhuss/atelier/pkg/sandbox"
	"github.com/rhuss/atelier/pkg/stream"
)

// ErrBusy is reported when the query queue is full.
var ErrBusy = errors.New("session busy")

// DefaultQueueSize bounds pending jobs per session.
const DefaultQueueSize = 8

// Sender delivers outbound messages for one connection.
type Sender interface {
	Send(ctx context.Context, msg stream.Message) error
}

// Config holds per-session settings.
type Config struct {
	QueueSize int
	Reminder  bool
}

// ModelRun records one model execution made by sandboxed code.
type ModelRun struct {
	Model  string
	Prompt string
	At     time.Time
}

type job struct {
	kind   string
	prompt string
}

var _ sandbox.Recorder = (*Session)(nil)

// Session is one client's conversation.
type Session struct {
	id      string
	cfg     Config
	factory agent.BridgeFactory
	mux     *stream.Multiplexer
	out     Sender

	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	bridgeMu sync.Mutex
	bridge   agent.Bridge

	// Model activity of this session's sandbox runs; reset by clear.
	mu        sync.Mutex
	inspected []string
	lastRun   *ModelRun

	closeOnce sync.Once
}

func newSession(ctx context.Context, id string, cfg Config, factory agent.BridgeFactory, mux *stream.Multiplexer, out Sender) (*Session, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	s := &Session{
		id:      id,
		cfg:     cfg,
		factory: factory,
		mux:     mux,
		out:     out,
		queue:   make(chan job, cfg.QueueSize),
		done:    make(chan struct{}),
	}

	b, err := factory.NewBridge(s)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	s.bridge = b

	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.work()
	return s, nil
}

// ID returns the connection identifier.
func (s *Session) ID() string {
	return s.id
}

// Bridge returns the current bridge.
func (s *Session) Bridge() agent.Bridge {
	s.bridgeMu.Lock()
	defer s.bridgeMu.Unlock()
	return s.bridge
}

// Handle processes one inbound frame. It never blocks on a running query.
func (s *Session) Handle(data []byte) {
	in, err := ParseInbound(data)
	if err != nil {
		debug.Log("session", "rejected inbound message", "session", s.id, "error", err.Error())
		s.send(stream.Error(err.Error()))
		return
	}

	switch in.Type {
	case TypePing:
		s.send(stream.Pong())
	case TypeClear:
		s.enqueue(job{kind: TypeClear})
	case TypeChat:
		s.enqueue(job{kind: TypeChat, prompt: in.Message})
	}
}

func (s *Session) enqueue(j job) {
	if s.ctx.Err() != nil {
		return
	}
	select {
	case s.queue <- j:
		debug.Log("session", "job queued", "session", s.id, "kind", j.kind, "pending", len(s.queue))
	default:
		if j.kind == TypeChat {
			observability.QueriesTotal.WithLabelValues("rejected").Inc()
		}
		s.send(stream.Error(ErrBusy.Error()))
	}
}

func (s *Session) send(msg stream.Message) {
	if err := s.out.Send(s.ctx, msg); err != nil {
		debug.Log("session", "send failed", "session", s.id, "type", msg.Type, "error", err.Error())
	}
}

// work runs queued jobs in order until the session closes.
func (s *Session) work() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case j := <-s.queue:
			switch j.kind {
			case TypeChat:
				s.runQuery(j.prompt)
			case TypeClear:
				s.reset()
			}
		}
	}
}

func (s *Session) runQuery(prompt string) {
	start := time.Now()
	if s.cfg.Reminder && NeedsReminder(prompt) {
		prompt = WithReminder(prompt, s.InspectedModels(), s.LastRun())
	}

	events, err := s.Bridge().Query(s.ctx, prompt)
	status := "ok"
	if err != nil {
		status = "error"
		slog.Warn("query failed to start", "session", s.id, "error", err.Error())
		s.send(stream.Error("Agent error: " + err.Error()))
	}

	st, err := s.mux.Forward(s.ctx, events, func(msg stream.Message) error {
		return s.out.Send(s.ctx, msg)
	})
	if err != nil {
		status = "error"
		debug.Log("session", "forward stopped", "session", s.id, "error", err.Error())
	} else if st.Failed {
		status = "error"
	}

	elapsed := time.Since(start)
	observability.QueriesTotal.WithLabelValues(status).Inc()
	observability.QueryDuration.Observe(elapsed.Seconds())
	debug.Log("session", "query done",
		"session", s.id,
		"status", status,
		"messages", st.Messages,
		"artifacts", st.Artifacts,
		"elapsed", elapsed,
	)
}

// reset replaces the bridge and forgets the session's model activity.
func (s *Session) reset() {
	nb, err := s.factory.NewBridge(s)
	if err != nil {
		slog.Error("clear failed", "session", s.id, "error", err.Error())
		s.send(stream.Error("Failed to clear conversation: " + err.Error()))
		return
	}

	s.bridgeMu.Lock()
	old := s.bridge
	s.bridge = nb
	s.bridgeMu.Unlock()
	if err := old.Close(); err != nil {
		slog.Warn("closing bridge", "session", s.id, "error", err.Error())
	}

	s.mu.Lock()
	s.inspected = nil
	s.lastRun = nil
	s.mu.Unlock()

	debug.Log("session", "conversation cleared", "session", s.id)
	s.send(stream.System("Conversation cleared"))
}

// Close stops the worker, drops queued jobs and closes the bridge. It is
// safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		err = s.Bridge().Close()
	})
	return err
}

// RecordModelInfo implements sandbox.Recorder.
func (s *Session) RecordModelInfo(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.inspected, model) {
		s.inspected = append(s.inspected, model)
	}
}

// RecordModelRun implements sandbox.Recorder.
func (s *Session) RecordModelRun(model, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = &ModelRun{Model: model, Prompt: prompt, At: time.Now()}
}

// InspectedModels returns the models whose info was looked up, in order.
func (s *Session) InspectedModels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.inspected)
}

// LastRun returns the last model execution, or nil.
func (s *Session) LastRun() *ModelRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	r := *s.lastRun
	return &r
}
