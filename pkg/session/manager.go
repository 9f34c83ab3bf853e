package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rhuss/atelier/pkg/agent"
	"github.com/rhuss/atelier/pkg/observability"
	"github.com/rhuss/atelier/pkg/stream"
)

// Manager tracks the sessions of all connected clients.
type Manager struct {
	factory agent.BridgeFactory
	mux     *stream.Multiplexer
	cfg     Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
func NewManager(factory agent.BridgeFactory, mux *stream.Multiplexer, cfg Config) *Manager {
	return &Manager{
		factory:  factory,
		mux:      mux,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Open creates the session for connection id. The session lives until
// Close(id) or until ctx is cancelled.
func (m *Manager) Open(ctx context.Context, id string, out Sender) (*Session, error) {
	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s already open", id)
	}
	m.mu.Unlock()

	s, err := newSession(ctx, id, m.cfg, m.factory, m.mux, out)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	observability.SessionsActive.Inc()
	return s, nil
}

// Get returns the session for id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close tears down the session for id.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	observability.SessionsActive.Dec()
	return s.Close()
}

// CloseAll tears down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Close(id)
	}
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
