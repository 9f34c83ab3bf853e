package ws

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rhuss/atelier/pkg/session"
	"github.com/rhuss/atelier/pkg/stream"
	"github.com/rhuss/atelier/pkg/transport"
)

// Config holds WebSocket server settings.
type Config struct {
	Addr string

	// ReadLimit caps inbound frame size in bytes (default 1 MiB).
	ReadLimit int64

	// PongWait is how long the connection may stay silent (default 60s).
	PongWait time.Duration

	// PingInterval must be shorter than PongWait (default 9/10 of it).
	PingInterval time.Duration

	// WriteWait bounds one frame write (default 10s).
	WriteWait time.Duration

	// SendBuffer is the outbound queue length per connection (default 64).
	SendBuffer int

	ShutdownTimeout time.Duration
}

func (c *Config) defaults() {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
}

// Server upgrades connections on "/" and attaches a session to each.
type Server struct {
	cfg        Config
	sessions   *session.Manager
	upgrader   websocket.Upgrader
	httpServer *http.Server

	// base is the parent of every connection context. Hijacked
	// connections outlive http.Server.Shutdown, so Run cancels it.
	base   context.Context
	cancel context.CancelFunc
}

// NewServer creates a Server.
func NewServer(cfg Config, sessions *session.Manager) *Server {
	cfg.defaults()
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		base:   base,
		cancel: cancel,
	}
	s.httpServer = &http.Server{Addr: cfg.Addr, Handler: s.Handler()}
	return s
}

// Handler returns the WebSocket endpoint wrapped in request ID and
// logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", s)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	return transport.Chain(transport.RequestID(), transport.Logging(nil), transport.Recovery())(mux)
}

// ServeHTTP upgrades the request and runs the connection until the peer
// disconnects or the server stops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		slog.Debug("websocket upgrade failed", "error", err.Error())
		return
	}
	defer ws.Close()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(s.base)
	defer cancel()

	c := newConn(id, ws, s.cfg)
	sess, err := s.sessions.Open(ctx, id, c)
	if err != nil {
		slog.Error("opening session", "conn", id, "error", err.Error())
		ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
		ws.WriteJSON(stream.Error("Agent error: " + err.Error()))
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			time.Now().Add(s.cfg.WriteWait))
		return
	}
	go c.writePump(ctx, cancel)
	slog.Info("client connected", "conn", id, "remote", r.RemoteAddr, "sessions", s.sessions.Len())

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		c.readLoop(sess)
	}()

	select {
	case <-readDone:
	case <-c.done:
	}
	cancel()
	if err := s.sessions.Close(id); err != nil {
		slog.Warn("closing session", "conn", id, "error", err.Error())
	}
	<-c.done
	ws.Close()
	<-readDone
	slog.Info("client disconnected", "conn", id, "sessions", s.sessions.Len())
}

// Run serves on cfg.Addr until ctx is cancelled, then closes every
// connection.
func (s *Server) Run(ctx context.Context) error {
	defer s.cancel()
	return transport.Serve(ctx, s.httpServer, nil, s.cfg.ShutdownTimeout)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		s.cancel()
	}()
	return transport.Serve(ctx, s.httpServer, ln, s.cfg.ShutdownTimeout)
}
