package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/observability"
	"github.com/rhuss/atelier/pkg/session"
	"github.com/rhuss/atelier/pkg/stream"
)

// errClosed is returned by Send after the write pump stopped.
var errClosed = errors.New("ws: connection closed")

var _ session.Sender = (*conn)(nil)

// conn is one client connection.
type conn struct {
	id  string
	ws  *websocket.Conn
	cfg Config

	send chan stream.Message
	done chan struct{}
	once sync.Once
}

func newConn(id string, ws *websocket.Conn, cfg Config) *conn {
	return &conn{
		id:   id,
		ws:   ws,
		cfg:  cfg,
		send: make(chan stream.Message, cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues msg for the write pump. It blocks while the buffer is full.
func (c *conn) Send(ctx context.Context, msg stream.Message) error {
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) stop() {
	c.once.Do(func() { close(c.done) })
}

// writePump writes queued messages and keepalive pings until ctx is
// cancelled or a write fails. On exit it closes done and cancels the
// connection.
func (c *conn) writePump(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.stop()
		cancel()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				slog.Warn("websocket write failed", "conn", c.id, "error", err.Error())
				return
			}
			observability.MessagesSentTotal.WithLabelValues(msg.Type).Inc()
			debug.Trace("http", "frame sent", "conn", c.id, "type", msg.Type)

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				debug.Log("http", "ping failed", "conn", c.id, "error", err.Error())
				return
			}

		case <-ctx.Done():
			c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(c.cfg.WriteWait),
			)
			return
		}
	}
}

// readLoop hands every frame to sess until the peer goes away, a read
// deadline passes or the write pump stops.
func (c *conn) readLoop(sess *session.Session) {
	c.ws.SetReadLimit(c.cfg.ReadLimit)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read failed", "conn", c.id, "error", err.Error())
			}
			return
		}
		// Any inbound frame proves liveness.
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		sess.Handle(data)
	}
}
