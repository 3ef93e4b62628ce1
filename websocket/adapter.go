package websocket

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"livecast-signaling-server/domain"
	"livecast-signaling-server/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // enough for SDP payloads
)

var (
	ErrClosed   = errors.New("websocket: connection closed")
	ErrSendFull = errors.New("websocket: send buffer full")
)

// Conn adapts a gorilla websocket connection to domain.Connection. All
// writes go through a buffered channel drained by a single write pump, so
// sends never block a broadcast and per-connection ordering is preserved.
type Conn struct {
	ws       *websocket.Conn
	send     chan []byte
	closed   atomic.Bool
	registry domain.Registry
	handler  domain.MessageHandler
}

func NewConn(ws *websocket.Conn, registry domain.Registry, handler domain.MessageHandler) *Conn {
	return &Conn{
		ws:       ws,
		send:     make(chan []byte, 256),
		registry: registry,
		handler:  handler,
	}
}

func (c *Conn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

// Send queues data for delivery. A closing connection or a full buffer
// drops the message; callers treat both as "destination unreachable".
func (c *Conn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendFull
	}
}

func (c *Conn) Close() error {
	c.closed.Store(true)
	return c.ws.Close()
}

func (c *Conn) Start() {
	metrics.ConnectionsActive.Inc()
	go c.writePump()
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.closed.Store(true)
		c.registry.Disconnect(c)
		c.ws.Close()
		metrics.ConnectionsActive.Dec()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "remote", c.RemoteAddr(), "error", err)
			}
			return
		}

		c.handler.Handle(c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
