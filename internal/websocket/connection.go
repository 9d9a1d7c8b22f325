package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/real-rm/livechat/internal/auth"
	"github.com/real-rm/livechat/internal/constants"
	"github.com/real-rm/livechat/internal/metrics"
)

// Connection is one admitted WebSocket connection. It implements presence.Peer.
type Connection struct {
	// conn is the underlying WebSocket connection
	conn *websocket.Conn

	id            string
	identity      *auth.Identity
	establishedAt time.Time

	// send is the FIFO outbound queue drained by the write pump
	send chan []byte

	// mu guards closed and the close frame, so Send never races close(send)
	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
}

func newConnection(conn *websocket.Conn, id string, identity *auth.Identity, now time.Time) *Connection {
	return &Connection{
		conn:          conn,
		id:            id,
		identity:      identity,
		establishedAt: now,
		send:          make(chan []byte, constants.SendQueueSize),
		closeCode:     websocket.CloseNormalClosure,
	}
}

// ConnectionID returns the server-generated connection ID
func (c *Connection) ConnectionID() string {
	return c.id
}

// UserID returns the authenticated user's ID
func (c *Connection) UserID() string {
	return c.identity.UserID
}

// Identity returns the identity resolved at admission
func (c *Connection) Identity() *auth.Identity {
	return c.identity
}

// EstablishedAt returns when the connection was admitted
func (c *Connection) EstablishedAt() time.Time {
	return c.establishedAt
}

// Send enqueues frame without blocking. It returns false when the
// connection is closing or its queue is full.
func (c *Connection) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// CloseWith stops accepting frames. The write pump flushes what is queued,
// then sends a close frame with code and reason.
func (c *Connection) CloseWith(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

func (c *Connection) closeFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.FormatCloseMessage(c.closeCode, c.closeReason)
}

// readPump reads client frames until the transport fails, then releases the
// connection. It owns the registry removal for this connection.
func (c *Connection) readPump(h *Handler) {
	defer h.release(c)

	c.conn.SetReadLimit(h.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(constants.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			h.logClosed(c, err)
			return
		}
		metrics.MessagesReceived.Inc()
		h.handleFrame(c, raw)
	}
}

// writePump drains the outbound queue and keeps the connection alive with pings
func (c *Connection) writePump() {
	ticker := time.NewTicker(constants.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, c.closeFrame())
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			metrics.MessagesSent.Inc()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
