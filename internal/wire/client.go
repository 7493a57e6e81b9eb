package wire

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 256 * 1024
	sendBuffer = 256
)

// Close codes on the websocket.
const (
	CloseAuthFailure = 1008
	CloseShutdown    = 1001
	CloseServerError = 1011
)

// Client is one websocket connection: a read pump that dispatches into
// typed handlers and a single writer goroutine serving a bounded
// outbound queue. It implements registry.Connection.
type Client struct {
	id     string
	userID string

	srv  *Server
	conn *websocket.Conn
	send chan []byte

	// closed signals the write pump to stop; buffered so the first
	// closer never blocks.
	closed chan int
}

func newClient(srv *Server, conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		srv:    srv,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan int, 1),
	}
}

func (c *Client) ID() string { return c.id }

// Deliver enqueues an encoded event for this connection. It never
// blocks: if the bounded queue is full the session is closed with a
// server-error status rather than stalling the broadcast fan-out.
func (c *Client) Deliver(event string, data map[string]any) {
	c.enqueue(encode(event, data))
}

func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.srv.log.Warn("outbound queue overflow, closing session",
			zap.String("conn", c.id), zap.String("user", c.userID))
		c.closeWith(CloseServerError)
	}
}

// closeWith requests connection shutdown with the given status code.
func (c *Client) closeWith(code int) {
	select {
	case c.closed <- code:
	default:
	}
}

// readPump reads frames until the connection dies, routing each into
// the server's event handlers. It owns connection teardown: on exit the
// session leaves its rooms (notifying peers) and is unregistered.
func (c *Client) readPump() {
	defer func() {
		c.srv.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.srv.log.Debug("read error", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			// Malformed envelope: error reply, connection stays open.
			c.enqueue(protocolError("", "malformed envelope"))
			continue
		}
		c.srv.route(c, env)
	}
}

// writePump is the single writer for this socket, serving the bounded
// queue plus keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case code := <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, ""))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
