package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	maxMsgSize = 8192
	sendBuffer = 256
)

var errConnClosed = errors.New("ws: connection closed")

// envelope is the outbound JSON frame: an event name plus its payload.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Conn adapts a gorilla websocket connection to the chat transport
// interface: a buffered send queue drained by a single writer goroutine,
// with slow peers dropped rather than allowed to backpressure the room.
type Conn struct {
	id     string
	socket *websocket.Conn
	send   chan envelope
	logger *zap.Logger

	mu          sync.Mutex
	closed      bool
	closeReason string
}

func newConn(id string, socket *websocket.Conn, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		id:     id,
		socket: socket,
		send:   make(chan envelope, sendBuffer),
		logger: logger,
	}
}

// ID returns the opaque connection identifier assigned at upgrade time.
func (c *Conn) ID() string {
	return c.id
}

// Send enqueues an event for the writer goroutine. A full queue means the
// peer cannot keep up; the connection is dropped to protect the room.
func (c *Conn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- envelope{Event: event, Data: payload}:
		return nil
	default:
		c.logger.Warn("send queue full, dropping connection", zap.String("conn_id", c.id))
		c.closeLocked()
		return errConnClosed
	}
}

// Ping writes a ping control frame. Control frames may be written
// concurrently with the writer goroutine.
func (c *Conn) Ping() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errConnClosed
	}
	c.mu.Unlock()
	return c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// IsConnected reports whether the connection is still usable.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close shuts the send queue down; the writer goroutine then sends a close
// frame carrying the reason and closes the socket. Safe to call repeatedly.
func (c *Conn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closeReason = reason
	}
	c.closeLocked()
	return nil
}

func (c *Conn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump drains the send queue onto the socket. It exits when the queue
// is closed or a write fails; either way the socket ends up closed, which
// unblocks the read loop and drives teardown.
func (c *Conn) writePump() {
	defer c.socket.Close()
	for env := range c.send {
		_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.socket.WriteJSON(env); err != nil {
			return
		}
	}
	c.mu.Lock()
	reason := c.closeReason
	c.mu.Unlock()
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.socket.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
}

// readPump consumes inbound frames until the socket fails, then invokes
// onClose exactly once. Pongs and data frames both extend the read deadline.
func (c *Conn) readPump(readWait time.Duration, onEvent func(payload []byte), onPong func(), onClose func()) {
	defer func() {
		c.Close("")
		onClose()
	}()
	c.socket.SetReadLimit(maxMsgSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(readWait))
	c.socket.SetPongHandler(func(string) error {
		onPong()
		return c.socket.SetReadDeadline(time.Now().Add(readWait))
	})
	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			// Normal close or read failure; deferred cleanup handles both.
			return
		}
		_ = c.socket.SetReadDeadline(time.Now().Add(readWait))
		onEvent(payload)
	}
}
