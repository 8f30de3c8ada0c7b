package transport

import (
	"errors"
	"sync"
	"time"

	"voiceconnect/internal/wire"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrSendBufferFull = errors.New("transport: send buffer full")
	ErrConnClosed     = errors.New("transport: connection closed")
)

const (
	sendBufferSize = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// client is one upgraded websocket connection. It implements presence.Conn;
// everything the rest of the system knows about it is the opaque id and
// Deliver.
type client struct {
	id   string
	ws   *websocket.Conn
	send chan wire.Event

	mu     sync.Mutex
	closed bool
}

func newClient(ws *websocket.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan wire.Event, sendBufferSize),
	}
}

func (c *client) ID() string { return c.id }

// Deliver enqueues without blocking. A full buffer means the consumer is
// not keeping up; the connection is closed so the reader unwinds and
// presence cleanup runs, instead of the backlog stalling the hub.
func (c *client) Deliver(ev wire.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- ev:
		return nil
	default:
		c.closed = true
		close(c.send)
		return ErrSendBufferFull
	}
}

// close stops Deliver and lets the write pump drain and exit.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump owns all writes to the socket: queued events, pings, and the
// final close frame. Runs until the send channel is closed or a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(ev); err != nil {
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
