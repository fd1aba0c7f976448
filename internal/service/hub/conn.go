package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	// Close codes for the two connection-local violations. Both are
	// visible to the client only as an abrupt close with this reason.
	closeBackpressure     = websocket.ClosePolicyViolation
	closeHeartbeatTimeout = 4000
)

// backpressureError is returned by enqueue when a connection's outbound
// backlog exceeds the hub's byte budget.
type backpressureError struct{}

func (backpressureError) Error() string { return "outbound buffer over budget" }

// Conn is one admitted streaming connection. All writes to the underlying
// websocket happen on its writePump goroutine; the hub only ever enqueues.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte
	ping chan struct{}
	done chan struct{}

	// pending counts enqueued-but-unflushed payload bytes. The hub checks
	// it before every broadcast send.
	pending atomic.Int64

	// alive is cleared by each heartbeat sweep and set again by the pong
	// the client returns. Two silent sweeps in a row mean eviction.
	alive atomic.Bool

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:   ws,
		send: make(chan []byte, 32),
		ping: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// enqueue hands a payload to the writer without ever blocking the caller.
// It fails with a backpressure error when the byte budget or the channel
// itself is exhausted.
func (c *Conn) enqueue(payload []byte, maxBuffered int64) error {
	if c.pending.Load()+int64(len(payload)) > maxBuffered {
		return backpressureError{}
	}
	select {
	case c.send <- payload:
		c.pending.Add(int64(len(payload)))
		return nil
	default:
		return backpressureError{}
	}
}

// requestPing asks the writer to send a ping frame. Dropping the request
// when one is already queued is fine; the next sweep retries.
func (c *Conn) requestPing() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// close sends a close frame with the given status and tears the transport
// down. Safe to call from any goroutine, any number of times.
func (c *Conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump serializes all frame writes for this connection.
func (c *Conn) writePump() {
	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.TextMessage, payload)
			c.pending.Add(-int64(len(payload)))
			if err != nil {
				c.close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-c.ping:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}
