package signaling

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 1 * time.Second

// wsConn wraps a gorilla connection with a bounded outbound queue and a write
// pump, so a slow consumer can never block the goroutine routing to it.
type wsConn struct {
	sock *websocket.Conn

	pingInterval time.Duration

	mu     sync.Mutex
	closed bool
	send   chan []byte

	once sync.Once
}

func newWSConn(sock *websocket.Conn, queueSize int, pingInterval time.Duration) *wsConn {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &wsConn{
		sock:         sock,
		pingInterval: pingInterval,
		send:         make(chan []byte, queueSize),
	}
}

// Enqueue queues an envelope for delivery. It never blocks: a send after Kill
// reports ErrConnClosed and a full queue reports ErrSendQueueFull, so the
// caller can tell a benign late send from a consumer that has fallen behind.
func (c *wsConn) Enqueue(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("signaling: encode %s: %w", env.Type, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Kill tears the connection down: no further Enqueue succeeds, the write pump
// drains and exits, and the blocked reader wakes with an error.
func (c *wsConn) Kill() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

// closeWith sends a close frame before teardown so well-behaved clients can
// observe the reason.
func (c *wsConn) closeWith(code int, reason string) {
	_ = c.sock.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// writePump owns all writes to the socket. It exits when Kill is called or a
// write fails, closing the socket either way so the reader unblocks.
func (c *wsConn) writePump() {
	var ticker *time.Ticker
	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker = time.NewTicker(c.pingInterval)
		ping = ticker.C
		defer ticker.Stop()
	}
	defer c.sock.Close()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.sock.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
				return
			}
			_ = c.sock.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Kill()
				// Drain so Kill's close(send) cannot strand queued frames.
				for range c.send {
				}
				return
			}
		case <-ping:
			_ = c.sock.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Kill()
				for range c.send {
				}
				return
			}
		}
	}
}
