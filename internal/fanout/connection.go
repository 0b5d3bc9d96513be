package fanout

import (
	"sync"
	"time"

	"github.com/chattingus/realtime/internal/auth"
)

// outboundQueueSize bounds the per-connection send queue. A subscriber
// that falls this far behind is treated as stale and disconnected.
const outboundQueueSize = 64

// Connection is a live bidirectional channel bound to exactly one
// identity. It is owned by the Registry: created on Register, destroyed
// on Deregister.
type Connection struct {
	ID        string
	Identity  auth.Identity
	CreatedAt time.Time

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newConnection(id string, identity auth.Identity) *Connection {
	return &Connection{
		ID:        id,
		Identity:  identity,
		CreatedAt: time.Now(),
		send:      make(chan []byte, outboundQueueSize),
	}
}

// Outbound returns the FIFO queue of frames to write to the socket.
// The channel is closed when the connection is deregistered.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// enqueue pushes a frame without blocking. It reports false when the
// connection is closed or its queue is full.
func (c *Connection) enqueue(frame []byte) bool {
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

// closeSend cancels pending delivery. Idempotent.
func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.send)
}
