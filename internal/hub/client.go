// Package hub tracks connected clients and the named channels they belong
// to, and fans frames out to channel members without blocking the sender.
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"yellorn/internal/auth"
)

// DefaultSendBuffer is the per-client outbound queue length.
const DefaultSendBuffer = 256

// Client is one connected session. Frames are queued with Enqueue and
// drained by the connection's writer from Send.
type Client struct {
	ID       string
	Identity auth.Identity
	IP       string

	mu     sync.Mutex
	send   chan []byte
	closed bool

	dropped atomic.Uint64
}

// NewClient creates a client with a fresh connection id.
func NewClient(identity auth.Identity, ip string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		ID:       uuid.NewString(),
		Identity: identity,
		IP:       ip,
		send:     make(chan []byte, buffer),
	}
}

// Enqueue queues frame without blocking. A full or closed queue drops the
// frame and returns false.
func (c *Client) Enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Send is the outbound queue. It is closed by Close.
func (c *Client) Send() <-chan []byte { return c.send }

// Close closes the outbound queue. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Dropped returns how many frames were dropped on a full queue.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }
