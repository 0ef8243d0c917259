package server

import (
	"sync"

	"github.com/google/uuid"
)

// Conn tracks per-connection state and outbound delivery. Broadcasters
// never close send; done signals the end of the connection instead.
type Conn struct {
	id        string
	userID    string
	remote    string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	// rooms is owned by Registry and guarded by its lock.
	rooms map[string]struct{}
}

// NewConn creates a connection with a fresh id. userID is the identity
// authenticated at upgrade and may be empty.
func NewConn(userID, remote string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		id:     uuid.NewString(),
		userID: userID,
		remote: remote,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

// ID returns the server-assigned connection id.
func (c *Conn) ID() string { return c.id }

// UserID returns the authenticated user, or "" for anonymous connections.
func (c *Conn) UserID() string { return c.userID }

// RemoteAddr returns the peer address recorded at upgrade.
func (c *Conn) RemoteAddr() string { return c.remote }

// Outbound yields encoded frames queued for this connection.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// enqueue never blocks. It reports false when the queue is full or the
// connection is closed, in which case the frame is dropped.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close marks the connection as finished. It is safe to call repeatedly.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
