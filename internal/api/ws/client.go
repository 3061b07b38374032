package ws

import (
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/SAISURYACHARAN89/codesync/internal/shared/id"
)

// Close reasons, also used as the disconnect metric label.
const (
	reasonClosed       = "closed"
	reasonReadError    = "read-error"
	reasonWriteError   = "write-error"
	reasonSlowConsumer = "slow-consumer"
	reasonShutdown     = "shutdown"
)

// client is one websocket connection. It is the member's broadcast.Handle:
// frames are queued on send and written by the connection's write loop.
type client struct {
	member  id.MemberID
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
	reason string
}

func newClient(member id.MemberID, conn *websocket.Conn, buffer int, limiter *rate.Limiter) *client {
	return &client{
		member:  member,
		conn:    conn,
		send:    make(chan []byte, buffer),
		limiter: limiter,
	}
}

// Deliver queues frame without blocking. A full queue means the peer is not
// keeping up; the client is closed and the frame reported as dropped.
func (c *client) Deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.closeLocked(reasonSlowConsumer)
		return false
	}
}

// Close stops the write loop. The first reason wins.
func (c *client) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(reason)
}

func (c *client) closeLocked(reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.reason = reason
	close(c.send)
}

// Reason returns why the client was closed, or "" while open.
func (c *client) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func closeCode(reason string) int {
	switch reason {
	case reasonSlowConsumer:
		return websocket.CloseTryAgainLater
	case reasonShutdown:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseNormalClosure
	}
}
