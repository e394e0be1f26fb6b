package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Drop reasons reported in metrics and logs.
const (
	DropSlowConsumer = "slow_consumer"
	DropWriteError   = "write_error"
	DropShutdown     = "shutdown"
)

// Client is one downstream connection.
type Client struct {
	id          string
	remoteAddr  string
	connectedAt time.Time

	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	needsFullState atomic.Bool
	messagesSent   atomic.Int64

	closeOnce  sync.Once
	closed     chan struct{}
	dropReason atomic.Value // string
}

func newClient(id string, conn *websocket.Conn, queueSize int, limiter *rate.Limiter) *Client {
	c := &Client{
		id:          id,
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, queueSize),
		limiter:     limiter,
		closed:      make(chan struct{}),
	}
	c.needsFullState.Store(true)
	return c
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() string { return c.remoteAddr }

// ConnectedAt returns when the upgrade completed.
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

// NeedsFullState reports whether no complete snapshot has been queued to
// this client yet.
func (c *Client) NeedsFullState() bool { return c.needsFullState.Load() }

// MarkSynced clears NeedsFullState.
func (c *Client) MarkSynced() { c.needsFullState.Store(false) }

// Closed reports whether the client has been dropped.
func (c *Client) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Send queues data without blocking. It returns false, dropping the client,
// when the queue is full, and false when the client is already closed.
func (c *Client) Send(data []byte) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.close(DropSlowConsumer)
		return false
	}
}

func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// close marks the client closed and closes the socket; the first reason wins.
func (c *Client) close(reason string) {
	c.closeOnce.Do(func() {
		c.dropReason.Store(reason)
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *Client) reason() string {
	if r, ok := c.dropReason.Load().(string); ok {
		return r
	}
	return ""
}

// Info is the inspection view of a client.
type Info struct {
	ID             string    `json:"id"`
	RemoteAddr     string    `json:"remote_addr"`
	ConnectedAt    time.Time `json:"connected_at"`
	MessagesSent   int64     `json:"messages_sent"`
	NeedsFullState bool      `json:"needs_full_state"`
}

func (c *Client) info() Info {
	return Info{
		ID:             c.id,
		RemoteAddr:     c.remoteAddr,
		ConnectedAt:    c.connectedAt,
		MessagesSent:   c.messagesSent.Load(),
		NeedsFullState: c.NeedsFullState(),
	}
}
