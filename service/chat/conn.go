package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Conn 一条客户端连接。identity 字段只由事件循环读写。
type Conn struct {
	id        string
	remote    string
	createdAt time.Time

	ws      *websocket.Conn // nil for in-process connections
	send    chan []byte     // 每连接独立发送队列，写协程消费
	limiter *rate.Limiter   // nil => unlimited
	metrics *Metrics

	authUser string // token subject when the gateway runs with auth

	closed    chan struct{}
	closeOnce sync.Once
	state     atomic.Int32

	// loop-owned
	userID string
	role   string
	name   string
}

func newConn(id, remote string, queue int, limiter *rate.Limiter, m *Metrics) *Conn {
	c := &Conn{
		id:        id,
		remote:    remote,
		createdAt: time.Now(),
		send:      make(chan []byte, queue),
		limiter:   limiter,
		metrics:   m,
		closed:    make(chan struct{}),
	}
	c.state.Store(int32(StateAnonymous))
	return c
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) Remote() string { return c.remote }
func (c *Conn) State() State   { return State(c.state.Load()) }

// UserID is only stable on the event loop or after Server.Flush.
func (c *Conn) UserID() string { return c.userID }

// Outbound exposes the send queue. The websocket writer drains it; in-process
// connections and tests read it directly.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// Done is closed once the connection has been released.
func (c *Conn) Done() <-chan struct{} { return c.closed }

func (c *Conn) identify(userID, role, name string) {
	c.userID, c.role, c.name = userID, role, name
	c.setState(StateIdentified)
}

func (c *Conn) reset() {
	c.userID, c.role, c.name = "", "", ""
	c.setState(StateAnonymous)
}

// Disconnected is terminal.
func (c *Conn) setState(s State) {
	for {
		cur := c.state.Load()
		if State(cur) == StateDisconnected {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// enqueue never blocks: a full queue drops the frame.
func (c *Conn) enqueue(b []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		c.metrics.dropped()
		return false
	}
}

func (c *Conn) allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// release marks the connection closed; returns false if it already was.
func (c *Conn) release() bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.state.Store(int32(StateDisconnected))
		close(c.closed)
	})
	return first
}
