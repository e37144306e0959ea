package transport

import (
	"sync"

	"github.com/concordkv/concord/pkg/types"
)

// Connection is the live half of a Connection record: the bare identity
// in types.Connection, plus the outbound push channel and the
// service-discovery subscription set that only make sense while the
// stream is open. The Subscriber/Watcher Index (pkg/subscriber) owns the
// config-key subscription and watch-pattern sets for the same
// connection id; this struct never duplicates those, only the service
// set a config Index has no notion of.
type Connection struct {
	Identity types.Connection

	mu       sync.Mutex
	out      chan *Envelope
	closed   bool
	services map[types.ServiceID]bool
}

func newConnection(identity types.Connection) *Connection {
	return &Connection{
		Identity: identity,
		out:      make(chan *Envelope, 256),
		services: make(map[types.ServiceID]bool),
	}
}

// Push enqueues env on the connection's outbound channel. It reports
// false, without blocking, if the connection is closed or its buffer is
// full — backpressure a slow or dead client must never let block the
// mutation that triggered the notification.
func (c *Connection) Push(env *Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- env:
		return true
	default:
		return false
	}
}

func (c *Connection) outbound() <-chan *Envelope {
	return c.out
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

// SubscribeService records interest in service-instance push
// notifications for id.
func (c *Connection) SubscribeService(id types.ServiceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[id] = true
}

// UnsubscribeService drops interest in id.
func (c *Connection) UnsubscribeService(id types.ServiceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.services, id)
}

// SubscribedToService reports whether this connection currently holds a
// service-instance subscription for id.
func (c *Connection) SubscribedToService(id types.ServiceID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.services[id]
}
