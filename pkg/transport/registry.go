package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/concordkv/concord/pkg/clog"
	"github.com/concordkv/concord/pkg/metrics"
	"github.com/concordkv/concord/pkg/types"
)

var connEpoch int64

// NewConnectionID mints a "{epoch}_{remote-ip}_{remote-port}"
// connection identity. epoch is a process-local monotonic counter rather
// than wall-clock time, so two connections from the same peer address in
// the same process are always distinguishable even at clock granularity.
func NewConnectionID(remoteAddr string) string {
	epoch := atomic.AddInt64(&connEpoch, 1)
	host, port, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host, port = remoteAddr, "0"
	}
	return fmt.Sprintf("%d_%s_%s", epoch, host, port)
}

// ConnectionRegistry is the Connection Registry: every live stream
// connection, keyed by id, reachable for push fan-out. It is deliberately
// the only component that can reach a connection directly; the
// Subscriber/Watcher Index only ever answers "which connection ids care
// about this key", never holds a reference to a Connection itself.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionRegistry creates an empty Connection Registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[string]*Connection)}
}

// Register admits a new connection under identity.ID.
func (r *ConnectionRegistry) Register(identity types.Connection) *Connection {
	conn := newConnection(identity)
	r.mu.Lock()
	r.conns[identity.ID] = conn
	r.mu.Unlock()
	metrics.ConnectionsActive.Inc()
	return conn
}

// Unregister drops a connection and closes its outbound channel.
func (r *ConnectionRegistry) Unregister(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	conn.close()
	metrics.ConnectionsActive.Dec()
}

// Get returns the connection for id, if still live.
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Push delivers env to connID's outbound channel. A failed push (unknown
// connection, closed, or backpressured) is logged and counted but never
// returned as an error: a push is best-effort by design, since a
// disconnected or slow subscriber must not hold up whatever state change
// triggered the notification.
func (r *ConnectionRegistry) Push(connID string, env *Envelope) {
	conn, ok := r.Get(connID)
	if !ok {
		metrics.PushesTotal.WithLabelValues("no_connection").Inc()
		return
	}
	if conn.Push(env) {
		metrics.PushesTotal.WithLabelValues("ok").Inc()
		return
	}
	metrics.PushesTotal.WithLabelValues("dropped").Inc()
	logger := clog.WithConnection(connID)
	logger.Warn().Str("type", env.Type).Msg("push dropped, outbound buffer full")
}

// ConnectionsSubscribedToService returns the ids of every connection
// currently holding a service-instance subscription for id, the
// service-discovery counterpart of subscriber.Index.SubscribersFor.
func (r *ConnectionRegistry) ConnectionsSubscribedToService(id types.ServiceID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for connID, conn := range r.conns {
		if conn.SubscribedToService(id) {
			out = append(out, connID)
		}
	}
	return out
}

// Count returns the number of currently registered connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
