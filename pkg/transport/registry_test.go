package transport

import (
	"strings"
	"testing"

	"github.com/concordkv/concord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnectionIDShape(t *testing.T) {
	a := NewConnectionID("10.0.0.1:53122")
	b := NewConnectionID("10.0.0.1:53122")

	assert.True(t, strings.HasSuffix(a, "_10.0.0.1_53122"))
	assert.NotEqual(t, a, b, "two streams from the same peer address must get distinct ids")
}

func TestPushDeliversInOrder(t *testing.T) {
	r := NewConnectionRegistry()
	conn := r.Register(types.Connection{ID: "c1"})

	r.Push("c1", &Envelope{Type: "First"})
	r.Push("c1", &Envelope{Type: "Second"})

	assert.Equal(t, "First", (<-conn.outbound()).Type)
	assert.Equal(t, "Second", (<-conn.outbound()).Type)
}

func TestPushToUnknownConnectionIsDropped(t *testing.T) {
	r := NewConnectionRegistry()
	r.Push("nope", &Envelope{Type: "X"}) // must not panic
}

func TestPushAfterUnregisterIsDropped(t *testing.T) {
	r := NewConnectionRegistry()
	conn := r.Register(types.Connection{ID: "c1"})
	r.Unregister("c1")

	assert.False(t, conn.Push(&Envelope{Type: "X"}), "push on a closed connection reports undelivered")
	r.Push("c1", &Envelope{Type: "X"})
	assert.Zero(t, r.Count())
}

func TestPushBackpressureDoesNotBlock(t *testing.T) {
	r := NewConnectionRegistry()
	conn := r.Register(types.Connection{ID: "c1"})

	// Fill the outbound buffer with nothing draining it; the overflowing
	// push must report false instead of blocking the caller.
	delivered := true
	for i := 0; i < 1024 && delivered; i++ {
		delivered = conn.Push(&Envelope{Type: "Flood"})
	}
	assert.False(t, delivered)
}

func TestServiceSubscriptionIndex(t *testing.T) {
	r := NewConnectionRegistry()
	conn := r.Register(types.Connection{ID: "c1"})
	r.Register(types.Connection{ID: "c2"})

	svc := types.ServiceID{Namespace: "public", Group: "DEFAULT", Name: "web"}
	conn.SubscribeService(svc)

	assert.Equal(t, []string{"c1"}, r.ConnectionsSubscribedToService(svc))

	conn.UnsubscribeService(svc)
	assert.Empty(t, r.ConnectionsSubscribedToService(svc))
}

func TestUnregisterClosesOutbound(t *testing.T) {
	r := NewConnectionRegistry()
	conn := r.Register(types.Connection{ID: "c1"})
	r.Unregister("c1")

	_, open := <-conn.outbound()
	require.False(t, open, "outbound channel closes on unregister so the writer loop exits")
}
