/*
Package transport implements Concord's bidirectional streaming RPC core:
the Envelope wire format, the Connection Registry, the Handler Dispatch
table, and the gRPC server/client wrapping them.

# Architecture

Every client (and every cluster-internal peer) speaks the same hand-rolled
gRPC service, Transport, over one of two independent endpoints:

	┌──────────────── CLIENT (SDK / CLI) ────────────────┐
	│  bidirectional Stream RPC: one Envelope in,         │
	│  zero or more Envelopes out (responses + pushes)    │
	└─────────────────────┬────────────────────────────────┘
	                      │ gRPC, client-facing port
	┌─────────────────────▼──────────── NODE ─────────────┐
	│  endpointServer{Endpoint: EndpointClient}            │
	│       │                                              │
	│       ▼                                              │
	│  Dispatcher.Dispatch ── authgate.Gate.Check ── Handlers
	│       │                                              │
	│       ▼                                              │
	│  configstore / registry / lock / distro / subscriber │
	└───────────────────────────────────────────────────────┘
	                      ▲
	                      │ gRPC, cluster-internal port
	┌─────────────────────┴──────────── PEER NODE ─────────┐
	│  PeerClient.{Sync,Verify,Snapshot} ── Unary RPC       │
	└────────────────────────────────────────────────────────┘

# Envelope

Every request and every server push is one Envelope: a routing Type, a
free-form Headers map (bearer token, cluster-internal server identity),
and a JSON Body. Keeping one wire message instead of one proto.Message
per RPC lets the handler surface grow by adding Type constants instead of
regenerating stubs — see messages.go for the full catalogue and
handlers.go for their implementations.

# Connection lifecycle

A stream's first Envelope MUST be ConnectionSetup; server.go rejects
anything else. Setup registers a Connection in the ConnectionRegistry
with a server-assigned "{epoch}_{remote-ip}_{remote-port}" id and starts
a dedicated writer goroutine draining that Connection's outbound channel
— the only path a Notifier push or an in-stream response ever travels,
so ordering within one connection's outbound stream is exactly the order
enqueued. The reader goroutine dispatches subsequent Envelopes one at a
time, preserving strict inbound FIFO per connection. On stream close
the Connection is unregistered, which cascades into pkg/subscriber and
pkg/registry by connection id.

# Auth tiers

Each handler declares one of four authgate.Requirement kinds (None,
Authenticated, Permission, Internal). Dispatcher.Dispatch enforces the
requirement and the client/internal endpoint cross-check before the
handler ever runs; a failed check never invokes the handler body.

# Cluster-internal calls

PeerClient implements pkg/distro's PeerClient interface over the Unary
RPC on the internal endpoint, so the eventual-replication protocol's
Sync/Verify/Snapshot exchanges ride the same Transport service client
requests do, just tagged with the cluster's shared server identity
instead of a bearer token.
*/
package transport
