package transport

import (
	"github.com/concordkv/concord/pkg/authgate"
	"github.com/concordkv/concord/pkg/metrics"
	"github.com/concordkv/concord/pkg/types"
)

// Endpoint distinguishes the client-facing port from the cluster-internal
// port. A handler's declared authgate.Requirement must agree with which
// endpoint it arrived on: RequirementInternal only makes sense on the
// internal endpoint, and every other tier is refused there, so a stolen
// bearer token can never reach internal-only operations and a forged
// server identity header can never reach client operations.
type Endpoint int

const (
	EndpointClient Endpoint = iota
	EndpointInternal
)

// RequestContext carries per-request state a handler needs beyond the
// envelope body: the connection it arrived on (nil for a connectionless
// Unary call), the identity the Auth Gate resolved, and which endpoint
// received it.
type RequestContext struct {
	Conn     *Connection
	Identity *authgate.Identity
	Endpoint Endpoint
}

// HandlerFunc handles one envelope type's decoded body and returns the
// value to encode as the response body.
type HandlerFunc func(rc *RequestContext, body []byte) (interface{}, error)

// HandlerEntry pairs a handler with the auth tier it requires.
type HandlerEntry struct {
	Handler     HandlerFunc
	Requirement authgate.Requirement
}

// Dispatcher is the Handler Dispatch table: envelope Type to handler,
// with the Auth Gate consulted before the handler ever runs.
type Dispatcher struct {
	gate     *authgate.Gate
	handlers map[string]HandlerEntry
}

// NewDispatcher creates a Dispatcher enforcing requirements through gate.
func NewDispatcher(gate *authgate.Gate) *Dispatcher {
	return &Dispatcher{gate: gate, handlers: make(map[string]HandlerEntry)}
}

// Register adds a handler for envelope type t.
func (d *Dispatcher) Register(t string, req authgate.Requirement, fn HandlerFunc) {
	d.handlers[t] = HandlerEntry{Handler: fn, Requirement: req}
}

// Dispatch resolves the handler for env.Type, enforces the endpoint/tier
// cross-check and the Auth Gate, and invokes it. An envelope whose Type
// has no registered handler is rejected as a validation error rather
// than silently dropped.
func (d *Dispatcher) Dispatch(rc *RequestContext, env *Envelope) (interface{}, error) {
	resp, err := d.dispatch(rc, env)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RequestsTotal.WithLabelValues(env.Type, status).Inc()
	return resp, err
}

func (d *Dispatcher) dispatch(rc *RequestContext, env *Envelope) (interface{}, error) {
	entry, ok := d.handlers[env.Type]
	if !ok {
		return nil, types.NewError(types.KindValidation, "unknown request type %q", env.Type)
	}

	isInternalReq := entry.Requirement.Kind == authgate.RequirementInternal
	if isInternalReq && rc.Endpoint != EndpointInternal {
		return nil, types.NewError(types.KindPermissionDenied, "%q is only served on the cluster-internal endpoint", env.Type)
	}
	if !isInternalReq && rc.Endpoint == EndpointInternal {
		return nil, types.NewError(types.KindPermissionDenied, "%q is not served on the cluster-internal endpoint", env.Type)
	}

	identity, err := d.gate.Check(entry.Requirement, env.Headers)
	if err != nil {
		return nil, err
	}
	rc.Identity = identity

	return entry.Handler(rc, env.Body)
}
