package transport

import (
	"context"
	"net"
	"strconv"

	"github.com/concordkv/concord/pkg/clog"
	"github.com/concordkv/concord/pkg/metrics"
	"github.com/concordkv/concord/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
)

// Server owns the bidirectional-streaming RPC core: it dials the
// Dispatcher and ConnectionRegistry into two independent gRPC listeners,
// one for client traffic and one for cluster-internal traffic, so
// Internal handlers are never reachable on the client-facing port and
// vice versa.
type Server struct {
	dispatcher *Dispatcher
	conns      *ConnectionRegistry

	clientGRPC   *grpc.Server
	internalGRPC *grpc.Server
}

// NewServer creates a Server. Call Start and StartInternal to bring up
// the two listeners; both may be called from goroutines since each
// blocks until its grpc.Server stops serving.
func NewServer(dispatcher *Dispatcher, conns *ConnectionRegistry) *Server {
	return &Server{
		dispatcher:   dispatcher,
		conns:        conns,
		clientGRPC:   grpc.NewServer(grpc.UnaryInterceptor(RecoveryUnaryInterceptor()), grpc.StreamInterceptor(RecoveryStreamInterceptor())),
		internalGRPC: grpc.NewServer(grpc.UnaryInterceptor(RecoveryUnaryInterceptor()), grpc.StreamInterceptor(RecoveryStreamInterceptor())),
	}
}

// endpointServer binds the Server's shared dispatch logic to one of the
// two listeners' fixed Endpoint, satisfying TransportServer.
type endpointServer struct {
	*Server
	endpoint Endpoint
}

// Start begins serving the client-facing endpoint on addr. It blocks
// until the listener is closed by Stop.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return types.Wrap(types.KindInternal, err, "transport: failed to listen on client endpoint %s", addr)
	}
	ep := &endpointServer{Server: s, endpoint: EndpointClient}
	s.clientGRPC.RegisterService(&ServiceDesc, ep)
	logger := clog.WithComponent("transport")
	logger.Info().Str("addr", addr).Msg("client endpoint listening")
	return s.clientGRPC.Serve(lis)
}

// StartInternal begins serving the cluster-internal endpoint on addr. It
// blocks until the listener is closed by Stop.
func (s *Server) StartInternal(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return types.Wrap(types.KindInternal, err, "transport: failed to listen on internal endpoint %s", addr)
	}
	ep := &endpointServer{Server: s, endpoint: EndpointInternal}
	s.internalGRPC.RegisterService(&ServiceDesc, ep)
	logger := clog.WithComponent("transport")
	logger.Info().Str("addr", addr).Msg("internal endpoint listening")
	return s.internalGRPC.Serve(lis)
}

// Stop gracefully drains both listeners, letting in-flight handlers
// finish up to gRPC's own drain behavior.
func (s *Server) Stop() {
	s.clientGRPC.GracefulStop()
	s.internalGRPC.GracefulStop()
}

// Unary serves a connectionless request/response exchange: no Connection
// is created, so handlers that dereference rc.Conn (ConnectionSetup,
// subscriptions) are not reachable over this RPC. It exists for
// cluster-internal peer calls (Distro Sync/Verify/Snapshot) and any
// client call that doesn't need a standing subscription.
func (e *endpointServer) Unary(ctx context.Context, env *Envelope) (*Envelope, error) {
	rc := &RequestContext{Endpoint: e.endpoint}
	resp, err := e.dispatcher.Dispatch(rc, env)
	return envelopeFor(env, resp, err), nil
}

// Stream serves the bidirectional RPC backing every client session: the
// first envelope must be ConnectionSetup, after which requests are
// dispatched one at a time in arrival order (strict per-connection
// inbound FIFO) while a dedicated writer goroutine drains the
// Connection's outbound channel so enqueued pushes and in-stream
// responses are delivered in one strict order without the reader ever
// blocking on a slow client.
func (e *endpointServer) Stream(stream TransportStreamServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Type != TypeConnectionSetup {
		return types.NewError(types.KindValidation, "first envelope on a stream must be %q, got %q", TypeConnectionSetup, first.Type)
	}

	setup, err := decodeBody[ConnectionSetupRequest](first.Body)
	if err != nil {
		return err
	}

	remoteIP, remotePort := remoteAddrOf(stream.Context())
	connID := NewConnectionID(net.JoinHostPort(remoteIP, remotePort))
	identity := types.Connection{
		ID:         connID,
		Labels:     setup.Labels,
		Version:    setup.ClientVersion,
		Namespace:  setup.Namespace,
		RemoteIP:   remoteIP,
		RemotePort: atoiPortOrZero(remotePort),
	}
	conn := e.conns.Register(identity)
	defer e.conns.Unregister(connID)

	log := clog.WithConnection(connID)
	log.Info().Str("namespace", identity.Namespace).Str("version", identity.Version).Msg("connection established")
	defer log.Info().Msg("connection closed")

	done := make(chan struct{})
	go e.writeLoop(stream, conn, done)
	defer func() { <-done }()

	rc := &RequestContext{Conn: conn, Endpoint: e.endpoint}
	resp, dErr := e.dispatcher.Dispatch(rc, first)
	conn.Push(envelopeFor(first, resp, dErr))

	for {
		env, err := stream.Recv()
		if err != nil {
			return nil
		}
		resp, dErr := e.dispatcher.Dispatch(rc, env)
		conn.Push(envelopeFor(env, resp, dErr))
	}
}

// writeLoop is the sole writer on stream for this connection's lifetime,
// draining whatever the reader and the Notifier enqueue onto conn's
// outbound channel until it is closed on Unregister.
func (e *endpointServer) writeLoop(stream TransportStreamServer, conn *Connection, done chan struct{}) {
	defer close(done)
	for env := range conn.outbound() {
		if err := stream.Send(env); err != nil {
			metrics.PushesTotal.WithLabelValues("send_error").Inc()
			return
		}
	}
}

func remoteAddrOf(ctx context.Context) (ip, port string) {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown", "0"
	}
	host, portStr, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String(), "0"
	}
	return host, portStr
}

func atoiPortOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
