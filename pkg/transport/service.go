package transport

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the gRPC service path every RPC below is registered
// under. There is no .proto file backing it: ServiceDesc, the
// client/server interfaces, and the stream wrappers below are written by
// hand in the exact shape protoc-gen-go-grpc would otherwise generate,
// so Envelope values can travel over a real grpc.Server/ClientConn
// without a code-generation step.
const serviceName = "concord.transport.Transport"

// TransportServer is implemented by the Request/Response Handler side:
// one RPC for request/response exchanges that don't need a standing
// connection (used by cluster-internal peer calls), and one
// bidirectional stream for everything that does (client sessions,
// subscriptions, pushes).
type TransportServer interface {
	Unary(context.Context, *Envelope) (*Envelope, error)
	Stream(TransportStreamServer) error
}

// TransportStreamServer is the server's view of the bidirectional Stream
// RPC, typed to Envelope instead of the generic grpc.ServerStream.
type TransportStreamServer interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	grpc.ServerStream
}

type transportStreamServer struct {
	grpc.ServerStream
}

func (x *transportStreamServer) Send(m *Envelope) error { return x.ServerStream.SendMsg(m) }

func (x *transportStreamServer) Recv() (*Envelope, error) {
	m := new(Envelope)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func transportUnaryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransportServer).Unary(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Unary"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TransportServer).Unary(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

func transportStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(TransportServer).Stream(&transportStreamServer{ServerStream: stream})
}

// ServiceDesc is the hand-rolled equivalent of what protoc-gen-go-grpc
// emits for a service with one unary RPC ("Unary") and one bidirectional
// streaming RPC ("Stream").
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TransportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Unary", Handler: transportUnaryHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       transportStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "concord/transport.proto",
}

// TransportClient is the dial-side counterpart of TransportServer.
type TransportClient interface {
	Unary(ctx context.Context, in *Envelope, opts ...grpc.CallOption) (*Envelope, error)
	Stream(ctx context.Context, opts ...grpc.CallOption) (TransportStreamClient, error)
}

// TransportStreamClient is the client's view of the bidirectional Stream
// RPC, typed to Envelope instead of the generic grpc.ClientStream.
type TransportStreamClient interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	grpc.ClientStream
}

type transportStreamClient struct {
	grpc.ClientStream
}

func (x *transportStreamClient) Send(m *Envelope) error { return x.ClientStream.SendMsg(m) }

func (x *transportStreamClient) Recv() (*Envelope, error) {
	m := new(Envelope)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type transportClient struct {
	cc grpc.ClientConnInterface
}

// NewTransportClient wraps cc for the Transport service's Unary/Stream
// RPCs.
func NewTransportClient(cc grpc.ClientConnInterface) TransportClient {
	return &transportClient{cc: cc}
}

func (c *transportClient) Unary(ctx context.Context, in *Envelope, opts ...grpc.CallOption) (*Envelope, error) {
	out := new(Envelope)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Unary", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *transportClient) Stream(ctx context.Context, opts ...grpc.CallOption) (TransportStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+serviceName+"/Stream", opts...)
	if err != nil {
		return nil, err
	}
	return &transportStreamClient{ClientStream: stream}, nil
}
