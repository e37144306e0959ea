package transport

import (
	"context"

	"github.com/concordkv/concord/pkg/clog"
	"google.golang.org/grpc"
)

// RecoveryUnaryInterceptor recovers a panicking Unary handler into an
// Internal error instead of letting it crash the process: a panic is
// caught at the task boundary and logged rather than taking the whole
// server down.
func RecoveryUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger := clog.WithComponent("transport")
				logger.Error().
					Str("method", info.FullMethod).
					Interface("panic", r).
					Msg("recovered panic in unary handler")
				err = nil
				resp = envelopeForPanic(req)
			}
		}()
		return handler(ctx, req)
	}
}

// RecoveryStreamInterceptor is the streaming counterpart of
// RecoveryUnaryInterceptor: a panic inside Stream's request loop ends
// that one connection rather than the process.
func RecoveryStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger := clog.WithComponent("transport")
				logger.Error().
					Str("method", info.FullMethod).
					Interface("panic", r).
					Msg("recovered panic in stream handler")
				err = nil
			}
		}()
		return handler(srv, ss)
	}
}

// envelopeForPanic turns a recovered panic into a well-formed error
// envelope when req is an *Envelope (true for every call on this
// service), falling back to nil otherwise.
func envelopeForPanic(req interface{}) *Envelope {
	env, ok := req.(*Envelope)
	if !ok {
		return nil
	}
	return &Envelope{
		Type:      env.Type,
		RequestID: env.RequestID,
		Error:     &EnvelopeError{Kind: "internal", Message: "internal error"},
	}
}
