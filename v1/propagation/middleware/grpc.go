package middleware

import (
	"context"
	"fmt"

	otelprop "go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// MetadataCarrier adapts gRPC metadata to otelprop.TextMapCarrier. Keys are
// lower-cased by metadata itself.
type MetadataCarrier metadata.MD

var _ otelprop.TextMapCarrier = MetadataCarrier(nil)

// Get returns the first value stored for key.
func (c MetadataCarrier) Get(key string) string {
	vals := metadata.MD(c).Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Set replaces the values stored for key.
func (c MetadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

// Keys lists the keys stored in the carrier.
func (c MetadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// UnaryServerInterceptor traces every unary call as a run named after the
// full method, attached to the context found in the incoming metadata.
// A handler error ends the run with that error.
//
// Example:
//
//	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
//	    middleware.UnaryServerInterceptor(codec, middleware.WithSink(processor)),
//	))
func UnaryServerInterceptor(codec *propagation.Codec, opts ...Option) grpc.UnaryServerInterceptor {
	s := newServer(codec, opts)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		md, _ := metadata.FromIncomingContext(ctx)
		inputs := runtree.MustPayload(map[string]interface{}{"method": info.FullMethod})

		ctx, run := s.begin(ctx, MetadataCarrier(md), info.FullMethod, inputs)
		if run == nil {
			return handler(ctx, req)
		}

		defer func() {
			if p := recover(); p != nil {
				s.finish(ctx, run, grpcOutputs(fmt.Errorf("panic: %v", p)), fmt.Errorf("panic: %v", p))
				panic(p)
			}
			s.finish(ctx, run, grpcOutputs(err), err)
		}()
		return handler(ctx, req)
	}
}

func grpcOutputs(err error) runtree.Payload {
	return runtree.MustPayload(map[string]interface{}{"code": status.Code(err).String()})
}

// UnaryClientInterceptor injects the ambient run of the call context into the
// outgoing metadata. A context that cannot be encoded is logged and the call
// proceeds without it.
//
// Example:
//
//	conn, err := grpc.NewClient(target,
//	    grpc.WithUnaryInterceptor(middleware.UnaryClientInterceptor(codec, log)))
func UnaryClientInterceptor(codec *propagation.Codec, logger Logger) grpc.UnaryClientInterceptor {
	if codec == nil {
		codec = propagation.NewCodec(propagation.DefaultConfig())
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, ok := runtree.RunFromContext(ctx); !ok {
			return invoker(ctx, method, req, reply, cc, opts...)
		}

		md, _ := metadata.FromOutgoingContext(ctx)
		md = md.Copy()
		if _, err := codec.InjectContext(ctx, MetadataCarrier(md)); err != nil {
			logger.WarnWithContext(ctx, "failed to inject run context into metadata", err, map[string]interface{}{
				"method": method,
			})
			return invoker(ctx, method, req, reply, cc, opts...)
		}
		return invoker(metadata.NewOutgoingContext(ctx, md), method, req, reply, cc, opts...)
	}
}
