// Package middleware propagates runs over HTTP and gRPC.
//
// Server side, HTTPMiddleware, EchoMiddleware and UnaryServerInterceptor open
// one run per inbound request. The run attaches to the trace context carried
// by the request, so it becomes a child of the caller's run, or starts a new
// trace when the request carries none or one that does not decode. The run is
// placed in the request context, ended when the handler returns and handed to
// the configured sink.
//
// Client side, Transport and UnaryClientInterceptor write the ambient run of
// the outgoing call's context into its headers or metadata.
//
//	codec := propagation.NewCodec(propagation.DefaultConfig())
//
//	handler := middleware.HTTPMiddleware(codec, middleware.WithSink(processor))(mux)
//
//	client := &http.Client{Transport: middleware.NewTransport(nil, codec)}
package middleware
