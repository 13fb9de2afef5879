// Package propagation carries run identity across process boundaries.
//
// A sending process captures the position of its active run as a TraceContext,
// encodes it into two string fields and ships them with its request, message
// or RPC. The receiving process decodes the fields and attaches: it creates a
// local runtree.Tree whose first run is a child of the sender's run. Both
// processes then deliver their runs independently; the ingestion side stitches
// them into one tree from trace_id, parent_run_id and dotted_order alone.
//
// # Wire Format
//
// Two fields are written by default:
//
//	runtrace-context: v1;<trace_id>;<parent_run_id>;<parent_dotted_order>
//	runtrace-baggage: env=prod,tenant=acme
//
// The identity field is versioned and decoding fails closed on any version it
// does not know. Baggage keys are written in sorted order. A baggage value
// containing "," cannot be encoded and Encode fails with ErrEncoding instead
// of truncating it. A missing baggage field decodes to empty baggage.
//
// # Usage
//
// Sending side:
//
//	codec := propagation.NewCodec(propagation.DefaultConfig())
//	tc := propagation.Capture(run, map[string]string{"tenant": "acme"})
//	if err := codec.Inject(tc, otelprop.HeaderCarrier(req.Header)); err != nil {
//		return err
//	}
//
// Receiving side:
//
//	tc, err := codec.Extract(otelprop.HeaderCarrier(r.Header))
//	if err != nil {
//		return err
//	}
//	tree, run, err := propagation.Attach(tc, "handle", runtree.RunTypeChain, inputs)
//
// AttachOrStart wraps the receiving side with an explicit, logged fallback to a
// new trace for hosts that prefer serving the request over failing it.
//
// # Carriers
//
// Inject and Extract accept any go.opentelemetry.io/otel/propagation
// TextMapCarrier. HTTP headers use otelprop.HeaderCarrier; the kafka and rabbit
// packages provide carriers for message headers and the middleware package one
// for gRPC metadata. Propagator plugs the codec into the global OTel
// propagator next to W3C trace context.
package propagation
