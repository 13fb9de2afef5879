// Package tracer bridges run trees and OpenTelemetry.
//
// NewClient installs an OpenTelemetry TracerProvider whose ids follow runs: a
// span started inside an ambient run joins the run's trace (the run trace id
// is used as the OTel trace id), so spans from instrumented libraries and the
// run tree share one trace id in every backend.
//
// RunExporter exports ended runs as spans. Each span gets the ids derived from
// its run (TraceIDFromRun, SpanIDFromRun) and the span of its parent run as
// parent, so a tree recorded across processes is exported as one connected
// trace without the processes coordinating:
//
//	t := tracer.NewClient(tracer.Config{ServiceName: "notebook", EnableExport: true}, log)
//	defer t.Shutdown(ctx)
//
//	tree, err := runtree.NewRoot("chat", runtree.RunTypeChain, inputs,
//		runtree.WithSink(tracer.NewRunExporter(t)))
//
// The propagator installed globally carries W3C trace context, W3C baggage and
// the run context together, so otel-instrumented transports forward all three.
package tracer
