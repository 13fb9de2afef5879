package tracer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// Span attributes set on exported runs.
const (
	AttrRunID       = attribute.Key("runtrace.run_id")
	AttrTraceID     = attribute.Key("runtrace.trace_id")
	AttrParentRunID = attribute.Key("runtrace.parent_run_id")
	AttrRunType     = attribute.Key("runtrace.run_type")
	AttrDottedOrder = attribute.Key("runtrace.dotted_order")
	AttrTags        = attribute.Key("runtrace.tags")
	AttrInputs      = attribute.Key("runtrace.inputs")
	AttrOutputs     = attribute.Key("runtrace.outputs")

	metadataPrefix = "runtrace.metadata."
)

// RunExporter turns ended runs into OpenTelemetry spans. A run becomes a
// span with the run's name, start and end time; its trace and span ids are
// derived from the run's trace id and id, and its parent is the span of the
// parent run, so the exported spans form the same tree as the runs even when
// they were recorded in different processes.
//
// RunExporter is a runtree.Sink and an ingest.Client, so it can observe a tree
// directly, sit behind an ingest.Processor, or join a MultiClient.
type RunExporter struct {
	tracer *Tracer
}

var (
	_ runtree.Sink  = (*RunExporter)(nil)
	_ ingest.Client = (*RunExporter)(nil)
)

// NewRunExporter returns an exporter emitting spans through t.
func NewRunExporter(t *Tracer) *RunExporter {
	return &RunExporter{tracer: t}
}

// Post implements runtree.Sink. Open runs are skipped; they are exported when
// their patch arrives.
func (e *RunExporter) Post(ctx context.Context, rec runtree.Record) error {
	if rec.Ended() {
		e.ExportRun(ctx, rec)
	}
	return nil
}

// Patch implements runtree.Sink.
func (e *RunExporter) Patch(ctx context.Context, rec runtree.Record) error {
	return e.Post(ctx, rec)
}

// CreateRun implements ingest.Client.
func (e *RunExporter) CreateRun(ctx context.Context, rec runtree.Record) error {
	return e.Post(ctx, rec)
}

// UpdateRun implements ingest.Client.
func (e *RunExporter) UpdateRun(ctx context.Context, rec runtree.Record) error {
	return e.Post(ctx, rec)
}

// ExportRun emits one span for rec. rec must be ended.
func (e *RunExporter) ExportRun(ctx context.Context, rec runtree.Record) {
	traceID := TraceIDFromRun(rec.TraceID)
	spanID := SpanIDFromRun(rec.ID)

	attrs := []attribute.KeyValue{
		AttrRunID.String(rec.ID.String()),
		AttrTraceID.String(rec.TraceID.String()),
		AttrRunType.String(rec.RunType),
		AttrDottedOrder.String(rec.DottedOrder),
	}

	// The span's parent is either the parent run's span or nothing; any span
	// already in ctx is unrelated.
	parent := trace.SpanContext{}
	if rec.ParentID != nil {
		attrs = append(attrs, AttrParentRunID.String(rec.ParentID.String()))
		parent = trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     SpanIDFromRun(*rec.ParentID),
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
	}
	ctx = trace.ContextWithSpanContext(ctx, parent)
	ctx = withForcedIDs(ctx, traceID, spanID)

	if len(rec.Tags) > 0 {
		attrs = append(attrs, AttrTags.StringSlice(rec.Tags))
	}
	attrs = append(attrs, toAttributes(metadataPrefix, rec.Metadata.AsMap())...)
	if e.tracer.cfg.RecordPayloads {
		attrs = append(attrs, payloadAttribute(AttrInputs, rec.Inputs))
		if rec.Outputs != nil {
			attrs = append(attrs, payloadAttribute(AttrOutputs, *rec.Outputs))
		}
	}

	_, span := e.tracer.tracer.Tracer(instrumentationName).Start(ctx, rec.Name,
		trace.WithTimestamp(rec.StartTime),
		trace.WithSpanKind(spanKind(rec.RunType)),
		trace.WithAttributes(attrs...),
	)
	if rec.Error != "" {
		span.SetStatus(codes.Error, rec.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	end := rec.StartTime
	if rec.EndTime != nil {
		end = *rec.EndTime
	}
	span.End(trace.WithTimestamp(end))
}

func payloadAttribute(key attribute.Key, p runtree.Payload) attribute.KeyValue {
	data, err := p.MarshalJSON()
	if err != nil {
		return key.String("")
	}
	return key.String(string(data))
}

// spanKind maps run types to span kinds: calls out to models, retrievers and
// tools are client spans, everything else is internal.
func spanKind(runType string) trace.SpanKind {
	switch runType {
	case runtree.RunTypeLLM, runtree.RunTypeRetriever, runtree.RunTypeTool, runtree.RunTypeEmbedding:
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}
