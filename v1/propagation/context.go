package propagation

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// TraceContext is an immutable snapshot of a position in a trace: the trace id,
// the run that was active when the snapshot was taken and its dotted order,
// plus opaque baggage. It is a plain value and safe to copy and share.
type TraceContext struct {
	traceID           uuid.UUID
	parentRunID       uuid.UUID
	parentDottedOrder string
	baggage           map[string]string
}

// NewTraceContext builds and validates a trace context. The dotted order must
// start at the trace root and end at the parent run.
func NewTraceContext(traceID, parentRunID uuid.UUID, parentDottedOrder string, baggage map[string]string) (TraceContext, error) {
	tc := TraceContext{
		traceID:           traceID,
		parentRunID:       parentRunID,
		parentDottedOrder: parentDottedOrder,
		baggage:           copyBaggage(baggage),
	}
	if err := tc.Validate(); err != nil {
		return TraceContext{}, err
	}
	return tc, nil
}

// Capture snapshots the position of run. It has no side effects and may be
// called on an ended run, which captures its final position. baggage may be nil.
//
// Example:
//
//	tc := propagation.Capture(run, map[string]string{"tenant": "acme"})
//	headers, err := codec.Encode(tc)
func Capture(run *runtree.Run, baggage map[string]string) TraceContext {
	return TraceContext{
		traceID:           run.TraceID(),
		parentRunID:       run.ID(),
		parentDottedOrder: run.DottedOrder(),
		baggage:           copyBaggage(baggage),
	}
}

// CaptureContext captures the ambient run of ctx, if there is one, merging
// baggage already carried by ctx with the given one.
func CaptureContext(ctx context.Context, baggage map[string]string) (TraceContext, bool) {
	run, ok := runtree.RunFromContext(ctx)
	if !ok {
		return TraceContext{}, false
	}
	merged := map[string]string{}
	if inbound, ok := FromContext(ctx); ok {
		for k, v := range inbound.baggage {
			merged[k] = v
		}
	}
	for k, v := range baggage {
		merged[k] = v
	}
	return Capture(run, merged), true
}

// TraceID returns the id of the trace root.
func (tc TraceContext) TraceID() uuid.UUID { return tc.traceID }

// ParentRunID returns the id of the run that was active at capture time.
func (tc TraceContext) ParentRunID() uuid.UUID { return tc.parentRunID }

// ParentDottedOrder returns the dotted order of the parent run.
func (tc TraceContext) ParentDottedOrder() string { return tc.parentDottedOrder }

// Baggage returns a copy of the baggage. It is never nil.
func (tc TraceContext) Baggage() map[string]string {
	return copyBaggage(tc.baggage)
}

// BaggageValue returns a single baggage entry.
func (tc TraceContext) BaggageValue(key string) (string, bool) {
	v, ok := tc.baggage[key]
	return v, ok
}

// WithBaggage returns a copy of tc with key set to value.
func (tc TraceContext) WithBaggage(key, value string) TraceContext {
	out := tc
	out.baggage = copyBaggage(tc.baggage)
	out.baggage[key] = value
	return out
}

// IsValid reports whether tc can be used as a parent by Attach.
func (tc TraceContext) IsValid() bool {
	return tc.Validate() == nil
}

// Validate checks the identity of tc. It returns an error wrapping
// ErrMalformedContext describing the first problem found.
func (tc TraceContext) Validate() error {
	err := tc.RemoteParent().Validate()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedContext, err)
	}
	return nil
}

// RemoteParent converts tc into the parent descriptor used by runtree.NewRemote.
func (tc TraceContext) RemoteParent() runtree.RemoteParent {
	return runtree.RemoteParent{
		TraceID:     tc.traceID,
		RunID:       tc.parentRunID,
		DottedOrder: tc.parentDottedOrder,
	}
}

// Equal reports whether both contexts carry the same identity and baggage.
func (tc TraceContext) Equal(other TraceContext) bool {
	if tc.traceID != other.traceID || tc.parentRunID != other.parentRunID || tc.parentDottedOrder != other.parentDottedOrder {
		return false
	}
	if len(tc.baggage) != len(other.baggage) {
		return false
	}
	for k, v := range tc.baggage {
		if ov, ok := other.baggage[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// String renders tc for logs. Baggage values are omitted.
func (tc TraceContext) String() string {
	keys := make([]string, 0, len(tc.baggage))
	for k := range tc.baggage {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("trace=%s parent=%s baggage=%v", tc.traceID, tc.parentRunID, keys)
}

type traceContextKey struct{}

// ContextWith returns a copy of ctx carrying tc, typically an extracted inbound
// context that has not been attached yet.
func ContextWith(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// FromContext returns the trace context stored by ContextWith.
func FromContext(ctx context.Context) (TraceContext, bool) {
	tc, ok := ctx.Value(traceContextKey{}).(TraceContext)
	return tc, ok
}

func copyBaggage(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
