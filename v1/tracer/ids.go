package tracer

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// TraceIDFromRun maps a run trace id to an OpenTelemetry trace id. Both are
// 16 bytes, so the mapping is the identity on bytes.
func TraceIDFromRun(id uuid.UUID) trace.TraceID {
	return trace.TraceID(id)
}

// SpanIDFromRun maps a run id to an OpenTelemetry span id by folding its two
// halves together. The result is never the invalid all-zero id.
func SpanIDFromRun(id uuid.UUID) trace.SpanID {
	var sid trace.SpanID
	for i := 0; i < 8; i++ {
		sid[i] = id[i] ^ id[i+8]
	}
	if !sid.IsValid() {
		sid[7] = 1
	}
	return sid
}

type forcedIDsKey struct{}

type forcedIDs struct {
	traceID trace.TraceID
	spanID  trace.SpanID
}

// withForcedIDs makes the next span started from ctx use exactly these ids.
func withForcedIDs(ctx context.Context, traceID trace.TraceID, spanID trace.SpanID) context.Context {
	return context.WithValue(ctx, forcedIDsKey{}, forcedIDs{traceID: traceID, spanID: spanID})
}

// runIDGenerator makes spans line up with runs. Spans exported for a run get
// the ids derived from it; spans started inside an ambient run join the run's
// trace.
type runIDGenerator struct {
	mu   sync.Mutex
	rand *rand.Rand
}

var _ sdktrace.IDGenerator = (*runIDGenerator)(nil)

func newRunIDGenerator() *runIDGenerator {
	var seed int64
	_ = binary.Read(crand.Reader, binary.LittleEndian, &seed)
	return &runIDGenerator{rand: rand.New(rand.NewSource(seed))}
}

// NewIDs implements sdktrace.IDGenerator.
func (g *runIDGenerator) NewIDs(ctx context.Context) (trace.TraceID, trace.SpanID) {
	if f, ok := ctx.Value(forcedIDsKey{}).(forcedIDs); ok {
		return f.traceID, f.spanID
	}
	if run, ok := runtree.RunFromContext(ctx); ok {
		return TraceIDFromRun(run.TraceID()), g.randomSpanID()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	var tid trace.TraceID
	for !tid.IsValid() {
		_, _ = g.rand.Read(tid[:])
	}
	var sid trace.SpanID
	for !sid.IsValid() {
		_, _ = g.rand.Read(sid[:])
	}
	return tid, sid
}

// NewSpanID implements sdktrace.IDGenerator.
func (g *runIDGenerator) NewSpanID(ctx context.Context, _ trace.TraceID) trace.SpanID {
	if f, ok := ctx.Value(forcedIDsKey{}).(forcedIDs); ok {
		return f.spanID
	}
	return g.randomSpanID()
}

func (g *runIDGenerator) randomSpanID() trace.SpanID {
	g.mu.Lock()
	defer g.mu.Unlock()
	var sid trace.SpanID
	for !sid.IsValid() {
		_, _ = g.rand.Read(sid[:])
	}
	return sid
}
