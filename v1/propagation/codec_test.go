package propagation

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelprop "go.opentelemetry.io/otel/propagation"

	"github.com/Aleph-Alpha/runtrace/v1/observability"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

type testObserver struct {
	mu  sync.Mutex
	ops []observability.OperationContext
}

func (o *testObserver) ObserveOperation(ctx observability.OperationContext) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, ctx)
}

func (o *testObserver) operations() []observability.OperationContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observability.OperationContext{}, o.ops...)
}

type testLogger struct {
	mu    sync.Mutex
	infos []string
	warns []string
}

func (l *testLogger) InfoWithContext(_ context.Context, msg string, _ error, _ ...map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *testLogger) WarnWithContext(_ context.Context, msg string, _ error, _ ...map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *testLogger) ErrorWithContext(context.Context, string, error, ...map[string]interface{}) {}

func newRun(t *testing.T) (*runtree.Tree, *runtree.Run) {
	t.Helper()
	tree, err := runtree.NewRoot("parent", runtree.RunTypeChain, runtree.Payload{})
	require.NoError(t, err)
	child, err := tree.Root().CreateChild("call-remote", runtree.RunTypeTool, runtree.Payload{})
	require.NoError(t, err)
	return tree, child
}

func TestCapture(t *testing.T) {
	_, run := newRun(t)
	baggage := map[string]string{"tenant": "acme"}

	tc := Capture(run, baggage)
	baggage["tenant"] = "changed"

	assert.Equal(t, run.TraceID(), tc.TraceID())
	assert.Equal(t, run.ID(), tc.ParentRunID())
	assert.Equal(t, run.DottedOrder(), tc.ParentDottedOrder())
	assert.Equal(t, map[string]string{"tenant": "acme"}, tc.Baggage())
	assert.True(t, tc.IsValid())

	empty := Capture(run, nil)
	assert.NotNil(t, empty.Baggage())
	assert.Empty(t, empty.Baggage())
}

func TestCaptureEndedRun(t *testing.T) {
	_, run := newRun(t)
	require.NoError(t, run.End(runtree.Payload{}))

	tc := Capture(run, nil)
	assert.Equal(t, run.DottedOrder(), tc.ParentDottedOrder())
}

func TestCaptureContextMergesInboundBaggage(t *testing.T) {
	_, run := newRun(t)
	inbound := Capture(run, map[string]string{"tenant": "acme", "env": "dev"})

	ctx := ContextWith(runtree.ContextWithRun(context.Background(), run), inbound)
	tc, ok := CaptureContext(ctx, map[string]string{"env": "prod"})
	require.True(t, ok)
	assert.Equal(t, map[string]string{"tenant": "acme", "env": "prod"}, tc.Baggage())

	_, ok = CaptureContext(context.Background(), nil)
	assert.False(t, ok)
}

func TestEncodeFormat(t *testing.T) {
	_, run := newRun(t)
	codec := NewCodec(Config{})

	fields, err := codec.Encode(Capture(run, map[string]string{"b": "2", "a": "x=y"}))
	require.NoError(t, err)
	require.Len(t, fields, 2)

	assert.Equal(t, "v1;"+run.TraceID().String()+";"+run.ID().String()+";"+run.DottedOrder(), fields[DefaultContextField])
	assert.Equal(t, "a=x=y,b=2", fields[DefaultBaggageField])
}

func TestRoundTrip(t *testing.T) {
	_, run := newRun(t)
	codec := NewCodec(DefaultConfig())

	cases := map[string]map[string]string{
		"empty baggage": nil,
		"one entry":     {"tenant": "acme"},
		"many entries":  {"tenant": "acme", "env": "prod", "user": "42", "empty": ""},
		"unicode":       {"stage": "préprod", "emoji": "✓"},
		"inner spaces":  {"user name": "Ada Lovelace", "q": "a = b"},
	}
	for name, baggage := range cases {
		t.Run(name, func(t *testing.T) {
			tc := Capture(run, baggage)
			fields, err := codec.Encode(tc)
			require.NoError(t, err)

			back, err := codec.Decode(fields)
			require.NoError(t, err)
			assert.True(t, tc.Equal(back))
			assert.Equal(t, tc, back)
		})
	}
}

func TestEncodeRejectsReservedDelimiters(t *testing.T) {
	_, run := newRun(t)
	codec := NewCodec(DefaultConfig())

	cases := map[string]map[string]string{
		"comma in value":   {"k": "a,b"},
		"comma in key":     {"a,b": "v"},
		"equals in key":    {"a=b": "v"},
		"empty key":        {"": "v"},
		"newline in value": {"k": "a\nb"},
		"trailing space":   {"k": "v "},
		"leading space":    {" k": "v"},
		"blank value":      {"k": " "},
		"tab in key":       {"k\t": "v"},
	}
	for name, baggage := range cases {
		t.Run(name, func(t *testing.T) {
			fields, err := codec.Encode(Capture(run, baggage))
			assert.True(t, IsEncodingError(err), "got %v", err)
			assert.Nil(t, fields)
		})
	}
}

func TestEncodeRejectsInvalidIdentity(t *testing.T) {
	_, err := NewCodec(DefaultConfig()).Encode(TraceContext{})
	assert.True(t, IsMalformedContextError(err))
}

func TestDecodeErrors(t *testing.T) {
	_, run := newRun(t)
	codec := NewCodec(DefaultConfig())
	valid, err := codec.Encode(Capture(run, nil))
	require.NoError(t, err)
	identity := valid[DefaultContextField]
	rest := strings.TrimPrefix(identity, "v1;")

	other := uuid.New().String()
	cases := map[string]map[string]string{
		"missing identity":      {DefaultBaggageField: "a=b"},
		"empty identity":        {DefaultContextField: "  "},
		"unknown version":       {DefaultContextField: "v2;" + rest},
		"no version":            {DefaultContextField: rest},
		"too few components":    {DefaultContextField: "v1;" + run.TraceID().String() + ";" + run.ID().String()},
		"too many components":   {DefaultContextField: identity + ";extra"},
		"bad trace id":          {DefaultContextField: "v1;nope;" + run.ID().String() + ";" + run.DottedOrder()},
		"bad parent id":         {DefaultContextField: "v1;" + run.TraceID().String() + ";nope;" + run.DottedOrder()},
		"bad dotted order":      {DefaultContextField: "v1;" + run.TraceID().String() + ";" + run.ID().String() + ";20250101"},
		"foreign trace root":    {DefaultContextField: "v1;" + other + ";" + run.ID().String() + ";" + run.DottedOrder()},
		"parent not last":       {DefaultContextField: "v1;" + run.TraceID().String() + ";" + other + ";" + run.DottedOrder()},
		"baggage without value": {DefaultContextField: identity, DefaultBaggageField: "novalue"},
		"baggage empty key":     {DefaultContextField: identity, DefaultBaggageField: "=v"},
		"baggage duplicate key": {DefaultContextField: identity, DefaultBaggageField: "a=1,a=2"},
		"padded identity":       {DefaultContextField: " " + identity},
	}
	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode(fields)
			assert.True(t, IsMalformedContextError(err), "got %v", err)
		})
	}
}

func TestDecodeIsCaseInsensitive(t *testing.T) {
	_, run := newRun(t)
	codec := NewCodec(DefaultConfig())
	tc := Capture(run, map[string]string{"tenant": "acme"})

	h := http.Header{}
	require.NoError(t, codec.Inject(tc, otelprop.HeaderCarrier(h)))
	assert.NotEmpty(t, h.Get("Runtrace-Context"))

	back, err := codec.Extract(otelprop.HeaderCarrier(h))
	require.NoError(t, err)
	assert.True(t, tc.Equal(back))

	upper := map[string]string{}
	fields, err := codec.Encode(tc)
	require.NoError(t, err)
	for k, v := range fields {
		upper[strings.ToUpper(k)] = v
	}
	back, err = codec.Decode(upper)
	require.NoError(t, err)
	assert.True(t, tc.Equal(back))
}

func TestCustomFieldNames(t *testing.T) {
	_, run := newRun(t)
	codec := NewCodec(Config{ContextField: "x-run", BaggageField: "x-run-baggage"})
	assert.Equal(t, []string{"x-run", "x-run-baggage"}, codec.Fields())

	carrier := otelprop.MapCarrier{}
	require.NoError(t, codec.Inject(Capture(run, nil), carrier))
	assert.Contains(t, carrier, "x-run")
	assert.NotContains(t, carrier, DefaultContextField)
}

func TestCodecObserver(t *testing.T) {
	_, run := newRun(t)
	obs := &testObserver{}
	codec := NewCodec(DefaultConfig()).WithObserver(obs)

	fields, err := codec.Encode(Capture(run, nil))
	require.NoError(t, err)
	_, err = codec.Decode(map[string]string{})
	require.Error(t, err)
	_, err = codec.Decode(fields)
	require.NoError(t, err)

	ops := obs.operations()
	require.Len(t, ops, 3)
	assert.Equal(t, "encode", ops[0].Operation)
	assert.Equal(t, "success", ops[0].Status())
	assert.Equal(t, "decode", ops[1].Operation)
	assert.Equal(t, "error", ops[1].Status())
	assert.Equal(t, "propagation", ops[2].Component)
	assert.Equal(t, run.ID().String(), ops[2].SubResource)
}

func TestTraceContextImmutable(t *testing.T) {
	_, run := newRun(t)
	tc := Capture(run, map[string]string{"a": "1"})

	b := tc.Baggage()
	b["a"] = "2"
	next := tc.WithBaggage("a", "3")

	v, _ := tc.BaggageValue("a")
	assert.Equal(t, "1", v)
	v, _ = next.BaggageValue("a")
	assert.Equal(t, "3", v)
	assert.False(t, tc.Equal(next))
}

func TestNewTraceContextValidates(t *testing.T) {
	_, run := newRun(t)
	_, err := NewTraceContext(run.TraceID(), run.ID(), run.DottedOrder(), nil)
	require.NoError(t, err)

	_, err = NewTraceContext(uuid.Nil, run.ID(), run.DottedOrder(), nil)
	assert.True(t, IsMalformedContextError(err))
}
