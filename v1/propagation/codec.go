package propagation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	otelprop "go.opentelemetry.io/otel/propagation"

	"github.com/Aleph-Alpha/runtrace/v1/observability"
)

const (
	identitySeparator = ";"
	pairSeparator     = ","
	keyValueSeparator = "="
	identityParts     = 4
)

// Codec converts trace contexts to and from carrier fields.
//
// The identity field holds "v1;<trace_id>;<parent_run_id>;<parent_dotted_order>",
// the baggage field holds "k=v,k=v" with keys in sorted order. Both fields are
// always written; a missing baggage field decodes to empty baggage.
//
// A Codec is safe for concurrent use.
type Codec struct {
	cfg      Config
	logger   Logger
	observer observability.Observer
}

// NewCodec returns a codec using the field names of cfg. Empty names fall back
// to DefaultContextField and DefaultBaggageField.
func NewCodec(cfg Config) *Codec {
	return &Codec{cfg: cfg.withDefaults(), logger: nopLogger{}}
}

// WithLogger sets the logger used for fallback decisions in AttachOrStart.
func (c *Codec) WithLogger(l Logger) *Codec {
	if l != nil {
		c.logger = l
	}
	return c
}

// WithObserver sets an observer notified about every encode and decode.
func (c *Codec) WithObserver(o observability.Observer) *Codec {
	c.observer = o
	return c
}

// Config returns the effective field names.
func (c *Codec) Config() Config {
	return c.cfg
}

// Fields returns the names of the carrier fields the codec reads and writes.
func (c *Codec) Fields() []string {
	return []string{c.cfg.ContextField, c.cfg.BaggageField}
}

// Encode renders tc as carrier fields. It fails with ErrEncoding when a baggage
// key is empty or contains "," or "=", or a value contains ",", and with
// ErrMalformedContext when tc has no valid identity.
func (c *Codec) Encode(tc TraceContext) (map[string]string, error) {
	start := time.Now()
	fields, err := c.encode(tc)
	c.observe("encode", tc, time.Since(start), err)
	return fields, err
}

func (c *Codec) encode(tc TraceContext) (map[string]string, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	baggage, err := encodeBaggage(tc.baggage)
	if err != nil {
		return nil, err
	}
	identity := strings.Join([]string{
		Version,
		tc.traceID.String(),
		tc.parentRunID.String(),
		tc.parentDottedOrder,
	}, identitySeparator)

	return map[string]string{
		c.cfg.ContextField: identity,
		c.cfg.BaggageField: baggage,
	}, nil
}

func encodeBaggage(baggage map[string]string) (string, error) {
	keys := make([]string, 0, len(baggage))
	for k := range baggage {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		v := baggage[k]
		switch {
		case k == "":
			return "", fmt.Errorf("%w: empty baggage key", ErrEncoding)
		case strings.Contains(k, pairSeparator) || strings.Contains(k, keyValueSeparator):
			return "", fmt.Errorf("%w: baggage key %q contains a reserved delimiter", ErrEncoding, k)
		case strings.Contains(v, pairSeparator):
			return "", fmt.Errorf("%w: baggage value for %q contains the reserved delimiter %q", ErrEncoding, k, pairSeparator)
		case strings.ContainsAny(k+v, "\r\n"):
			return "", fmt.Errorf("%w: baggage entry %q contains a line break", ErrEncoding, k)
		case hasOuterSpace(k) || hasOuterSpace(v):
			return "", fmt.Errorf("%w: baggage entry %q has leading or trailing whitespace", ErrEncoding, k)
		}
		if i > 0 {
			b.WriteString(pairSeparator)
		}
		b.WriteString(k)
		b.WriteString(keyValueSeparator)
		b.WriteString(v)
	}
	return b.String(), nil
}

// Decode parses carrier fields. Field names are matched case-insensitively,
// since transports such as HTTP canonicalise header names. It fails with
// ErrMalformedContext when the identity field is missing, has an unknown
// version or does not parse, or when the baggage field does not parse.
func (c *Codec) Decode(fields map[string]string) (TraceContext, error) {
	start := time.Now()
	tc, err := c.decode(fields)
	c.observe("decode", tc, time.Since(start), err)
	return tc, err
}

func (c *Codec) decode(fields map[string]string) (TraceContext, error) {
	identity, ok := lookup(fields, c.cfg.ContextField)
	if !ok || identity == "" {
		return TraceContext{}, fmt.Errorf("%w: field %q is missing", ErrMalformedContext, c.cfg.ContextField)
	}
	parts := strings.Split(identity, identitySeparator)
	if parts[0] != Version {
		return TraceContext{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedContext, parts[0])
	}
	if len(parts) != identityParts {
		return TraceContext{}, fmt.Errorf("%w: expected %d components, got %d", ErrMalformedContext, identityParts, len(parts))
	}
	traceID, err := uuid.Parse(parts[1])
	if err != nil {
		return TraceContext{}, fmt.Errorf("%w: trace id: %v", ErrMalformedContext, err)
	}
	parentID, err := uuid.Parse(parts[2])
	if err != nil {
		return TraceContext{}, fmt.Errorf("%w: parent run id: %v", ErrMalformedContext, err)
	}

	var baggage map[string]string
	if raw, ok := lookup(fields, c.cfg.BaggageField); ok {
		baggage, err = decodeBaggage(raw)
		if err != nil {
			return TraceContext{}, err
		}
	}
	return NewTraceContext(traceID, parentID, parts[3], baggage)
}

// hasOuterSpace reports whether s starts or ends with whitespace, which
// transports such as HTTP strip from header values.
func hasOuterSpace(s string) bool {
	return s != strings.TrimSpace(s)
}

func decodeBaggage(raw string) (map[string]string, error) {
	out := map[string]string{}
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, pairSeparator) {
		k, v, ok := strings.Cut(pair, keyValueSeparator)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: baggage entry %q is not key=value", ErrMalformedContext, pair)
		}
		if _, dup := out[k]; dup {
			return nil, fmt.Errorf("%w: duplicate baggage key %q", ErrMalformedContext, k)
		}
		out[k] = v
	}
	return out, nil
}

func lookup(fields map[string]string, name string) (string, bool) {
	if v, ok := fields[name]; ok {
		return v, true
	}
	for k, v := range fields {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Inject encodes tc into carrier. Any OTel TextMapCarrier works, including
// the carriers of the kafka, rabbit and middleware packages.
func (c *Codec) Inject(tc TraceContext, carrier otelprop.TextMapCarrier) error {
	fields, err := c.Encode(tc)
	if err != nil {
		return err
	}
	for k, v := range fields {
		carrier.Set(k, v)
	}
	return nil
}

// InjectContext captures the ambient run of ctx and injects it into carrier.
// It returns false when ctx carries no run.
func (c *Codec) InjectContext(ctx context.Context, carrier otelprop.TextMapCarrier) (bool, error) {
	tc, ok := CaptureContext(ctx, nil)
	if !ok {
		return false, nil
	}
	return true, c.Inject(tc, carrier)
}

// Extract decodes the codec fields found in carrier.
func (c *Codec) Extract(carrier otelprop.TextMapCarrier) (TraceContext, error) {
	return c.Decode(CarrierFields(carrier, c.Fields()...))
}

// CarrierFields reads the named fields from carrier. Lookups go through Get
// first and fall back to a case-insensitive scan of Keys.
func CarrierFields(carrier otelprop.TextMapCarrier, names ...string) map[string]string {
	fields := make(map[string]string, len(names))
	var keys []string
	for _, name := range names {
		if v := carrier.Get(name); v != "" {
			fields[name] = v
			continue
		}
		if keys == nil {
			keys = carrier.Keys()
		}
		for _, k := range keys {
			if strings.EqualFold(k, name) {
				fields[name] = carrier.Get(k)
				break
			}
		}
	}
	return fields
}

func (c *Codec) observe(op string, tc TraceContext, d time.Duration, err error) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveOperation(observability.OperationContext{
		Component:   "propagation",
		Operation:   op,
		Resource:    c.cfg.ContextField,
		SubResource: tc.parentRunID.String(),
		Duration:    d,
		Error:       err,
		Size:        int64(len(tc.parentDottedOrder)),
	})
}
