package propagation

import (
	"context"

	otelprop "go.opentelemetry.io/otel/propagation"
)

// Propagator adapts a Codec to the OpenTelemetry TextMapPropagator interface,
// so run contexts travel next to W3C trace context through any instrumentation
// that already uses otel.GetTextMapPropagator:
//
//	otel.SetTextMapPropagator(otelprop.NewCompositeTextMapPropagator(
//	    otelprop.TraceContext{},
//	    otelprop.Baggage{},
//	    propagation.NewPropagator(codec),
//	))
//
// Inject writes the ambient run of the context. Extract stores the decoded
// context with ContextWith; it does not attach, since attaching needs a run
// name and type. The TextMapPropagator interface has no error returns, so a
// failed extraction is stored in the context (see ExtractError), logged and
// reported to the codec observer.
type Propagator struct {
	codec *Codec
}

var _ otelprop.TextMapPropagator = (*Propagator)(nil)

// NewPropagator returns a propagator backed by codec.
func NewPropagator(codec *Codec) *Propagator {
	return &Propagator{codec: codec}
}

// Inject implements otelprop.TextMapPropagator.
func (p *Propagator) Inject(ctx context.Context, carrier otelprop.TextMapCarrier) {
	if _, err := p.codec.InjectContext(ctx, carrier); err != nil {
		p.codec.logger.WarnWithContext(ctx, "failed to inject run context", err)
	}
}

// Extract implements otelprop.TextMapPropagator.
func (p *Propagator) Extract(ctx context.Context, carrier otelprop.TextMapCarrier) context.Context {
	fields := CarrierFields(carrier, p.codec.Fields()...)
	if _, ok := lookup(fields, p.codec.cfg.ContextField); !ok {
		return ctx
	}
	tc, err := p.codec.Decode(fields)
	if err != nil {
		p.codec.logger.WarnWithContext(ctx, "failed to extract run context", err, map[string]interface{}{
			"field": p.codec.cfg.ContextField,
		})
		return context.WithValue(ctx, extractErrorKey{}, err)
	}
	return ContextWith(ctx, tc)
}

// Fields implements otelprop.TextMapPropagator.
func (p *Propagator) Fields() []string {
	return p.codec.Fields()
}

type extractErrorKey struct{}

// ExtractError returns the decode error recorded by Propagator.Extract, if any.
func ExtractError(ctx context.Context) error {
	err, _ := ctx.Value(extractErrorKey{}).(error)
	return err
}
