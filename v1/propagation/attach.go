package propagation

import (
	"context"
	"fmt"

	otelprop "go.opentelemetry.io/otel/propagation"

	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// Attach creates a local tree whose root run is a child of the remote run
// referenced by tc. The new run has tc's trace id, tc's parent run as parent
// and tc's dotted order extended by one segment, so it is indistinguishable
// from a child created in the sending process.
//
// Baggage entries are copied into the metadata of the new run unless
// runtree.WithMetadata already sets the same key.
//
// Attach is a purely local computation. If tc is not a valid parent it fails
// with ErrMissingParentContext and never starts a new trace on its own; use
// AttachOrStart for an explicit fallback.
//
// Example:
//
//	tc, err := codec.Decode(headers)
//	if err != nil {
//	    return err
//	}
//	tree, run, err := propagation.Attach(tc, "handle-request", runtree.RunTypeChain, inputs,
//	    runtree.WithSink(processor))
func Attach(tc TraceContext, name, runType string, inputs runtree.Payload, opts ...runtree.Option) (*runtree.Tree, *runtree.Run, error) {
	if err := tc.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMissingParentContext, err)
	}

	all := make([]runtree.Option, 0, len(opts)+1)
	if len(tc.baggage) > 0 {
		md := make(map[string]interface{}, len(tc.baggage))
		for k, v := range tc.baggage {
			md[k] = v
		}
		// Explicit metadata is applied afterwards and wins on conflicts.
		all = append(all, runtree.WithMetadata(md))
	}
	all = append(all, opts...)

	tree, err := runtree.NewRemote(tc.RemoteParent(), name, runType, inputs, all...)
	if err != nil {
		return nil, nil, err
	}
	return tree, tree.Root(), nil
}

// AttachOrStart extracts a trace context from carrier and attaches to it. When
// the carrier holds no context, or one that does not decode, it starts a new,
// disconnected trace instead. The fallback is never silent: a malformed
// context is logged as a warning and reported to the observer, an absent one
// is logged at info level.
//
// The returned error is non-nil only when no run could be created at all,
// e.g. because name is empty.
func (c *Codec) AttachOrStart(ctx context.Context, carrier otelprop.TextMapCarrier, name, runType string, inputs runtree.Payload, opts ...runtree.Option) (*runtree.Tree, *runtree.Run, error) {
	fields := CarrierFields(carrier, c.Fields()...)
	if _, ok := lookup(fields, c.cfg.ContextField); !ok {
		c.logger.InfoWithContext(ctx, "no inbound trace context, starting a new trace", nil, map[string]interface{}{
			"run_name": name,
		})
		return startRoot(name, runType, inputs, opts...)
	}

	tc, err := c.Decode(fields)
	if err == nil {
		tree, run, attachErr := Attach(tc, name, runType, inputs, opts...)
		if attachErr == nil {
			return tree, run, nil
		}
		if runtree.IsInvalidInputError(attachErr) {
			return nil, nil, attachErr
		}
		err = attachErr
	}

	c.logger.WarnWithContext(ctx, "discarding inbound trace context, starting a disconnected trace", err, map[string]interface{}{
		"run_name": name,
		"field":    c.cfg.ContextField,
	})
	return startRoot(name, runType, inputs, opts...)
}

func startRoot(name, runType string, inputs runtree.Payload, opts ...runtree.Option) (*runtree.Tree, *runtree.Run, error) {
	tree, err := runtree.NewRoot(name, runType, inputs, opts...)
	if err != nil {
		return nil, nil, err
	}
	return tree, tree.Root(), nil
}
