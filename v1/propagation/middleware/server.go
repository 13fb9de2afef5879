package middleware

import (
	"context"

	otelprop "go.opentelemetry.io/otel/propagation"

	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// server owns the run of one inbound request.
type server struct {
	codec *propagation.Codec
	opts  options
}

func newServer(codec *propagation.Codec, opts []Option) *server {
	if codec == nil {
		codec = propagation.NewCodec(propagation.DefaultConfig())
	}
	return &server{codec: codec, opts: buildOptions(opts)}
}

func (s *server) runOptions() []runtree.Option {
	var ro []runtree.Option
	if s.opts.sink != nil {
		ro = append(ro, runtree.WithSink(s.opts.sink))
	}
	if len(s.opts.tags) > 0 {
		ro = append(ro, runtree.WithTags(s.opts.tags...))
	}
	return ro
}

// begin attaches a server run to the context found in carrier, or starts a new
// trace when there is none or it does not decode. The returned context carries
// the run and, when one was received, the inbound trace context, so its
// baggage reaches outgoing calls. A nil run means no run could be created; the
// request is then served untraced.
func (s *server) begin(ctx context.Context, carrier otelprop.TextMapCarrier, name string, inputs runtree.Payload) (context.Context, *runtree.Run) {
	ctx = propagation.NewPropagator(s.codec).Extract(ctx, carrier)

	var (
		tree *runtree.Tree
		err  error
	)
	if tc, ok := propagation.FromContext(ctx); ok {
		tree, _, err = propagation.Attach(tc, name, s.opts.runType, inputs, s.runOptions()...)
		if err != nil {
			s.opts.logger.WarnWithContext(ctx, "cannot attach to inbound trace context, starting a disconnected trace", err, map[string]interface{}{
				"run_name": name,
			})
		}
	} else if extractErr := propagation.ExtractError(ctx); extractErr != nil {
		s.opts.logger.WarnWithContext(ctx, "discarding inbound trace context, starting a disconnected trace", extractErr, map[string]interface{}{
			"run_name": name,
		})
	}

	if tree == nil {
		tree, err = runtree.NewRoot(name, s.opts.runType, inputs, s.runOptions()...)
		if err != nil {
			s.opts.logger.ErrorWithContext(ctx, "failed to create server run", err, map[string]interface{}{
				"run_name": name,
			})
			return ctx, nil
		}
	}

	run := tree.Root()
	return runtree.ContextWithRun(ctx, run), run
}

// finish ends run and hands every run of its tree to the sink. Delivery only
// enqueues when the sink is an ingest processor, so the response is not held
// back by the collector.
func (s *server) finish(ctx context.Context, run *runtree.Run, outputs runtree.Payload, err error) {
	var endOpts []runtree.EndOption
	if err != nil {
		endOpts = append(endOpts, runtree.WithError(err))
	}
	if endErr := run.End(outputs, endOpts...); endErr != nil && !runtree.IsAlreadyEndedError(endErr) {
		s.opts.logger.WarnWithContext(ctx, "failed to end server run", endErr)
	}
	if s.opts.sink == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	tree := run.Tree()
	for _, r := range tree.Runs() {
		if postErr := tree.Post(ctx, r); postErr != nil {
			s.opts.logger.ErrorWithContext(runtree.ContextWithRun(ctx, r), "failed to deliver server run", postErr)
		}
	}
}
