package ingest

import (
	"context"

	"go.uber.org/fx"

	"github.com/Aleph-Alpha/runtrace/v1/observability"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// FXModule provides a *Processor and exposes it as runtree.Sink, so trees
// created anywhere in the application deliver through the same queues.
//
// When the container holds a Client it is used as delivery target; otherwise
// an HTTPClient is built from Config. On stop the processor is flushed and
// closed.
//
// Usage:
//
//	app := fx.New(
//	    ingest.FXModule,
//	    logger.FXModule, // optional
//	    fx.Provide(func() ingest.Config {
//	        return ingest.Config{Endpoint: "http://collector:1984"}
//	    }),
//	)
var FXModule = fx.Module("ingest",
	fx.Provide(
		NewProcessorWithDI,
		func(p *Processor) runtree.Sink { return p },
	),
	fx.Invoke(RegisterProcessorLifecycle),
)

// ProcessorParams groups the dependencies of NewProcessorWithDI.
type ProcessorParams struct {
	fx.In

	Config   Config
	Client   Client                 `optional:"true"`
	Logger   Logger                 `optional:"true"`
	Observer observability.Observer `optional:"true"`
}

// NewProcessorWithDI builds a Processor from injected dependencies.
func NewProcessorWithDI(params ProcessorParams) (*Processor, error) {
	client := params.Client
	if client == nil {
		hc, err := NewHTTPClient(params.Config)
		if err != nil {
			return nil, err
		}
		if params.Observer != nil {
			hc.WithObserver(params.Observer)
		}
		client = hc
	}
	return NewProcessor(params.Config, client).
		WithLogger(params.Logger).
		WithObserver(params.Observer), nil
}

// RegisterProcessorLifecycle flushes and closes the processor when the
// application stops.
func RegisterProcessorLifecycle(lc fx.Lifecycle, p *Processor) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := p.Flush(ctx); err != nil {
				p.logger.WarnWithContext(ctx, "failed to flush run processor on shutdown", err)
			}
			return p.Close(ctx)
		},
	})
}
