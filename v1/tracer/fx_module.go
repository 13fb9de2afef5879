package tracer

import (
	"context"
	"log"

	"go.uber.org/fx"

	"github.com/Aleph-Alpha/runtrace/v1/propagation"
)

// FXModule provides the *Tracer and a *RunExporter, and shuts the tracer
// down with the application so buffered spans are flushed.
//
// Usage:
//
//	app := fx.New(
//	    tracer.FXModule,
//	    fx.Provide(func() tracer.Config { return cfg.Tracer }),
//	)
var FXModule = fx.Module("tracer",
	fx.Provide(
		NewClientWithDI,
		NewRunExporter,
	),
	fx.Invoke(RegisterTracerLifecycle),
)

// TracerParams groups the dependencies needed to create a Tracer.
type TracerParams struct {
	fx.In

	Config Config
	Logger Logger             `optional:"true"`
	Codec  *propagation.Codec `optional:"true"`
}

// NewClientWithDI creates a Tracer from injected dependencies. Without a
// logger, exporter setup failures are reported through the standard log
// package.
func NewClientWithDI(params TracerParams) *Tracer {
	logger := params.Logger
	if logger == nil {
		logger = stdLogger{}
	}
	return NewClient(params.Config, logger).WithCodec(params.Codec)
}

// RegisterTracerLifecycle shuts the tracer provider down on stop, flushing
// pending spans.
func RegisterTracerLifecycle(lc fx.Lifecycle, tracer *Tracer) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Println("INFO: shutting down tracer...")
			if tracer.tracer == nil {
				log.Println("INFO: tracer is nil, skipping shutdown")
				return nil
			}
			return tracer.tracer.Shutdown(ctx)
		},
	})
}

type stdLogger struct{}

func (stdLogger) Info(msg string, err error, _ ...map[string]interface{}) {
	log.Printf("INFO: %s: %v", msg, err)
}
func (stdLogger) Debug(msg string, err error, _ ...map[string]interface{}) {
	log.Printf("DEBUG: %s: %v", msg, err)
}
func (stdLogger) Warn(msg string, err error, _ ...map[string]interface{}) {
	log.Printf("WARN: %s: %v", msg, err)
}
func (stdLogger) Error(msg string, err error, _ ...map[string]interface{}) {
	log.Printf("ERROR: %s: %v", msg, err)
}
func (stdLogger) Fatal(msg string, err error, _ ...map[string]interface{}) {
	log.Fatalf("FATAL: %s: %v", msg, err)
}
