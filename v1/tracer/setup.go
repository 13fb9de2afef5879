package tracer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprop "go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aleph-Alpha/runtrace/v1/propagation"
)

const instrumentationName = "github.com/Aleph-Alpha/runtrace/v1/tracer"

// Logger defines the logging operations used by the tracer.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
	Fatal(msg string, err error, fields ...map[string]interface{})
}

// Tracer bridges run trees and OpenTelemetry. It owns a TracerProvider whose
// ids follow the ambient run, exports ended runs as spans through RunExporter,
// and propagates W3C trace context, W3C baggage and run context together.
//
// The Tracer is safe for concurrent use.
type Tracer struct {
	tracer     *sdktrace.TracerProvider
	cfg        Config
	logger     Logger
	propagator otelprop.TextMapPropagator
}

// NewClient creates a Tracer and installs it as the global OpenTelemetry
// tracer provider and propagator.
//
// If export is enabled, spans are batched to an OTLP/HTTP collector. Failing
// to create the exporter is fatal. opts are appended to the provider options,
// e.g. sdktrace.WithSyncer(exporter) in tests.
//
// Example:
//
//	tracerClient := tracer.NewClient(tracer.Config{
//	    ServiceName:  "notebook",
//	    AppEnv:       "production",
//	    EnableExport: true,
//	}, log)
//
//	ctx, span := tracerClient.StartSpan(ctx, "process-request")
//	defer span.End()
func NewClient(cfg Config, logger Logger, opts ...sdktrace.TracerProviderOption) *Tracer {
	options := []sdktrace.TracerProviderOption{
		sdktrace.WithIDGenerator(newRunIDGenerator()),
	}

	if cfg.EnableExport {
		var clientOpts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			clientOpts = append(clientOpts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(clientOpts...))
		if err != nil {
			logger.Fatal("cannot initiate tracer", err, nil)
			return nil
		}
		options = append(options, sdktrace.WithBatcher(exporter))
	}

	options = append(options, sdktrace.WithResource(resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.AppEnv),
		attribute.String("environment", cfg.AppEnv),
	)))
	options = append(options, opts...)

	t := &Tracer{
		tracer: sdktrace.NewTracerProvider(options...),
		cfg:    cfg,
		logger: logger,
	}
	t.WithCodec(propagation.NewCodec(propagation.DefaultConfig()))

	otel.SetTracerProvider(t.tracer)
	return t
}

// WithCodec sets the run codec used by the propagator and installs the
// resulting composite propagator globally. A nil codec is ignored.
func (t *Tracer) WithCodec(codec *propagation.Codec) *Tracer {
	if codec == nil {
		return t
	}
	t.propagator = otelprop.NewCompositeTextMapPropagator(
		otelprop.TraceContext{},
		otelprop.Baggage{},
		propagation.NewPropagator(codec),
	)
	otel.SetTextMapPropagator(t.propagator)
	return t
}

// Propagator returns the composite propagator: W3C trace context, W3C baggage
// and run context.
func (t *Tracer) Propagator() otelprop.TextMapPropagator {
	return t.propagator
}

// Provider returns the underlying tracer provider.
func (t *Tracer) Provider() trace.TracerProvider {
	return t.tracer
}

// ForceFlush exports all finished spans that are still buffered.
func (t *Tracer) ForceFlush(ctx context.Context) error {
	return t.tracer.ForceFlush(ctx)
}

// Shutdown flushes and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.tracer.Shutdown(ctx)
}
