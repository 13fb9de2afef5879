package cli

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/kafka"
	"github.com/Aleph-Alpha/runtrace/v1/logger"
	"github.com/Aleph-Alpha/runtrace/v1/metrics"
	"github.com/Aleph-Alpha/runtrace/v1/observability"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/propagation/middleware"
	"github.com/Aleph-Alpha/runtrace/v1/rabbit"
	"github.com/Aleph-Alpha/runtrace/v1/redis"
	"github.com/Aleph-Alpha/runtrace/v1/schema_registry"
	"github.com/Aleph-Alpha/runtrace/v1/tracer"
)

// baseModule provides the configuration, the logger bound to every package
// Logger interface, the codec, the OpenTelemetry bridge and an in-memory
// collector used by the "memory" sink.
func baseModule(cfg Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg, cfg.Logger, cfg.Propagation, cfg.Ingest, cfg.Tracer),
		logger.FXModule,
		fx.Provide(
			fx.Annotate(
				func(l *logger.Logger) *logger.Logger { return l },
				fx.As(new(ingest.Logger)),
				fx.As(new(kafka.Logger)),
				fx.As(new(rabbit.Logger)),
				fx.As(new(redis.Logger)),
				fx.As(new(tracer.Logger)),
				fx.As(new(metrics.Logger)),
				fx.As(new(middleware.Logger)),
			),
			newCodec,
			ingest.NewMemoryCollector,
		),
		tracer.FXModule,
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)
}

// brokerModule adds the module of the given broker, if any.
func brokerModule(cfg Config, broker string) fx.Option {
	switch broker {
	case SinkKafka:
		return fx.Options(fx.Supply(cfg.Kafka), kafka.FXModule, eventCodecModule(cfg))
	case SinkRabbit:
		return fx.Options(fx.Supply(cfg.Rabbit), rabbit.FXModule)
	case SinkRedis:
		return fx.Options(fx.Supply(cfg.Redis), redis.FXModule)
	default:
		return fx.Options()
	}
}

// eventCodecModule frames Kafka run events through the schema registry.
func eventCodecModule(cfg Config) fx.Option {
	if !cfg.SchemaRegistry.Enabled() {
		return fx.Options()
	}
	return fx.Options(
		fx.Supply(cfg.SchemaRegistry),
		schema_registry.FXModule,
		fx.Provide(func(s *schema_registry.Serializer) kafka.EventCodec { return s }),
	)
}

// deliveryModule sends runs through an ingest.Processor into the configured sink.
func deliveryModule(cfg Config) fx.Option {
	return fx.Options(
		brokerModule(cfg, cfg.Sink),
		fx.Provide(newIngestClient),
		ingest.FXModule,
	)
}

type codecParams struct {
	fx.In

	Config   propagation.Config
	Logger   *logger.Logger
	Observer observability.Observer `optional:"true"`
}

func newCodec(p codecParams) *propagation.Codec {
	codec := propagation.NewCodec(p.Config).WithLogger(p.Logger)
	if p.Observer != nil {
		codec.WithObserver(p.Observer)
	}
	return codec
}

type clientParams struct {
	fx.In

	Config    Config
	Collector *ingest.MemoryCollector
	Exporter  *tracer.RunExporter
	Observer  observability.Observer `optional:"true"`
	Kafka     *kafka.RunSink         `optional:"true"`
	Rabbit    *rabbit.RunSink        `optional:"true"`
	Redis     *redis.RunSink         `optional:"true"`
}

// newIngestClient resolves Config.Sink to the client behind the processor.
// With span export enabled every run is also exported to OpenTelemetry.
func newIngestClient(p clientParams) (ingest.Client, error) {
	client, err := sinkClient(p)
	if err != nil {
		return nil, err
	}
	if p.Config.Tracer.EnableExport {
		return ingest.NewMultiClient(client, p.Exporter), nil
	}
	return client, nil
}

func sinkClient(p clientParams) (ingest.Client, error) {
	switch p.Config.Sink {
	case SinkMemory:
		return p.Collector, nil
	case SinkHTTP:
		hc, err := ingest.NewHTTPClient(p.Config.Ingest)
		if err != nil {
			return nil, err
		}
		if p.Observer != nil {
			hc.WithObserver(p.Observer)
		}
		return hc, nil
	case SinkKafka:
		if p.Kafka != nil {
			return p.Kafka, nil
		}
	case SinkRabbit:
		if p.Rabbit != nil {
			return p.Rabbit, nil
		}
	case SinkRedis:
		if p.Redis != nil {
			return p.Redis, nil
		}
	}
	return nil, fmt.Errorf("sink %q is not available", p.Config.Sink)
}
