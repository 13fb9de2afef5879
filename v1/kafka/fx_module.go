package kafka

import (
	"context"
	"log"

	"go.uber.org/fx"

	"github.com/Aleph-Alpha/runtrace/v1/observability"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
)

// FXModule provides a *KafkaClient built from a Config in the container, and
// a *RunSink over it for producer clients.
//
// Usage:
//
//	app := fx.New(
//	    kafka.FXModule,
//	    fx.Provide(func() kafka.Config { return cfg.Kafka }),
//	)
var FXModule = fx.Module("kafka",
	fx.Provide(
		NewClientWithDI,
		NewRunSink,
	),
	fx.Invoke(RegisterKafkaLifecycle),
)

// KafkaParams groups the dependencies needed to create a Kafka client.
type KafkaParams struct {
	fx.In

	Config   Config
	Logger   Logger                 `optional:"true"`
	Observer observability.Observer `optional:"true"`
	Codec    *propagation.Codec     `optional:"true"`
	Events   EventCodec             `optional:"true"`
}

// NewClientWithDI creates a Kafka client from injected dependencies. The
// optional logger is also used for kafka-go's internal errors.
func NewClientWithDI(params KafkaParams) (*KafkaClient, error) {
	if params.Logger != nil {
		params.Config.Logger = params.Logger
	}

	client, err := NewClient(params.Config)
	if err != nil {
		return nil, err
	}
	return client.
		WithLogger(params.Logger).
		WithObserver(params.Observer).
		WithCodec(params.Codec).
		WithEventCodec(params.Events), nil
}

// KafkaLifecycleParams groups the dependencies for lifecycle management.
type KafkaLifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Client    *KafkaClient
}

// RegisterKafkaLifecycle shuts the client down when the application stops.
func RegisterKafkaLifecycle(params KafkaLifecycleParams) {
	params.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Println("INFO: Shutting down Kafka client")
			params.Client.GracefulShutdown()
			return nil
		},
	})
}
