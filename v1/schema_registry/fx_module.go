package schema_registry

import (
	"go.uber.org/fx"

	"github.com/Aleph-Alpha/runtrace/v1/observability"
)

// FXModule provides a Registry and a run event *Serializer. Config.Subject
// must be set, see Config.
//
// Usage:
//
//	app := fx.New(
//	    schema_registry.FXModule,
//	    fx.Provide(func() schema_registry.Config {
//	        return schema_registry.Config{
//	            URL:     "http://localhost:8081",
//	            Subject: "runtrace-runs-value",
//	        }
//	    }),
//	)
var FXModule = fx.Module("schema_registry",
	fx.Provide(
		NewClientWithDI,
		NewRunEventSerializerWithDI,
	),
)

// SchemaRegistryParams groups the dependencies needed to create a client.
type SchemaRegistryParams struct {
	fx.In

	Config   Config
	Observer observability.Observer `optional:"true"`
}

// NewClientWithDI creates a Registry from injected dependencies.
func NewClientWithDI(params SchemaRegistryParams) (Registry, error) {
	client, err := NewClient(params.Config)
	if err != nil {
		return nil, err
	}
	return client.WithObserver(params.Observer), nil
}

// SerializerParams groups the dependencies of the run event serializer.
type SerializerParams struct {
	fx.In

	Config   Config
	Registry Registry
}

// NewRunEventSerializerWithDI creates the run event serializer for
// Config.Subject.
func NewRunEventSerializerWithDI(params SerializerParams) (*Serializer, error) {
	if params.Config.Subject == "" {
		return nil, ErrNoSubject
	}
	return NewRunEventSerializer(params.Registry, params.Config.Subject), nil
}
