package tracer

// Config configures the tracer provider and the run exporter.
type Config struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `yaml:"service_name" envconfig:"TRACER_SERVICE_NAME"`

	// AppEnv is reported as the deployment environment.
	AppEnv string `yaml:"app_env" envconfig:"TRACER_APP_ENV"`

	// EnableExport sends spans to an OTLP/HTTP collector.
	EnableExport bool `yaml:"enable_export" envconfig:"TRACER_ENABLE_EXPORT"`

	// Endpoint is the collector host:port. Empty uses the OTEL_EXPORTER_OTLP_*
	// environment or the exporter default, localhost:4318.
	Endpoint string `yaml:"endpoint" envconfig:"TRACER_ENDPOINT"`

	// Insecure disables TLS towards Endpoint.
	Insecure bool `yaml:"insecure" envconfig:"TRACER_INSECURE"`

	// RecordPayloads adds run inputs and outputs to exported spans as JSON
	// attributes. Payloads can be large and may hold user data.
	RecordPayloads bool `yaml:"record_payloads" envconfig:"TRACER_RECORD_PAYLOADS"`
}
