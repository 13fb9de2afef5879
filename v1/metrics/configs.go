package metrics

// Default values for configuration.
const (
	DefaultMetricsAddress = ":9090"
	DefaultNamespace      = "runtrace"
)

// Config defines the configuration for the Prometheus metrics server.
type Config struct {
	// Address is where the /metrics endpoint listens.
	//
	// Example values:
	//   - ":9090"   → Listen on all interfaces, port 9090
	//   - "127.0.0.1:9100" → Listen only on localhost, port 9100
	//
	// Default: ":9090"
	Address string `yaml:"address" envconfig:"METRICS_ADDRESS"`

	// EnableDefaultCollectors registers the Go runtime, process and build info
	// collectors.
	EnableDefaultCollectors bool `yaml:"enable_default_collectors" envconfig:"METRICS_ENABLE_DEFAULT_COLLECTORS"`

	// Namespace prefixes every metric registered by this package.
	//
	// Example:
	//   Namespace: "runtrace"
	//   → "runtrace_operations_total"
	//
	// Default: "runtrace"
	Namespace string `yaml:"namespace" envconfig:"METRICS_NAMESPACE"`

	// ServiceName is added as the constant label service="<name>" to every
	// metric.
	ServiceName string `yaml:"service_name" envconfig:"METRICS_SERVICE_NAME"`
}
