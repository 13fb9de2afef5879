package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns an isolated Prometheus registry, the /metrics HTTP server and
// the built-in delivery metrics. It implements observability.Observer, so it
// can be handed to the processor, the codec and every broker client.
type Metrics struct {
	// Server defines the HTTP server used to expose the /metrics endpoint.
	Server *http.Server

	// Registry is the Prometheus registry where all metrics are registered.
	Registry *prometheus.Registry

	namespace  string
	registerer prometheus.Registerer

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationBytes    *prometheus.CounterVec
	propagationErrors *prometheus.CounterVec
}

var _ MetricsCollector = (*Metrics)(nil)

// NewMetrics sets up a dedicated registry whose metrics all carry the label
// service="<cfg.ServiceName>", registers the built-in metrics and creates the
// HTTP server for the /metrics endpoint. The server is not started.
//
// Example:
//
//	m := metrics.NewMetrics(metrics.Config{
//	    Address:     ":9090",
//	    ServiceName: "notebook",
//	})
//	go m.Server.ListenAndServe()
//
//	processor := ingest.NewProcessor(cfg, client).WithObserver(m)
func NewMetrics(cfg Config) *Metrics {
	if cfg.Address == "" {
		cfg.Address = DefaultMetricsAddress
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}

	registry := prometheus.NewRegistry()
	wrappedRegistry := prometheus.WrapRegistererWith(
		prometheus.Labels{"service": cfg.ServiceName},
		registry,
	)

	m := &Metrics{
		Registry:   registry,
		namespace:  cfg.Namespace,
		registerer: wrappedRegistry,
	}

	m.requestsTotal = createCounterVec(m.namespace, "requests_total", "Total number of processed requests", []string{"status"})
	m.requestDuration = createHistogramVec(m.namespace, "request_duration_seconds", "Duration of HTTP requests in seconds", []string{"endpoint"}, prometheus.DefBuckets)
	m.operationsTotal = createCounterVec(m.namespace, "operations_total", "Operations performed by tracing components", []string{"component", "operation", "status"})
	m.operationDuration = createHistogramVec(m.namespace, "operation_duration_seconds", "Duration of tracing component operations in seconds", []string{"component", "operation"}, prometheus.ExponentialBuckets(0.0005, 4, 8))
	m.operationBytes = createCounterVec(m.namespace, "operation_bytes_total", "Payload bytes handled by tracing component operations", []string{"component", "operation"})
	m.propagationErrors = createCounterVec(m.namespace, "propagation_errors_total", "Trace context encode and decode failures", []string{"operation", "kind"})

	wrappedRegistry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.operationsTotal,
		m.operationDuration,
		m.operationBytes,
		m.propagationErrors,
	)

	if cfg.EnableDefaultCollectors {
		wrappedRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewBuildInfoCollector(),
		)
	}

	m.Server = &http.Server{
		Addr:    cfg.Address,
		Handler: m.Handler(),
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
