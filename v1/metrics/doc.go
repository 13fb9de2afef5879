// Package metrics exposes Prometheus metrics for run tracing.
//
// Metrics owns an isolated registry in which every metric carries the
// service="<ServiceName>" label, and serves it on /metrics. It implements
// observability.Observer, so wiring it into the other packages is a matter of
// passing it to their WithObserver builders:
//
//	m := metrics.NewMetrics(metrics.Config{ServiceName: "notebook"})
//	processor := ingest.NewProcessor(cfg, client).WithObserver(m)
//	codec := propagation.NewCodec(propagation.DefaultConfig()).WithObserver(m)
//	_ = m.RegisterProcessor("default", processor)
//
// Built-in metrics, prefixed with Config.Namespace ("runtrace" by default):
//
//   - operations_total{component,operation,status}
//   - operation_duration_seconds{component,operation}
//   - operation_bytes_total{component,operation}
//   - propagation_errors_total{operation,kind}
//   - ingest_deliveries_total{processor,result}
//   - ingest_queue_depth{processor}
//   - requests_total{status} and request_duration_seconds{endpoint}
//
// Application specific metrics can be added with CreateCounter,
// CreateHistogram and CreateGauge; they are registered in the same registry.
//
// In an Fx application, FXModule provides *Metrics as the
// observability.Observer and runs the HTTP server for the lifetime of the app.
package metrics
