package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aleph-Alpha/runtrace/v1/observability"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
)

// ObserveOperation implements observability.Observer.
func (m *Metrics) ObserveOperation(ctx observability.OperationContext) {
	m.operationsTotal.WithLabelValues(ctx.Component, ctx.Operation, ctx.Status()).Inc()
	if ctx.Duration > 0 {
		m.operationDuration.WithLabelValues(ctx.Component, ctx.Operation).Observe(ctx.Duration.Seconds())
	}
	if ctx.Size > 0 {
		m.operationBytes.WithLabelValues(ctx.Component, ctx.Operation).Add(float64(ctx.Size))
	}
	if ctx.Component == "propagation" && ctx.Error != nil {
		m.propagationErrors.WithLabelValues(ctx.Operation, propagationErrorKind(ctx.Error)).Inc()
	}
}

func propagationErrorKind(err error) string {
	switch {
	case propagation.IsEncodingError(err):
		return "encoding"
	case propagation.IsMalformedContextError(err):
		return "malformed_context"
	case propagation.IsMissingParentContextError(err):
		return "missing_parent_context"
	default:
		return "other"
	}
}

// RegisterProcessor exports the statistics of p, labelled processor=name:
// deliveries by result and the current queue depth.
func (m *Metrics) RegisterProcessor(name string, p StatsSource) error {
	return prometheus.WrapRegistererWith(prometheus.Labels{"processor": name}, m.registerer).
		Register(newProcessorCollector(m.namespace, p))
}

// processorCollector reads processor statistics at scrape time.
type processorCollector struct {
	source     StatsSource
	deliveries *prometheus.Desc
	queued     *prometheus.Desc
}

func newProcessorCollector(namespace string, source StatsSource) *processorCollector {
	return &processorCollector{
		source: source,
		deliveries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ingest", "deliveries_total"),
			"Run deliveries handled by the ingest processor, by result",
			[]string{"result"}, nil,
		),
		queued: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ingest", "queue_depth"),
			"Run deliveries waiting in the ingest processor queues",
			nil, nil,
		),
	}
}

func (c *processorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.deliveries
	ch <- c.queued
}

func (c *processorCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.deliveries, prometheus.CounterValue, float64(s.Delivered), "delivered")
	ch <- prometheus.MustNewConstMetric(c.deliveries, prometheus.CounterValue, float64(s.Failed), "failed")
	ch <- prometheus.MustNewConstMetric(c.deliveries, prometheus.CounterValue, float64(s.Dropped), "dropped")
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(s.Queued))
}
