package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/observability"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
)

type fixedStats ingest.Stats

func (s fixedStats) Stats() ingest.Stats { return ingest.Stats(s) }

func newTestMetrics() *Metrics {
	return NewMetrics(Config{Address: "127.0.0.1:0", ServiceName: "notebook"})
}

func TestNewMetricsDefaults(t *testing.T) {
	m := NewMetrics(Config{})
	assert.Equal(t, DefaultMetricsAddress, m.Server.Addr)
	assert.Equal(t, DefaultNamespace, m.namespace)
	assert.NotNil(t, m.Registry)
}

func TestObserveOperation(t *testing.T) {
	m := newTestMetrics()

	m.ObserveOperation(observability.OperationContext{
		Component: "ingest",
		Operation: "post",
		Duration:  3 * time.Millisecond,
		Size:      128,
	})
	m.ObserveOperation(observability.OperationContext{
		Component: "ingest",
		Operation: "post",
		Error:     errors.New("collector down"),
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("ingest", "post", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("ingest", "post", "error")))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.operationBytes.WithLabelValues("ingest", "post")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.operationDuration))
	assert.Zero(t, testutil.CollectAndCount(m.propagationErrors))
}

func TestPropagationErrors(t *testing.T) {
	m := newTestMetrics()
	codec := propagation.NewCodec(propagation.DefaultConfig()).WithObserver(m)

	_, err := codec.Decode(map[string]string{propagation.DefaultContextField: "v9;garbage"})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.propagationErrors.WithLabelValues("decode", "malformed_context")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("propagation", "decode", "error")))

	assert.Equal(t, "encoding", propagationErrorKind(propagation.ErrEncoding))
	assert.Equal(t, "missing_parent_context", propagationErrorKind(propagation.ErrMissingParentContext))
	assert.Equal(t, "other", propagationErrorKind(errors.New("x")))
}

func TestRegisterProcessor(t *testing.T) {
	m := newTestMetrics()
	source := fixedStats{Delivered: 5, Failed: 2, Dropped: 1, Queued: 7}

	expected := `
# HELP runtrace_ingest_deliveries_total Run deliveries handled by the ingest processor, by result
# TYPE runtrace_ingest_deliveries_total counter
runtrace_ingest_deliveries_total{result="delivered"} 5
runtrace_ingest_deliveries_total{result="dropped"} 1
runtrace_ingest_deliveries_total{result="failed"} 2
# HELP runtrace_ingest_queue_depth Run deliveries waiting in the ingest processor queues
# TYPE runtrace_ingest_queue_depth gauge
runtrace_ingest_queue_depth 7
`
	require.NoError(t, testutil.CollectAndCompare(newProcessorCollector(DefaultNamespace, source), strings.NewReader(expected)))

	require.NoError(t, m.RegisterProcessor("default", source))
	count, err := testutil.GatherAndCount(m.Registry, "runtrace_ingest_queue_depth")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Error(t, m.RegisterProcessor("default", source), "duplicate registration")
	assert.NoError(t, m.RegisterProcessor("secondary", source))
}

func TestHandlerCarriesServiceLabel(t *testing.T) {
	m := newTestMetrics()
	m.IncrementRequests("200")
	m.RecordRequestDuration(time.Now(), "/runs")

	requests := m.CreateCounter("custom_total", "custom counter", []string{"kind"})
	requests.WithLabelValues("a").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `runtrace_requests_total{service="notebook",status="200"} 1`)
	assert.Contains(t, body, `runtrace_custom_total{kind="a",service="notebook"} 1`)
	assert.Contains(t, body, "runtrace_request_duration_seconds_count")
}

func TestCreateHelpers(t *testing.T) {
	m := newTestMetrics()

	hist := m.CreateHistogram("latency_seconds", "latency", []string{"model"}, []float64{0.1, 1})
	hist.WithLabelValues("small").Observe(0.5)
	gauge := m.CreateGauge("open_runs", "open runs", []string{"tree"})
	gauge.WithLabelValues("t1").Set(3)

	assert.Equal(t, 3.0, testutil.ToFloat64(gauge.WithLabelValues("t1")))
	assert.Equal(t, 1, testutil.CollectAndCount(hist))
	assert.Panics(t, func() { m.CreateGauge("open_runs", "open runs", []string{"tree"}) })
}

func TestFXModule(t *testing.T) {
	var (
		m   *Metrics
		obs observability.Observer
	)
	collector := ingest.NewMemoryCollector()
	app := fxtest.New(t,
		FXModule,
		fx.Provide(
			func() Config { return Config{Address: "127.0.0.1:0", ServiceName: "notebook"} },
			func() *ingest.Processor { return ingest.NewProcessor(ingest.Config{Workers: 1}, collector) },
		),
		fx.Populate(&m, &obs),
	)
	app.RequireStart()

	assert.Same(t, m, obs)
	count, err := testutil.GatherAndCount(m.Registry, "runtrace_ingest_deliveries_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	app.RequireStop()
}
