package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, SinkMemory, cfg.Sink)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "runtrace-context", cfg.Propagation.ContextField)
	assert.True(t, cfg.Logger.EnableTracing)
}

func TestLoadConfigFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtrace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":9000"
ingest:
  endpoint: http://collector:1984
  retry_max: 5
propagation:
  context_field: x-run-context
kafka:
  brokers: [kafka:9092]
  topic: runs
`), 0o600))

	t.Setenv("RUNTRACE_INGEST_REQUEST_TIMEOUT", "3s")
	t.Setenv("RUNTRACE_SERVER_ADDRESS", ":9100")
	t.Setenv("SCHEMA_REGISTRY_URL", "http://registry:8081")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, SinkHTTP, cfg.Sink, "an endpoint selects the http sink")
	assert.Equal(t, ":9100", cfg.Server.Address)
	assert.Equal(t, "http://collector:1984", cfg.Ingest.Endpoint)
	assert.Equal(t, 5, cfg.Ingest.RetryMax)
	assert.Equal(t, 3*time.Second, cfg.Ingest.RequestTimeout)
	assert.Equal(t, "x-run-context", cfg.Propagation.ContextField)
	assert.Equal(t, "runtrace-baggage", cfg.Propagation.BaggageField)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "http://registry:8081", cfg.SchemaRegistry.URL)
	assert.Equal(t, "runs-value", cfg.SchemaRegistry.Subject, "subject follows the topic")
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("RUNTRACE_SINK", "carrier-pigeon")
	_, err = LoadConfig("")
	assert.ErrorContains(t, err, "carrier-pigeon")
}
