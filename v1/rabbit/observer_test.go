package rabbit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Aleph-Alpha/runtrace/v1/observability"
)

// TestObserver is a mock observer for testing
type TestObserver struct {
	mu         sync.Mutex
	operations []observability.OperationContext
}

func (t *TestObserver) ObserveOperation(ctx observability.OperationContext) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.operations = append(t.operations, ctx)
}

func (t *TestObserver) GetOperations() []observability.OperationContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]observability.OperationContext{}, t.operations...)
}

func TestObserverHelperMethod(t *testing.T) {
	testObserver := &TestObserver{}

	client := &RabbitClient{
		cfg: Config{
			Channel: Channel{
				ExchangeName: "runs",
				RoutingKey:   "run.event",
			},
		},
		observer: testObserver,
	}

	client.observeOperation("produce", "runs", "run.event", 100*time.Millisecond, nil, 1024)

	ops := testObserver.GetOperations()
	if len(ops) != 1 {
		t.Fatalf("Expected 1 operation, got %d", len(ops))
	}

	op := ops[0]
	if op.Component != "rabbit" {
		t.Errorf("Expected component 'rabbit', got %s", op.Component)
	}
	if op.Operation != "produce" {
		t.Errorf("Expected operation 'produce', got %s", op.Operation)
	}
	if op.Resource != "runs" {
		t.Errorf("Expected resource 'runs', got %s", op.Resource)
	}
	if op.SubResource != "run.event" {
		t.Errorf("Expected subResource 'run.event', got %s", op.SubResource)
	}
	if op.Size != 1024 {
		t.Errorf("Expected size 1024, got %d", op.Size)
	}
}

func TestObserverNilObserver(t *testing.T) {
	client := &RabbitClient{}

	// Should not panic
	client.observeOperation("produce", "runs", "run.event", 100*time.Millisecond, nil, 512)
	client.logInfo(context.Background(), "no logger", nil)
}

// MockLogger for testing
type MockLogger struct {
	mu          sync.Mutex
	InfoCalled  bool
	WarnCalled  bool
	ErrorCalled bool
	errors      []string
}

func (m *MockLogger) InfoWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InfoCalled = true
}

func (m *MockLogger) WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WarnCalled = true
}

func (m *MockLogger) ErrorWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorCalled = true
	m.errors = append(m.errors, msg)
}

func TestBuilderChaining(t *testing.T) {
	testObserver := &TestObserver{}
	mockLogger := &MockLogger{}

	client := &RabbitClient{}
	result := client.
		WithObserver(testObserver).
		WithLogger(mockLogger).
		WithCodec(nil)

	if result != client {
		t.Error("builders should return the same client instance for chaining")
	}
	if client.observer != testObserver {
		t.Error("Observer was not attached")
	}
	if client.logger != mockLogger {
		t.Error("Logger was not attached")
	}

	client.logInfo(context.Background(), "test message", map[string]interface{}{"key": "value"})
	if !mockLogger.InfoCalled {
		t.Error("Expected logger.Info to be called")
	}
}

func BenchmarkObserverOverhead(b *testing.B) {
	client := &RabbitClient{observer: &TestObserver{}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		client.observeOperation("produce", "runs", "run.event", time.Millisecond, nil, 100)
	}
}
