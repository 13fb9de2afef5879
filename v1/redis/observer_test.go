package redis

import (
	"sync"
	"testing"
	"time"

	"github.com/Aleph-Alpha/runtrace/v1/observability"
)

// TestObserver is a mock observer for testing.
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
	out := make([]observability.OperationContext, len(t.operations))
	copy(out, t.operations)
	return out
}

func TestObserveOperationNilObserverNoPanic(t *testing.T) {
	r := &RedisClient{
		observer: nil,
	}

	// Should not panic.
	r.observeOperation("produce", "runtrace:runs", "post", 10*time.Millisecond, nil, 0, nil)
}

func TestObserveOperationCallsObserver(t *testing.T) {
	obs := &TestObserver{}
	r := &RedisClient{
		observer: obs,
	}

	r.observeOperation("produce", "runtrace:runs", "patch", 10*time.Millisecond, nil, 100, map[string]interface{}{"mode": "stream"})

	ops := obs.GetOperations()
	if len(ops) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(ops))
	}
	if ops[0].Component != "redis" {
		t.Fatalf("expected component redis, got %q", ops[0].Component)
	}
	if ops[0].Operation != "produce" {
		t.Fatalf("expected operation produce, got %q", ops[0].Operation)
	}
	if ops[0].Resource != "runtrace:runs" {
		t.Fatalf("expected resource runtrace:runs, got %q", ops[0].Resource)
	}
	if ops[0].SubResource != "patch" {
		t.Fatalf("expected subresource patch, got %q", ops[0].SubResource)
	}
	if ops[0].Size != 100 {
		t.Fatalf("expected size 100, got %d", ops[0].Size)
	}
	if ops[0].Metadata["mode"] != "stream" {
		t.Fatalf("expected metadata mode=stream, got %v", ops[0].Metadata["mode"])
	}
}
