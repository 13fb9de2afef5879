package ingest

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// MemoryCollector is an in-process ingestion collaborator. It merges every
// snapshot of a run regardless of arrival order and rebuilds trees from the
// flat record set, exactly from trace_id, parent_run_id and dotted_order.
// It is intended for tests, demos and the runtrace CLI.
//
// MemoryCollector implements both Client and runtree.Sink.
type MemoryCollector struct {
	mu      sync.RWMutex
	records map[uuid.UUID]runtree.Record
	creates int
	updates int
}

var (
	_ Client       = (*MemoryCollector)(nil)
	_ runtree.Sink = (*MemoryCollector)(nil)
)

// NewMemoryCollector returns an empty collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{records: make(map[uuid.UUID]runtree.Record)}
}

// CreateRun implements Client.
func (m *MemoryCollector) CreateRun(_ context.Context, rec runtree.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	m.merge(rec)
	return nil
}

// UpdateRun implements Client. An update for an unknown run is stored as is;
// the create that follows is merged into it.
func (m *MemoryCollector) UpdateRun(_ context.Context, rec runtree.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.merge(rec)
	return nil
}

// Post implements runtree.Sink.
func (m *MemoryCollector) Post(ctx context.Context, rec runtree.Record) error {
	return m.CreateRun(ctx, rec)
}

// Patch implements runtree.Sink.
func (m *MemoryCollector) Patch(ctx context.Context, rec runtree.Record) error {
	return m.UpdateRun(ctx, rec)
}

func (m *MemoryCollector) merge(rec runtree.Record) {
	if prev, ok := m.records[rec.ID]; ok {
		m.records[rec.ID] = prev.Merge(rec)
		return
	}
	m.records[rec.ID] = rec
}

// Record returns the merged state of one run.
func (m *MemoryCollector) Record(id uuid.UUID) (runtree.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok
}

// Records returns every run ordered by trace id, then dotted order.
func (m *MemoryCollector) Records() []runtree.Record {
	m.mu.RLock()
	out := make([]runtree.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TraceID != out[j].TraceID {
			return out[i].TraceID.String() < out[j].TraceID.String()
		}
		return out[i].DottedOrder < out[j].DottedOrder
	})
	return out
}

// Trace returns the runs of one trace in dotted order.
func (m *MemoryCollector) Trace(traceID uuid.UUID) []runtree.Record {
	var out []runtree.Record
	for _, rec := range m.Records() {
		if rec.TraceID == traceID {
			out = append(out, rec)
		}
	}
	return out
}

// Trees reconstructs every tree known to the collector.
func (m *MemoryCollector) Trees() []*runtree.Node {
	return runtree.Reconstruct(m.Records())
}

// Len returns the number of distinct runs.
func (m *MemoryCollector) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Counts returns how many creates and updates were received.
func (m *MemoryCollector) Counts() (creates, updates int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creates, m.updates
}

// Reset drops all records.
func (m *MemoryCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[uuid.UUID]runtree.Record)
	m.creates, m.updates = 0, 0
}
