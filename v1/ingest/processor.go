package ingest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aleph-Alpha/runtrace/v1/observability"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// Processor is an asynchronous runtree.Sink. Post and Patch only enqueue; a
// fixed set of workers delivers records to the Client in the background, so
// tree bookkeeping never waits for the network.
//
// Records are sharded by run id: every snapshot of a run goes through the same
// worker, which keeps a run's create ahead of its updates. Queues are bounded;
// when one is full the record is rejected with ErrQueueFull rather than
// blocking the caller.
//
// Delivery failures never reach the host operation. They are counted, logged,
// reported to the observer and to the OnError hook if one is set.
type Processor struct {
	cfg      Config
	client   Client
	logger   Logger
	observer observability.Observer
	onError  func(Event, error)

	queues []chan job
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	queued    atomic.Int64
}

type job struct {
	ctx   context.Context
	event Event
	// barrier is set for flush markers; the worker closes it when reached.
	barrier chan struct{}
}

// Stats is a point in time view of the processor counters.
type Stats struct {
	Delivered int64
	Failed    int64
	Dropped   int64
	Queued    int64
}

var (
	_ runtree.Sink    = (*Processor)(nil)
	_ runtree.Flusher = (*Processor)(nil)
)

// NewProcessor starts cfg.Workers delivery workers in front of client.
//
// Example:
//
//	processor := ingest.NewProcessor(cfg, client).
//	    WithLogger(log).
//	    WithObserver(metricsClient)
//	defer processor.Close(context.Background())
//
//	tree, err := runtree.NewRoot("chat", runtree.RunTypeChain, inputs, runtree.WithSink(processor))
func NewProcessor(cfg Config, client Client) *Processor {
	cfg = cfg.withDefaults()
	p := &Processor{
		cfg:    cfg,
		client: client,
		logger: nopLogger{},
		queues: make([]chan job, cfg.Workers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan job, cfg.QueueSize)
		p.wg.Add(1)
		go p.worker(p.queues[i])
	}
	return p
}

// WithLogger sets the logger used to report delivery failures.
func (p *Processor) WithLogger(l Logger) *Processor {
	if l != nil {
		p.logger = l
	}
	return p
}

// WithObserver sets an observer notified about every delivery and rejection.
func (p *Processor) WithObserver(o observability.Observer) *Processor {
	p.observer = o
	return p
}

// OnError registers a hook called from the worker goroutine for every failed
// delivery, e.g. to feed a retry queue.
func (p *Processor) OnError(fn func(Event, error)) *Processor {
	p.onError = fn
	return p
}

// Post implements runtree.Sink.
func (p *Processor) Post(ctx context.Context, rec runtree.Record) error {
	return p.enqueue(ctx, Event{Op: OpPost, Run: rec})
}

// Patch implements runtree.Sink.
func (p *Processor) Patch(ctx context.Context, rec runtree.Record) error {
	return p.enqueue(ctx, Event{Op: OpPatch, Run: rec})
}

func (p *Processor) enqueue(ctx context.Context, ev Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	q := p.queues[p.shard(ev.Run)]
	select {
	case q <- job{ctx: context.WithoutCancel(ctx), event: ev}:
		p.queued.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		err := fmt.Errorf("%w: run %s", ErrQueueFull, ev.Run.ID)
		p.observeOperation("enqueue", ev, 0, err)
		return err
	}
}

func (p *Processor) shard(rec runtree.Record) int {
	return int(binary.BigEndian.Uint32(rec.ID[12:]) % uint32(len(p.queues)))
}

func (p *Processor) worker(q <-chan job) {
	defer p.wg.Done()
	for j := range q {
		if j.barrier != nil {
			close(j.barrier)
			continue
		}
		p.queued.Add(-1)
		p.deliver(j.ctx, j.event)
	}
}

func (p *Processor) deliver(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	err := Apply(ctx, p.client, ev)
	p.observeOperation(ev.Op, ev, time.Since(start), err)

	if err == nil {
		p.delivered.Add(1)
		return
	}
	p.failed.Add(1)
	p.logger.ErrorWithContext(ctx, "failed to deliver run", err, map[string]interface{}{
		"operation":    ev.Op,
		"run_id":       ev.Run.ID.String(),
		"trace_id":     ev.Run.TraceID.String(),
		"dotted_order": ev.Run.DottedOrder,
	})
	if p.onError != nil {
		p.onError(ev, err)
	}
}

// Flush blocks until every record enqueued before the call has been handed to
// the client, or ctx is done.
func (p *Processor) Flush(ctx context.Context) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	barriers := make([]chan struct{}, 0, len(p.queues))
	for _, q := range p.queues {
		b := make(chan struct{})
		select {
		case q <- job{barrier: b}:
			barriers = append(barriers, b)
		case <-ctx.Done():
			p.mu.RUnlock()
			return fmt.Errorf("ingest: flush: %w", ctx.Err())
		}
	}
	p.mu.RUnlock()

	for _, b := range barriers {
		select {
		case <-b:
		case <-ctx.Done():
			return fmt.Errorf("ingest: flush: %w", ctx.Err())
		}
	}
	return nil
}

// Close stops accepting records, drains the queues and waits for the workers
// until ctx is done. Calling Close more than once is a no-op.
func (p *Processor) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.WarnWithContext(ctx, "run processor closed before the queues were drained", ctx.Err(), map[string]interface{}{
			"queued": p.queued.Load(),
		})
		return fmt.Errorf("ingest: close: %w", ctx.Err())
	}
}

// Stats returns the current counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Delivered: p.delivered.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    p.queued.Load(),
	}
}

func (p *Processor) observeOperation(op string, ev Event, d time.Duration, err error) {
	if p.observer == nil {
		return
	}
	p.observer.ObserveOperation(observability.OperationContext{
		Component:   "ingest",
		Operation:   op,
		Resource:    "processor",
		SubResource: ev.Run.ID.String(),
		Duration:    d,
		Error:       err,
		Metadata: map[string]interface{}{
			"trace_id": ev.Run.TraceID.String(),
			"queued":   p.queued.Load(),
		},
	})
}
