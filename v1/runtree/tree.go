package runtree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tree owns every run created for one logical operation in this process and
// keeps track of the current run, the implicit parent for Tree.CreateChild.
//
// A tree is either a fresh trace (NewRoot) or the local continuation of a trace
// started elsewhere (NewRemote, usually via propagation.Attach). In both cases
// the runs it creates carry the fields the ingestion collaborator needs to place
// them in the one logical tree; no state is shared with other processes.
//
// A Tree can be dropped once Done reports true.
type Tree struct {
	sink   Sink
	logger Logger
	clock  func() time.Time

	remote      *RemoteParent
	remoteFloor time.Time
	remoteClock childClock

	mu      sync.RWMutex
	root    *Run
	current *Run
	runs    map[uuid.UUID]*Run
	order   []*Run

	// deliverMu serialises deliveries so a run is posted exactly once before
	// any patch for it is sent.
	deliverMu sync.Mutex
	delivered map[uuid.UUID]uint64
}

// RemoteParent identifies a run that lives in another process.
type RemoteParent struct {
	TraceID     uuid.UUID
	RunID       uuid.UUID
	DottedOrder string
}

// Validate checks that the dotted order is well formed, starts at the trace
// root and ends at the parent run.
func (p RemoteParent) Validate() error {
	if p.TraceID == uuid.Nil || p.RunID == uuid.Nil {
		return fmt.Errorf("%w: remote parent requires trace and run ids", ErrInvalidInput)
	}
	segs, err := ParseDottedOrder(p.DottedOrder)
	if err != nil {
		return err
	}
	if segs[0].RunID != p.TraceID {
		return fmt.Errorf("%w: first segment %s does not match trace id %s", ErrInvalidDottedOrder, segs[0].RunID, p.TraceID)
	}
	if segs[len(segs)-1].RunID != p.RunID {
		return fmt.Errorf("%w: last segment %s does not match parent run id %s", ErrInvalidDottedOrder, segs[len(segs)-1].RunID, p.RunID)
	}
	return nil
}

// NewRoot starts a new trace. The root run gets trace_id == id, no parent, and a
// single-segment dotted order seeded from its start time. It fails with
// ErrInvalidInput when name or runType is empty.
//
// Example:
//
//	tree, err := runtree.NewRoot("rag-pipeline", runtree.RunTypeChain,
//	    runtree.MustPayload(map[string]interface{}{"question": q}),
//	    runtree.WithSink(processor),
//	    runtree.WithTags("notebook"),
//	)
//	if err != nil {
//	    return err
//	}
//	root := tree.Root()
//	defer tree.Flush(ctx)
func NewRoot(name, runType string, inputs Payload, opts ...Option) (*Tree, error) {
	o := buildOptions(opts)
	if err := validateCreate(name, runType, o); err != nil {
		return nil, err
	}

	t := newTree(o)
	id := o.id
	if id == uuid.Nil {
		id = newRunID()
	}
	start := o.startTime
	if start.IsZero() {
		start = t.now()
	}
	start = start.UTC().Truncate(time.Microsecond)

	run := t.newRun(nil, id, id, uuid.Nil, name, runType, inputs, start, FormatSegment(start, id), o)
	_ = t.register(run) // first run of a fresh tree
	return t, nil
}

// NewRemote creates a tree whose root run is a child of a run living in another
// process. The new run inherits the remote trace id, uses the remote run as
// parent and extends the remote dotted order with one segment, exactly as a
// local child would.
func NewRemote(parent RemoteParent, name, runType string, inputs Payload, opts ...Option) (*Tree, error) {
	o := buildOptions(opts)
	if err := validateCreate(name, runType, o); err != nil {
		return nil, err
	}
	if err := parent.Validate(); err != nil {
		return nil, err
	}
	segs, _ := ParseDottedOrder(parent.DottedOrder)

	t := newTree(o)
	p := parent
	t.remote = &p
	t.remoteFloor = segs[len(segs)-1].Time

	id := o.id
	if id == uuid.Nil {
		id = newRunID()
	}
	candidate := o.startTime
	if candidate.IsZero() {
		candidate = t.now()
	}
	start := t.remoteClock.next(candidate, t.remoteFloor)
	dotted := parent.DottedOrder + SegmentSeparator + FormatSegment(start, id)

	run := t.newRun(nil, id, parent.TraceID, parent.RunID, name, runType, inputs, start, dotted, o)
	_ = t.register(run) // first run of a fresh tree
	return t, nil
}

func newTree(o options) *Tree {
	t := &Tree{
		sink:      o.sink,
		logger:    o.logger,
		clock:     o.clock,
		runs:      make(map[uuid.UUID]*Run),
		delivered: make(map[uuid.UUID]uint64),
	}
	if t.logger == nil {
		t.logger = nopLogger{}
	}
	if t.clock == nil {
		t.clock = time.Now
	}
	return t
}

func newRunID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

func (t *Tree) now() time.Time {
	return t.clock().UTC()
}

func (t *Tree) newRun(parent *Run, id, traceID, parentID uuid.UUID, name, runType string, inputs Payload, start time.Time, dotted string, o options) *Run {
	return &Run{
		tree:        t,
		parent:      parent,
		id:          id,
		traceID:     traceID,
		parentID:    parentID,
		name:        name,
		runType:     runType,
		dottedOrder: dotted,
		startTime:   start,
		inputs:      inputs.clone(),
		metadata:    o.metadata,
		tags:        newTagSet(o.tags),
		version:     1,
	}
}

// register adds run to the tree. It fails with ErrInvalidInput when a run with
// the same id is already registered.
func (t *Tree) register(run *Run) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.runs[run.id]; dup {
		return fmt.Errorf("%w: run id %s already exists in tree", ErrInvalidInput, run.id)
	}
	if t.root == nil {
		t.root = run
	}
	t.runs[run.id] = run
	t.order = append(t.order, run)
	if t.current == nil {
		t.current = run
	}
	return nil
}

func (t *Tree) newChild(parent *Run, name, runType string, inputs Payload, o options) (*Run, error) {
	if err := validateCreate(name, runType, o); err != nil {
		return nil, err
	}
	id := o.id
	if id == uuid.Nil {
		id = newRunID()
	}

	candidate := o.startTime
	if candidate.IsZero() {
		candidate = t.now()
	}
	start := parent.children.next(candidate, parent.startTime)
	dotted := parent.dottedOrder + SegmentSeparator + FormatSegment(start, id)

	child := t.newRun(parent, id, parent.traceID, parent.id, name, runType, inputs, start, dotted, o)
	if err := t.register(child); err != nil {
		return nil, err
	}
	parent.childStarted()
	return child, nil
}

// Root returns the first run of the tree: the trace root for NewRoot, the
// attached run for NewRemote.
func (t *Tree) Root() *Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Remote returns the remote parent this tree continues, if any.
func (t *Tree) Remote() (RemoteParent, bool) {
	if t.remote == nil {
		return RemoteParent{}, false
	}
	return *t.remote, true
}

// Current returns the run used as implicit parent by Tree.CreateChild.
func (t *Tree) Current() *Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// CreateChild creates a child of the current run and makes it the current run.
// When the child ends, the current run moves back to its nearest open ancestor.
// Use Run.CreateChild to create children of a specific run without touching the
// current run, e.g. from concurrent goroutines.
func (t *Tree) CreateChild(name, runType string, inputs Payload, opts ...Option) (*Run, error) {
	parent := t.Current()
	child, err := t.newChild(parent, name, runType, inputs, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.current = child
	t.mu.Unlock()
	return child, nil
}

// Run returns the run with the given id if this tree owns it.
func (t *Tree) Run(id uuid.UUID) (*Run, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.runs[id]
	return r, ok
}

// Runs returns every run of the tree in creation order.
func (t *Tree) Runs() []*Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Run, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of runs owned by the tree.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

func (t *Tree) runEnded(run *Run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != run {
		return
	}
	for p := run.parent; p != nil; p = p.parent {
		if !p.Ended() {
			t.current = p
			return
		}
	}
	t.current = t.root
}

// Post hands the latest state of run to the sink: Post the first time, Patch
// afterwards, nothing when the sink already has the latest state. Open runs may
// be posted to stream progress. Delivery errors are logged and returned; the
// tree is left unchanged and the run will be retried by the next Post or Flush.
func (t *Tree) Post(ctx context.Context, run *Run) error {
	if t.sink == nil {
		return ErrNoSink
	}
	if owned, ok := t.Run(run.ID()); !ok || owned != run {
		return fmt.Errorf("%w: %s", ErrUnknownRun, run.ID())
	}
	return t.deliver(ctx, run)
}

func (t *Tree) deliver(ctx context.Context, run *Run) error {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	rec, version := run.snapshot()
	sent := t.delivered[run.id]
	if sent >= version {
		return nil
	}

	var err error
	op := "post"
	if sent == 0 {
		err = t.sink.Post(ctx, rec)
	} else {
		op = "patch"
		err = t.sink.Patch(ctx, rec)
	}
	if err != nil {
		t.logger.WarnWithContext(ContextWithRun(ctx, run), "run delivery failed", err, map[string]interface{}{
			"run_id":    run.id.String(),
			"trace_id":  run.traceID.String(),
			"operation": op,
		})
		return fmt.Errorf("runtree: %s run %s: %w", op, run.id, err)
	}
	t.delivered[run.id] = version
	return nil
}

// Flush delivers every run whose latest state has not reached the sink yet, in
// creation order, then flushes the sink if it buffers. All failures are joined
// into the returned error; a failed run stays pending for the next Flush.
func (t *Tree) Flush(ctx context.Context) error {
	if t.sink == nil {
		return ErrNoSink
	}
	var errs []error
	for _, run := range t.Runs() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := t.deliver(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	if f, ok := t.sink.(Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("runtree: flush sink: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Pending returns the number of runs whose latest state was not delivered yet.
func (t *Tree) Pending() int {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()
	n := 0
	for _, run := range t.Runs() {
		if t.delivered[run.id] < run.currentVersion() {
			n++
		}
	}
	return n
}

// Done reports whether every run has ended and its final state was delivered.
// Open runs are never closed implicitly; on abort paths the host must end them,
// typically with WithError.
func (t *Tree) Done() bool {
	for _, run := range t.Runs() {
		if !run.Ended() {
			return false
		}
	}
	return t.Pending() == 0
}
