package runtree

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Run is one traced unit of work. Identity, position and inputs are fixed at
// creation; outputs, end time and error are set exactly once by End; metadata and
// tags may change while the run is open.
//
// All methods are safe for concurrent use.
type Run struct {
	tree   *Tree
	parent *Run

	id          uuid.UUID
	traceID     uuid.UUID
	parentID    uuid.UUID
	name        string
	runType     string
	dottedOrder string
	startTime   time.Time
	inputs      Payload

	children childClock

	mu           sync.RWMutex
	ended        bool
	endTime      time.Time
	outputs      Payload
	errMsg       string
	metadata     Payload
	tags         map[string]struct{}
	openChildren int
	version      uint64
}

// ID returns the run id.
func (r *Run) ID() uuid.UUID { return r.id }

// TraceID returns the id of the root run of the trace this run belongs to.
func (r *Run) TraceID() uuid.UUID { return r.traceID }

// ParentID returns the id of the parent run. ok is false for a trace root.
// For a run created by attaching to a remote context the parent lives in
// another process and is only known by id.
func (r *Run) ParentID() (id uuid.UUID, ok bool) {
	return r.parentID, r.parentID != uuid.Nil
}

// Name returns the run name.
func (r *Run) Name() string { return r.name }

// RunType returns the run type, e.g. "chain" or "llm".
func (r *Run) RunType() string { return r.runType }

// DottedOrder returns the sortable position of the run within its trace.
func (r *Run) DottedOrder() string { return r.dottedOrder }

// StartTime returns the start time at microsecond precision.
func (r *Run) StartTime() time.Time { return r.startTime }

// Inputs returns the run inputs.
func (r *Run) Inputs() Payload { return r.inputs }

// Tree returns the tree that owns the run.
func (r *Run) Tree() *Tree { return r.tree }

// IsRoot reports whether the run is the root of its trace.
func (r *Run) IsRoot() bool { return r.parentID == uuid.Nil }

// Ended reports whether End has been called.
func (r *Run) Ended() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ended
}

// Outputs returns the outputs of an ended run, or ErrOutputsNotAvailable while
// the run is still open.
func (r *Run) Outputs() (Payload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.ended {
		return Payload{}, ErrOutputsNotAvailable
	}
	return r.outputs, nil
}

// EndTime returns the end time; ok is false while the run is open.
func (r *Run) EndTime() (t time.Time, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endTime, r.ended
}

// Error returns the error message recorded by End, if any.
func (r *Run) Error() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errMsg
}

// Metadata returns the current metadata.
func (r *Run) Metadata() Payload {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metadata
}

// Tags returns the tags in sorted order.
func (r *Run) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedTags(r.tags)
}

// SetMetadata sets a metadata key. It fails with ErrRunEnded once the run ended.
func (r *Run) SetMetadata(key string, value interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return fmt.Errorf("%w: set metadata %q on run %s", ErrRunEnded, key, r.id)
	}
	md, err := r.metadata.With(key, value)
	if err != nil {
		return err
	}
	r.metadata = md
	r.version++
	return nil
}

// AddTags adds tags to the run. It fails with ErrRunEnded once the run ended.
func (r *Run) AddTags(tags ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return fmt.Errorf("%w: add tags on run %s", ErrRunEnded, r.id)
	}
	for _, t := range tags {
		if t != "" {
			r.tags[t] = struct{}{}
		}
	}
	r.version++
	return nil
}

// CreateChild creates a run whose parent is r. It is safe to call from many
// goroutines at once: siblings always get distinct, strictly increasing dotted
// order segments. Unlike Tree.CreateChild it does not change the tree's
// current run.
func (r *Run) CreateChild(name, runType string, inputs Payload, opts ...Option) (*Run, error) {
	return r.tree.newChild(r, name, runType, inputs, buildOptions(opts))
}

// End records the outputs and end time of the run. It may be called once; a
// second call fails with ErrAlreadyEnded and leaves the run untouched.
//
// Ending a run whose children are still open is allowed, since fire-and-forget
// children are common, but it is logged as a warning.
func (r *Run) End(outputs Payload, opts ...EndOption) error {
	var o endOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	end := o.endTime
	if end.IsZero() {
		end = r.tree.now()
	}
	end = end.UTC()

	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return fmt.Errorf("%w: run %s (%s)", ErrAlreadyEnded, r.id, r.name)
	}
	if end.Before(r.startTime) {
		if !o.endTime.IsZero() {
			r.mu.Unlock()
			return fmt.Errorf("%w: end time %s is before start time %s", ErrInvalidInput, end, r.startTime)
		}
		// wall clock stepped backwards; never report a negative duration
		end = r.startTime
	}
	r.ended = true
	r.endTime = end
	r.outputs = outputs.clone()
	if o.err != nil {
		r.errMsg = o.err.Error()
	}
	r.version++
	openChildren := r.openChildren
	r.mu.Unlock()

	if openChildren > 0 {
		r.tree.logger.WarnWithContext(ContextWithRun(context.Background(), r), "run ended while children are still open", nil, map[string]interface{}{
			"run_id":        r.id.String(),
			"run_name":      r.name,
			"open_children": openChildren,
		})
	}
	if r.parent != nil {
		r.parent.childEnded()
	}
	r.tree.runEnded(r)
	return nil
}

// Record returns an immutable snapshot of the run.
func (r *Run) Record() Record {
	rec, _ := r.snapshot()
	return rec
}

func (r *Run) snapshot() (Record, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := Record{
		ID:          r.id,
		TraceID:     r.traceID,
		Name:        r.name,
		RunType:     r.runType,
		Inputs:      r.inputs,
		Error:       r.errMsg,
		StartTime:   r.startTime,
		DottedOrder: r.dottedOrder,
		Metadata:    r.metadata,
		Tags:        sortedTags(r.tags),
		Version:     r.version,
	}
	if r.parentID != uuid.Nil {
		pid := r.parentID
		rec.ParentID = &pid
	}
	if r.ended {
		out := r.outputs
		end := r.endTime
		rec.Outputs = &out
		rec.EndTime = &end
	}
	return rec, r.version
}

func (r *Run) childStarted() {
	r.mu.Lock()
	r.openChildren++
	r.mu.Unlock()
}

func (r *Run) childEnded() {
	r.mu.Lock()
	if r.openChildren > 0 {
		r.openChildren--
	}
	r.mu.Unlock()
}

func (r *Run) currentVersion() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

func newTagSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

func sortedTags(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func mergeTags(a, b []string) []string {
	set := newTagSet(a)
	for _, t := range b {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return sortedTags(set)
}
