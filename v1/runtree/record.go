package runtree

import (
	"time"

	"github.com/google/uuid"
)

// Record is an immutable snapshot of a run, carrying exactly the fields the
// ingestion collaborator needs to stitch runs from any number of processes into
// one tree: id, trace_id, parent_run_id and dotted_order.
//
// Records are plain values and safe to share between goroutines, as long as the
// receiver does not modify the Tags slice.
type Record struct {
	ID          uuid.UUID  `json:"id"`
	TraceID     uuid.UUID  `json:"trace_id"`
	ParentID    *uuid.UUID `json:"parent_run_id,omitempty"`
	Name        string     `json:"name"`
	RunType     string     `json:"run_type"`
	Inputs      Payload    `json:"inputs"`
	Outputs     *Payload   `json:"outputs,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	DottedOrder string     `json:"dotted_order"`
	Metadata    Payload    `json:"metadata"`
	Tags        []string   `json:"tags"`

	// Version increases with every mutation of the run. Zero means unknown.
	Version uint64 `json:"version,omitempty"`
}

// Ended reports whether the snapshot was taken after the run ended.
func (r Record) Ended() bool {
	return r.EndTime != nil
}

// IsRoot reports whether the record is the root of its trace.
func (r Record) IsRoot() bool {
	return r.ParentID == nil
}

// Merge combines two snapshots of the same run. An ended snapshot always wins
// over an open one, since a run's final fields never change after End. Between
// two open snapshots the higher Version wins, and other wins a tie. Metadata
// and tags are unioned with the winner's values on top. This lets collectors
// apply snapshots in any arrival order.
func (r Record) Merge(other Record) Record {
	newer, older := other, r
	if r.newerThan(other) {
		newer, older = r, other
	}
	out := newer
	out.Metadata = older.Metadata.Merge(newer.Metadata)
	out.Tags = mergeTags(older.Tags, newer.Tags)
	return out
}

func (r Record) newerThan(other Record) bool {
	if r.Ended() != other.Ended() {
		return r.Ended()
	}
	return r.Version > other.Version
}
