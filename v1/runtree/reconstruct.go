package runtree

import (
	"sort"

	"github.com/google/uuid"
)

// Node is a record placed in a reconstructed tree.
type Node struct {
	Record   Record
	Children []*Node
	// Orphan is set on a non-root node whose parent was not among the records,
	// e.g. because the parent process has not delivered it yet.
	Orphan bool
}

// Walk calls fn for n and all of its descendants in dotted order. Returning
// false from fn skips the children of that node.
func (n *Node) Walk(fn func(depth int, n *Node) bool) {
	n.walk(0, fn)
}

func (n *Node) walk(depth int, fn func(int, *Node) bool) {
	if !fn(depth, n) {
		return
	}
	for _, c := range n.Children {
		c.walk(depth+1, fn)
	}
}

// Find returns the first node in n's subtree with the given run id.
func (n *Node) Find(id uuid.UUID) *Node {
	var found *Node
	n.Walk(func(_ int, c *Node) bool {
		if found != nil {
			return false
		}
		if c.Record.ID == id {
			found = c
			return false
		}
		return true
	})
	return found
}

// GroupByTrace splits a flat record set into traces. Records inside a trace
// are sorted by dotted order, so parents always precede their descendants.
func GroupByTrace(records []Record) map[uuid.UUID][]Record {
	out := make(map[uuid.UUID][]Record)
	for _, rec := range records {
		out[rec.TraceID] = append(out[rec.TraceID], rec)
	}
	for _, recs := range out {
		sortByDottedOrder(recs)
	}
	return out
}

// Reconstruct rebuilds the run trees described by a flat, unordered record set,
// the way the ingestion collaborator does: records are grouped by trace id,
// ordered by dotted order and linked through parent ids. It returns the
// top-level nodes ordered by dotted order. A record whose parent is missing is
// returned as a top-level node with Orphan set. When the same run id appears
// more than once the snapshots are merged with Record.Merge.
func Reconstruct(records []Record) []*Node {
	merged := make(map[uuid.UUID]Record, len(records))
	for _, rec := range records {
		if prev, ok := merged[rec.ID]; ok {
			merged[rec.ID] = prev.Merge(rec)
			continue
		}
		merged[rec.ID] = rec
	}

	flat := make([]Record, 0, len(merged))
	for _, rec := range merged {
		flat = append(flat, rec)
	}
	sortByDottedOrder(flat)

	nodes := make(map[uuid.UUID]*Node, len(flat))
	for _, rec := range flat {
		nodes[rec.ID] = &Node{Record: rec}
	}

	var roots []*Node
	for _, rec := range flat {
		n := nodes[rec.ID]
		if rec.ParentID == nil {
			roots = append(roots, n)
			continue
		}
		parent, ok := nodes[*rec.ParentID]
		if !ok || parent.Record.TraceID != rec.TraceID {
			n.Orphan = true
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}
	return roots
}

func sortByDottedOrder(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].DottedOrder < recs[j].DottedOrder
	})
}
