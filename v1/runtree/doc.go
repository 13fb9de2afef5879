// Package runtree records traced units of work ("runs") and the tree they form
// within a single process.
//
// A run has an id, a trace id (the id of the root run of the trace), an optional
// parent id, a name, a run type, structured inputs and outputs, start and end
// times, metadata, tags and a dotted order. The dotted order is the sortable
// position of the run in its trace: one segment per ancestor, root first,
// each segment being the start time of that run at microsecond precision
// followed by its id:
//
//	20250102T150405000001Z<root-id>.20250102T150405000002Z<child-id>
//
// Segments have a fixed width, so sorting dotted orders as plain strings yields
// parents before children and siblings in start order. Every parent hands out
// strictly increasing start times to its children, which keeps sibling order
// stable even when many goroutines create children at the same microsecond.
//
// # Architecture
//
//   - Tree: owns the runs of one logical operation in this process, tracks the
//     current run and delivers snapshots to a Sink
//   - Run: a single unit of work; safe for concurrent use
//   - Record: the immutable snapshot handed to the Sink
//   - Payload: schema-less structured value for inputs, outputs and metadata
//
// Runs that continue a trace started in another process are created with
// NewRemote, normally through propagation.Attach, which decodes the parent's
// identity from transport headers.
//
// # Usage
//
//	tree, err := runtree.NewRoot("answer", runtree.RunTypeChain, inputs,
//		runtree.WithSink(processor))
//	if err != nil {
//		return err
//	}
//	root := tree.Root()
//
//	llm, _ := root.CreateChild("generate", runtree.RunTypeLLM, prompt)
//	_ = llm.End(completion)
//	_ = root.End(answer)
//
//	if err := tree.Flush(ctx); err != nil {
//		log.Error("failed to deliver runs", err, nil)
//	}
//
// The ambient variant keeps the current run in a context.Context:
//
//	out, err := runtree.Trace(ctx, "answer", runtree.RunTypeChain, inputs,
//		func(ctx context.Context, run *runtree.Run) (runtree.Payload, error) {
//			return generate(ctx, question)
//		}, runtree.WithSink(processor))
//
// # Delivery
//
// Tree.Post and Tree.Flush hand snapshots to the Sink: Post for the first
// delivery of a run, Patch for later ones, and nothing if the sink already saw
// the latest state. Delivery failures are logged and returned but never change
// the tree. Reconstruct rebuilds trees from a flat record set the same way the
// ingestion side does.
//
// # Thread Safety
//
// Tree and Run are safe for concurrent use. Tree.CreateChild moves the current
// run and is therefore meant for sequential code; concurrent code should create
// children through Run.CreateChild on an explicit parent.
package runtree
