// Package ingest delivers run records to the ingestion collaborator, the
// service that stores runs and stitches them into trees.
//
// # Architecture
//
//   - Client: the collaborator contract (CreateRun, UpdateRun)
//   - HTTPClient: Client over HTTP with retries (go-retryablehttp)
//   - MemoryCollector: in-process Client that merges snapshots and rebuilds trees
//   - MultiClient: fans a record out to several clients
//   - Processor: asynchronous runtree.Sink in front of any Client
//   - Event: the {"op","run"} wire form used by broker based sinks
//
// # Usage
//
//	client, err := ingest.NewHTTPClient(ingest.Config{Endpoint: "http://localhost:1984"})
//	if err != nil {
//		return err
//	}
//	processor := ingest.NewProcessor(ingest.Config{}, client).WithLogger(log)
//	defer processor.Close(context.Background())
//
//	tree, err := runtree.NewRoot("chat", runtree.RunTypeChain, inputs,
//		runtree.WithSink(processor))
//
// Tracing is best effort with respect to the operation it observes: the
// processor never blocks the caller and delivery failures never surface in the
// host operation. They are however always observable through Stats, the
// logger, the observer and the OnError hook.
//
// # Ordering
//
// The processor shards records by run id, so a run's create always reaches the
// client before its updates. Runs of the same trace may be delivered in any
// order, and so may runs from different processes; the collaborator rebuilds
// trees from trace_id, parent_run_id and dotted_order alone, see
// MemoryCollector.Trees.
package ingest
