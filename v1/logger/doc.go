// Package logger provides structured logging built on zap.
//
// Every method takes a message, an optional error and optional field maps:
//
//	log := logger.NewLoggerClient(logger.Config{
//		Level:         logger.Info,
//		ServiceName:   "notebook",
//		EnableTracing: true,
//	})
//	log.Info("Collector started", nil, map[string]interface{}{"addr": ":1984"})
//
// With EnableTracing set, the *WithContext variants add the identity of the
// ambient run (run_id, trace_id, dotted_order) and of the active OpenTelemetry
// span (span_id, otel_trace_id), so log lines can be joined with the run tree:
//
//	ctx = runtree.ContextWithRun(ctx, run)
//	log.InfoWithContext(ctx, "Calling model", nil)
//
// *Logger satisfies the Logger interfaces of runtree, propagation, ingest,
// kafka, rabbit and redis.
package logger
