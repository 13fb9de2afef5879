package runtree

import "context"

// Sink receives run snapshots on their way to the ingestion collaborator.
//
// Post is called the first time a run is delivered, Patch for every later
// delivery of the same run. Implementations should return quickly; the
// ingest.Processor for example only enqueues. A returned error is reported to
// the caller of Tree.Post or Tree.Flush and logged, but never changes the state
// of the tree itself.
type Sink interface {
	Post(ctx context.Context, rec Record) error
	Patch(ctx context.Context, rec Record) error
}

// Flusher is implemented by sinks that buffer records. Tree.Flush calls it after
// handing over every pending record.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Logger is the subset of logger.Logger used by this package.
// *logger.Logger satisfies it.
type Logger interface {
	InfoWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
}

type nopLogger struct{}

func (nopLogger) InfoWithContext(context.Context, string, error, ...map[string]interface{})  {}
func (nopLogger) WarnWithContext(context.Context, string, error, ...map[string]interface{})  {}
func (nopLogger) ErrorWithContext(context.Context, string, error, ...map[string]interface{}) {}
