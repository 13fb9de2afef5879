package observability

import "time"

// Observer receives a notification for every operation performed by an
// instrumented component (ingestion delivery, broker publishes, codec calls).
//
// Implementations must be safe for concurrent use; components call
// ObserveOperation from their worker goroutines.
type Observer interface {
	ObserveOperation(ctx OperationContext)
}

// OperationContext describes a single observed operation.
type OperationContext struct {
	// Component is the package reporting the operation, e.g. "ingest" or "kafka".
	Component string

	// Operation is the action performed, e.g. "post", "patch", "decode".
	Operation string

	// Resource is the primary target, e.g. a topic, channel or endpoint.
	Resource string

	// SubResource carries secondary context such as a run id.
	SubResource string

	// Duration is how long the operation took.
	Duration time.Duration

	// Error is non-nil when the operation failed.
	Error error

	// Size is the payload size in bytes when known.
	Size int64

	// Metadata holds component specific details.
	Metadata map[string]interface{}
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(ctx OperationContext)

// ObserveOperation calls f(ctx).
func (f ObserverFunc) ObserveOperation(ctx OperationContext) {
	f(ctx)
}

// Status returns "success" or "error" depending on ctx.Error.
func (ctx OperationContext) Status() string {
	if ctx.Error != nil {
		return "error"
	}
	return "success"
}
