package ingest

import "errors"

var (
	// ErrQueueFull is returned by Processor.Post and Processor.Patch when the
	// worker queue for the run is full. The record is not enqueued; the tree
	// keeps it pending and hands it over again on its next Flush.
	ErrQueueFull = errors.New("ingest: queue full")

	// ErrClosed is returned when records are handed to a closed Processor.
	ErrClosed = errors.New("ingest: processor closed")

	// ErrUnexpectedStatus is returned by HTTPClient when the collector answers
	// with a non-2xx status.
	ErrUnexpectedStatus = errors.New("ingest: unexpected response status")

	// ErrUnknownOp is returned by Apply and DecodeEvent for an event whose
	// operation is neither "post" nor "patch".
	ErrUnknownOp = errors.New("ingest: unknown event operation")

	// ErrNoEndpoint is returned by NewHTTPClient when Config.Endpoint is empty.
	ErrNoEndpoint = errors.New("ingest: endpoint is not configured")
)

// IsQueueFullError reports whether err is an ErrQueueFull.
func IsQueueFullError(err error) bool {
	return errors.Is(err, ErrQueueFull)
}
