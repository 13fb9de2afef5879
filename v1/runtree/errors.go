package runtree

import "errors"

// Errors returned by the runtree package. Callers should compare with errors.Is,
// since most of them are wrapped with additional detail.
var (
	// ErrInvalidInput is returned when a run is created with malformed arguments,
	// e.g. an empty name or run type, or a payload holding unsupported values.
	ErrInvalidInput = errors.New("runtree: invalid input")

	// ErrAlreadyEnded is returned when End is called on a run that has already ended.
	ErrAlreadyEnded = errors.New("runtree: run already ended")

	// ErrRunEnded is returned when metadata or tags are mutated after the run ended.
	ErrRunEnded = errors.New("runtree: run is ended and can no longer be mutated")

	// ErrOutputsNotAvailable is returned when outputs are read before the run ended.
	ErrOutputsNotAvailable = errors.New("runtree: outputs not yet available")

	// ErrInvalidDottedOrder is returned when a dotted order string cannot be parsed.
	ErrInvalidDottedOrder = errors.New("runtree: invalid dotted order")

	// ErrUnknownRun is returned when a run is handed to a tree that does not own it.
	ErrUnknownRun = errors.New("runtree: run is not owned by this tree")

	// ErrNoSink is returned by Post and Flush when the tree has no sink configured.
	ErrNoSink = errors.New("runtree: no sink configured")
)

// IsInvalidInputError reports whether err is an ErrInvalidInput.
func IsInvalidInputError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsAlreadyEndedError reports whether err is an ErrAlreadyEnded.
func IsAlreadyEndedError(err error) bool {
	return errors.Is(err, ErrAlreadyEnded)
}
