package propagation

import "errors"

// Errors returned by the propagation package. They are wrapped with detail,
// so compare with errors.Is or the Is* helpers.
var (
	// ErrEncoding is returned by Encode when the context cannot be represented in
	// the wire format without losing information, e.g. a baggage value that
	// contains the pair delimiter.
	ErrEncoding = errors.New("propagation: cannot encode trace context")

	// ErrMalformedContext is returned by Decode when the identity field is absent,
	// carries an unknown version, or its components do not parse.
	ErrMalformedContext = errors.New("propagation: malformed trace context")

	// ErrMissingParentContext is returned by Attach when the given context is not
	// a valid parent. Attach never fabricates a new root in that case.
	ErrMissingParentContext = errors.New("propagation: missing parent trace context")
)

// IsEncodingError reports whether err is an ErrEncoding.
func IsEncodingError(err error) bool {
	return errors.Is(err, ErrEncoding)
}

// IsMalformedContextError reports whether err is an ErrMalformedContext.
func IsMalformedContextError(err error) bool {
	return errors.Is(err, ErrMalformedContext)
}

// IsMissingParentContextError reports whether err is an ErrMissingParentContext.
func IsMissingParentContextError(err error) bool {
	return errors.Is(err, ErrMissingParentContext)
}
