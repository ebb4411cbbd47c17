package errorutil

import "errors"

// ErrDataIntegrity is a base error type to use for failures that are due to
// unrecoverable data integrity issues, such as a corrupt serialized trace.
var ErrDataIntegrity = errors.New("data integrity error")

// ErrValidation is returned when a field value is out of range or missing.
var ErrValidation = errors.New("validation error")

var (
	// ErrDuplicateID is returned when a process or thread ID is registered twice.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrDanglingReference is returned when a parent process was never added.
	ErrDanglingReference = errors.New("dangling reference")
)

var (
	ErrUnbalancedSpan    = errors.New("unbalanced span")
	ErrNonMonotonicTime  = errors.New("non-monotonic time")
	ErrUnmatchedAsyncEnd = errors.New("unmatched async end")
	// ErrUnclosedSpan is only returned for synchronous spans. Async spans are
	// allowed to outlive the trace.
	ErrUnclosedSpan = errors.New("unclosed span")
)

// ErrEncodingOverflow is returned when a field does not fit the length prefix
// of the wire format.
var ErrEncodingOverflow = errors.New("encoding overflow")
