package source

import "errors"

// TransientError wraps a failure worth retrying: network errors, request
// timeouts, 429, and 5xx responses.
type TransientError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string { return "source " + e.Op + ": " + e.Err.Error() }

// Unwrap exposes the underlying cause.
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that retrying cannot fix: auth rejections,
// client errors, and malformed response schemas. It aborts the job rather
// than the page.
type PermanentError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string { return "source " + e.Op + ": " + e.Err.Error() }

// Unwrap exposes the underlying cause.
func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
