// Package errs defines the error taxonomy shared across the core runtime.
package errs

import "fmt"

// Kind classifies an error so a caller several layers up can decide whether
// to retry, reconnect, or give up without parsing error text.
type Kind string

const (
	InvalidInput     Kind = "invalid_input"
	InvalidData      Kind = "invalid_data"
	UnexpectedEOF    Kind = "unexpected_eof"
	ConnectionRefused Kind = "connection_refused"
	ConnectionReset   Kind = "connection_reset"
	ConnectionAborted Kind = "connection_aborted"
	NotConnected      Kind = "not_connected"
	TimedOut          Kind = "timed_out"
	PermissionDenied  Kind = "permission_denied"
	Unsupported       Kind = "unsupported"
	BrokenPipe        Kind = "broken_pipe"
	Other             Kind = "other"
)

// Error is the carrier type returned by every subsystem in core/. It pairs
// a Kind with free text and an optional wrapped cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind that carries cause as its
// unwrap target.
func Wrap(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and Other otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return Other
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
