// Package cortexerr implements the error-kind taxonomy from spec §7:
// a classification attached to ordinary Go errors, not a hierarchy of
// exception types.
package cortexerr

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/cortex/internal/proto"
)

// Error wraps a causal error with a Kind the session and tool executor
// use to decide retry, surfacing, and fatality.
type Error struct {
	Kind       proto.ErrorKind
	Message    string
	RetryAfter *int64 // seconds; only meaningful for ErrKindRateLimit
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind proto.ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind proto.ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithRetryAfter attaches a provider-supplied Retry-After in seconds.
func (e *Error) WithRetryAfter(seconds int64) *Error {
	e.RetryAfter = &seconds
	return e
}

// Retriable reports whether the kind is retriable per the §7 table.
func Retriable(kind proto.ErrorKind) bool {
	switch kind {
	case proto.ErrKindNetwork, proto.ErrKindRateLimit, proto.ErrKindProvider:
		return true
	case proto.ErrKindTimeout:
		return true // conditionally; caller decides based on attempt budget
	default:
		return false
	}
}

// Fatal reports whether the kind should shut the session down when it
// escapes a tool boundary (Storage is fatal; Internal survives if the
// caller can contain it).
func Fatal(kind proto.ErrorKind) bool {
	return kind == proto.ErrKindStorage
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error, defaulting to Internal.
func KindOf(err error) proto.ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return proto.ErrKindInternal
}
