package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the transport layer.
type Kind uint8

const (
	KindInternal Kind = iota
	KindInvalid
	KindNotFound
	KindForbidden
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is a user-facing failure. Message is safe to show to a client, Details carries
// the underlying cause text and Fields extra keys for the JSON error body.
type Error struct {
	Kind    Kind
	Message string
	Details string
	Fields  map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// With adds an extra field to the error body and returns e.
func (e *Error) With(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// Wrap attaches cause and fills Details from it when empty.
func (e *Error) Wrap(cause error) *Error {
	e.Err = cause
	if e.Details == "" && cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// WithDetails replaces the client-facing details text.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...any) *Error { return newError(KindInvalid, format, args...) }

func NotFound(format string, args ...any) *Error { return newError(KindNotFound, format, args...) }

func Forbidden(format string, args ...any) *Error { return newError(KindForbidden, format, args...) }

func Unavailable(format string, args ...any) *Error {
	return newError(KindUnavailable, format, args...)
}

func Internal(format string, args ...any) *Error { return newError(KindInternal, format, args...) }

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err, KindInternal when err carries none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}
