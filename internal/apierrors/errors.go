package apierrors

import (
	"errors"
	"fmt"
)

// Error is the typed failure returned by every core operation. A rejected
// operation leaves all entities in their pre-call state.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error by kind, and by code when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Sentinels for errors.Is checks by kind.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrConflict     = &Error{Kind: KindConflict}
)

// New builds an error of the given kind using a registered code and its
// default message. An empty code falls back to the kind's core code.
func New(kind Kind, code string) *Error {
	if code == "" {
		code = kindCodes[kind]
	}
	return &Error{Kind: kind, Code: code, Message: Registry.Message(code)}
}

// Newf builds an error with a formatted message.
func Newf(kind Kind, code, format string, args ...any) *Error {
	e := New(kind, code)
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// Validation returns a Validation error with a custom message.
func Validation(code, format string, args ...any) *Error {
	return Newf(KindValidation, code, format, args...)
}

// NotFound returns a NotFound error with a custom message.
func NotFound(code, format string, args ...any) *Error {
	return Newf(KindNotFound, code, format, args...)
}

// Forbidden returns a Forbidden error with a custom message.
func Forbidden(code, format string, args ...any) *Error {
	return Newf(KindForbidden, code, format, args...)
}

// InvalidState returns an InvalidState error with a custom message.
func InvalidState(code, format string, args ...any) *Error {
	return Newf(KindInvalidState, code, format, args...)
}

// Conflict returns a Conflict error with a custom message.
func Conflict(code, format string, args ...any) *Error {
	return Newf(KindConflict, code, format, args...)
}

// Internal wraps an infrastructure failure.
func Internal(err error, format string, args ...any) *Error {
	e := Newf(KindInternal, CodeInternalError, format, args...)
	e.cause = err
	return e
}

// As extracts an *Error from err. Errors that are not typed are reported as
// internal failures wrapping the original.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err, "unexpected failure")
}

// KindOf returns the kind of err, or the empty kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}
