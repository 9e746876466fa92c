// Package apperrors defines the typed error kinds the service layer returns
// to the API layer. Handlers map kinds to HTTP statuses; raw causes stay
// server-side.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindAlreadySigned
	KindUnauthorized
	KindStorage
	KindInternal
)

// Error carries a kind, a client-safe message, optional field-level
// validation messages, and the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a 422-class error with field-level messages.
func Validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// ValidationMsg returns a 422-class error with a single message and no
// field map.
func ValidationMsg(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func AlreadySigned() *Error {
	return &Error{Kind: KindAlreadySigned, Message: "already signed"}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// Storage wraps a blob store failure. The cause is logged server-side only.
func Storage(err error) *Error {
	return &Error{Kind: KindStorage, Message: "storage failure", Err: err}
}

// Internal wraps any unexpected failure behind a generic message.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf extracts the kind from err, or KindUnknown for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// FieldsOf returns the field-level messages attached to err, if any.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
