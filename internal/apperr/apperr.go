// Package apperr defines the error kinds surfaced by the storefront services.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error
type Kind int

const (
	// KindRetrievable is a storage or gateway I/O failure.
	KindRetrievable Kind = iota + 1
	// KindNotFound is a missing order or product.
	KindNotFound
	// KindUnauthorized is an ownership mismatch.
	KindUnauthorized
	// KindValidation is a request the domain rejects, such as checking out an empty cart.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindRetrievable:
		return "retrievable"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error represents an application error
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Retrievable wraps an I/O failure
func Retrievable(message string, err error) *Error {
	return &Error{Kind: KindRetrievable, Code: http.StatusInternalServerError, Message: message, Err: err}
}

// NotFound reports a missing entity
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: http.StatusNotFound, Message: message}
}

// Unauthorized reports an entity owned by someone else
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: http.StatusForbidden, Message: message}
}

// Validation reports a rejected request
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: http.StatusUnprocessableEntity, Message: message}
}

// KindOf returns the kind of err, or KindRetrievable for untyped errors
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindRetrievable
}

// Is reports whether err is an application error of the given kind
func Is(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// StatusCode returns the HTTP status for err
func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Code != 0 {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

// Message returns the user-facing message for err
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal server error"
}
