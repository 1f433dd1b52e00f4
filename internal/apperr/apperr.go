// Package apperr defines the typed errors returned across the auction core
// and their mapping to HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is a machine-readable error class.
type Kind string

const (
	KindUnknown         Kind = "UNKNOWN"
	KindNotFound        Kind = "NOT_FOUND"
	KindForbidden       Kind = "FORBIDDEN"
	KindInvalidBid      Kind = "INVALID_BID"
	KindInvalidInput    Kind = "INVALID_INPUT"
	KindClosed          Kind = "AUCTION_CLOSED"
	KindConflict        Kind = "CONFLICT"
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindStorageFailure  Kind = "STORAGE_FAILURE"
)

// HTTPStatus maps a kind to the status code handlers respond with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidBid, KindInvalidInput:
		return http.StatusBadRequest
	case KindClosed, KindConflict:
		return http.StatusConflict
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a kind, a client-safe message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrInvalidBid      = &Error{Kind: KindInvalidBid}
	ErrInvalidInput    = &Error{Kind: KindInvalidInput}
	ErrClosed          = &Error{Kind: KindClosed}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrStorageFailure  = &Error{Kind: KindStorageFailure}
)

func NotFound(msg string) error        { return &Error{Kind: KindNotFound, Message: msg} }
func Forbidden(msg string) error       { return &Error{Kind: KindForbidden, Message: msg} }
func InvalidBid(msg string) error      { return &Error{Kind: KindInvalidBid, Message: msg} }
func InvalidInput(msg string) error    { return &Error{Kind: KindInvalidInput, Message: msg} }
func Closed(msg string) error          { return &Error{Kind: KindClosed, Message: msg} }
func Conflict(msg string) error        { return &Error{Kind: KindConflict, Message: msg} }
func Unauthenticated(msg string) error { return &Error{Kind: KindUnauthenticated, Message: msg} }

// Storage wraps a store error. The message stays generic; the cause is kept for logs.
func Storage(err error) error {
	return &Error{Kind: KindStorageFailure, Message: "storage failure", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the client-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}
