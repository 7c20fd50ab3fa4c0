// Package apperr defines the error taxonomy shared by the HTTP layer and
// the domain services. Handlers map kinds onto status codes in one place;
// connector and configuration details never leave the server.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalid
	KindNotFound
	KindConflict
	KindUnauthenticated
	KindForbidden
	KindRateLimited
	KindConnector
	KindConfig
	KindTransient
)

// Error is a domain error with a kind and a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	Field   string // optional, for validation errors
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.err }

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and client-safe message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, err: err}
}

// Invalid is a shorthand for validation failures.
func Invalid(message string) *Error { return New(KindInvalid, message) }

// NotFound is a shorthand for unknown resources.
func NotFound(message string) *Error { return New(KindNotFound, message) }

// Conflict is a shorthand for state conflicts (forbidden transitions,
// double deletes, duplicate creations).
func Conflict(message string) *Error { return New(KindConflict, message) }

// KindOf returns the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HTTPStatus maps an error onto the status code the API contract assigns
// to its kind. Unknown, connector and config errors all collapse into
// generic server-side codes.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindConnector:
		return http.StatusBadGateway
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ClientMessage returns the message safe to show to API clients.
// Connector and configuration failures are replaced by generic text.
func ClientMessage(err error) string {
	switch KindOf(err) {
	case KindConnector:
		return "upstream connector failed"
	case KindConfig, KindUnknown:
		return "internal error"
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
