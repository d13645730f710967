// Package apierr defines the error taxonomy returned by the REST surface.
// Every failure that reaches a client is one of these kinds, carrying a
// stable machine-readable code and a human-readable message.
package apierr

import (
	"errors"
	"net/http"
)

// Kind classifies an API error and determines its HTTP status.
type Kind int

const (
	KindUpstream Kind = iota
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindValidation
	KindUnavailable
	KindRateLimited
	KindMethodNotAllowed
)

// Error is a typed API error. Message is safe to show to callers; it never
// contains storage errors or internal identifiers.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Status maps the error kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

func Unauthenticated(code, msg string) *Error { return &Error{KindUnauthenticated, code, msg} }
func Forbidden(code, msg string) *Error       { return &Error{KindForbidden, code, msg} }
func NotFound(code, msg string) *Error        { return &Error{KindNotFound, code, msg} }
func Conflict(code, msg string) *Error        { return &Error{KindConflict, code, msg} }
func Validation(code, msg string) *Error      { return &Error{KindValidation, code, msg} }
func Upstream(code, msg string) *Error        { return &Error{KindUpstream, code, msg} }
func Unavailable(code, msg string) *Error     { return &Error{KindUnavailable, code, msg} }
func RateLimited(code, msg string) *Error     { return &Error{KindRateLimited, code, msg} }

// From converts any error into an *Error. Errors that are not already typed
// become a generic upstream failure so their text is never exposed.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Upstream("internal_error", "An internal error occurred.")
}
