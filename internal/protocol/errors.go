package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures surfaced to protocol clients.
type ErrorKind string

const (
	KindBadRequest         ErrorKind = "bad_request"
	KindNotFound           ErrorKind = "not_found"
	KindInternal           ErrorKind = "internal_error"
	KindServiceUnavailable ErrorKind = "service_unavailable"
)

// Error is a request-scoped failure with a stable kind and a client message.
type Error struct {
	Kind    ErrorKind
	Message string
	Code    string
}

func (e *Error) Error() string {
	return e.Message
}

// Status maps the kind onto an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Type returns the OpenAI error type string for the kind.
func (e *Error) Type() string {
	switch e.Kind {
	case KindBadRequest:
		return "invalid_request_error"
	case KindNotFound:
		return "not_found_error"
	case KindServiceUnavailable:
		return "service_unavailable_error"
	default:
		return "server_error"
	}
}

// Body renders the typed JSON error payload.
func (e *Error) Body() ErrorBody {
	var body ErrorBody
	body.Error.Message = e.Message
	body.Error.Type = e.Type()
	body.Error.Code = e.Code
	if body.Error.Code == "" {
		body.Error.Code = string(e.Kind)
	}
	return body
}

// ErrorBody is the OpenAI error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail holds the fields of an error body.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return newError(KindBadRequest, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

func Internal(format string, args ...any) *Error {
	return newError(KindInternal, format, args...)
}

func ServiceUnavailable(format string, args ...any) *Error {
	return newError(KindServiceUnavailable, format, args...)
}

// AsError converts any error into a protocol error, treating unknown errors
// as internal failures without leaking their text.
func AsError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return Internal("internal server error")
}
