package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

var (
	ErrNilResponse         = errors.New("handler returned nil response")
	ErrBinderNotApplicable = errors.New("binder not applicable")
)

// HTTPError is an error with a status code and a machine-readable key.
// Message, when set, is shown to the client instead of the status text.
type HTTPError struct {
	Code    int
	Key     string
	Message string
}

// Error implements the error interface.
func (e HTTPError) Error() string {
	if e.Message != "" {
		return e.Key + ": " + e.Message
	}
	return e.Key
}

// WithMessage returns a copy of e carrying a client-visible message.
func (e HTTPError) WithMessage(format string, args ...any) HTTPError {
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// NewHTTPError creates a custom HTTP error.
func NewHTTPError(code int, key string) HTTPError {
	return HTTPError{Code: code, Key: key}
}

var (
	ErrBadRequest           = HTTPError{Code: http.StatusBadRequest, Key: "bad_request"}
	ErrInvalidJSON          = HTTPError{Code: http.StatusBadRequest, Key: "invalid_json"}
	ErrUnauthorized         = HTTPError{Code: http.StatusUnauthorized, Key: "unauthorized"}
	ErrForbidden            = HTTPError{Code: http.StatusForbidden, Key: "forbidden"}
	ErrNotFound             = HTTPError{Code: http.StatusNotFound, Key: "not_found"}
	ErrMethodNotAllowed     = HTTPError{Code: http.StatusMethodNotAllowed, Key: "method_not_allowed"}
	ErrConflict             = HTTPError{Code: http.StatusConflict, Key: "conflict"}
	ErrUnsupportedMediaType = HTTPError{Code: http.StatusUnsupportedMediaType, Key: "unsupported_media_type"}
	ErrTooManyRequests      = HTTPError{Code: http.StatusTooManyRequests, Key: "too_many_requests"}
	ErrInternalServerError  = HTTPError{Code: http.StatusInternalServerError, Key: "internal_server_error"}
)

// ValidationError collects field validation failures.
type ValidationError url.Values

// NewValidationError creates an empty validation error.
func NewValidationError() ValidationError {
	return make(ValidationError)
}

// Add records a message for field and returns the error for chaining.
func (e ValidationError) Add(field, message string) ValidationError {
	url.Values(e).Add(field, message)
	return e
}

// IsEmpty reports whether no field failed.
func (e ValidationError) IsEmpty() bool {
	return len(e) == 0
}

// Error implements the error interface with fields in stable order.
func (e ValidationError) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(e[f]) > 0 {
			parts = append(parts, f+": "+e[f][0])
		}
	}
	return "validation error: " + strings.Join(parts, ", ")
}

// OrNil returns nil when no field failed.
func (e ValidationError) OrNil() error {
	if e.IsEmpty() {
		return nil
	}
	return e
}
