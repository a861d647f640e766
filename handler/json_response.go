package handler

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"
)

// ErrorBody is the envelope of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

type jsonResponse struct {
	status  int
	headers http.Header
	body    any
}

func (j jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	h := w.Header()
	for k, v := range j.headers {
		h[k] = v
	}
	h.Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSONOption configures JSON response.
type JSONOption func(*jsonResponse)

// WithJSONStatus sets custom HTTP status code.
func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) {
		r.status = status
	}
}

// WithHeader adds a response header.
func WithHeader(key, value string) JSONOption {
	return func(r *jsonResponse) {
		if r.headers == nil {
			r.headers = make(http.Header)
		}
		r.headers.Set(key, value)
	}
}

// JSON writes v as the response body with status 200.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK, body: v}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JSONError writes {"error":{"code","message"}} with the status derived from err.
func JSONError(err error, opts ...JSONOption) Response {
	status, detail := errorDetail(err)
	r := &jsonResponse{status: status, body: ErrorBody{Error: detail}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func errorDetail(err error) (int, ErrorDetail) {
	var valErr ValidationError
	if errors.As(err, &valErr) {
		detail := ErrorDetail{Code: "validation_error", Message: valErr.Error()}
		if len(valErr) > 0 {
			detail.Details = make(map[string][]string, len(valErr))
			maps.Copy(detail.Details, valErr)
		}
		return http.StatusBadRequest, detail
	}

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		msg := httpErr.Message
		if msg == "" {
			msg = http.StatusText(httpErr.Code)
		}
		return httpErr.Code, ErrorDetail{Code: httpErr.Key, Message: msg}
	}

	return http.StatusInternalServerError, ErrorDetail{
		Code:    ErrInternalServerError.Key,
		Message: http.StatusText(http.StatusInternalServerError),
	}
}
