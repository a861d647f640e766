package handler

import "net/http"

type failure struct{ err error }

func (f failure) Render(http.ResponseWriter, *http.Request) error { return f.err }

// Fail hands err to the ErrorHandler configured with Wrap, so domain errors
// are mapped and logged in one place.
func Fail(err error) Response {
	if err == nil {
		err = ErrInternalServerError
	}
	return failure{err: err}
}
