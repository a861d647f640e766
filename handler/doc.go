// Package handler adapts typed request handlers to net/http.
//
// A HandlerFunc receives a bound request value and returns a Response; Wrap
// runs the binders, decorators and error handler around it. Errors render as
// {"error":{"code":"...","message":"..."}} with the status taken from
// HTTPError or ValidationError, and 500 for anything else.
package handler
