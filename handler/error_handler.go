package handler

import (
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/pkg/requestid"
)

// ErrorMapper translates domain errors into HTTP errors. Returning the error
// unchanged keeps the default classification.
type ErrorMapper func(err error) error

// NewErrorHandler returns an ErrorHandler that maps, logs and renders errors
// as JSON. 4xx are logged at warn, 5xx at error.
func NewErrorHandler(log *slog.Logger, mapper ErrorMapper) ErrorHandler[Context] {
	if log == nil {
		log = slog.Default()
	}
	if mapper == nil {
		mapper = func(err error) error { return err }
	}

	return func(ctx Context, err error) {
		mapped := mapper(err)
		resp := JSONError(mapped)
		status, _ := errorDetail(mapped)

		level := slog.LevelError
		if status < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		r := ctx.Request()
		log.LogAttrs(r.Context(), level, "request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("error_handler"),
		)

		if renderErr := resp.Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.LogAttrs(r.Context(), slog.LevelError, "failed to render error",
				logger.Error(renderErr),
				logger.Component("error_handler"),
			)
		}
	}
}

// WriteError renders err with the default classification. It is meant for
// plain http.Handler middleware that runs outside Wrap.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	_ = JSONError(err).Render(w, r)
}
