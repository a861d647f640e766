package requestid

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/keytier/pkg/logger"
)

// LogExtractor adds request_id to records logged with a request context.
func LogExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		id := FromContext(ctx)
		return logger.RequestID(id), id != ""
	}
}
