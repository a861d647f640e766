// Package logger builds *slog.Logger instances for keytier.
//
// New takes functional options (format, level, static attributes, context
// extractors); NewFromConfig reads the same settings from a Config populated by
// pkg/config. Every logger is wrapped in LogHandlerDecorator so request-scoped
// values such as the request id or the authenticated user id are attached to
// records written with the *Context logging methods.
//
// attr.go holds constructors for the attribute keys used across the service
// (user_id, tier, session_id, customer_id, step, ...) so that log queries can
// rely on stable names.
//
//	log := logger.New(
//	    logger.WithEnvironment("production", "keytier"),
//	    logger.WithContextExtractors(requestid.LogExtractor()),
//	)
//	log.InfoContext(ctx, "plan selected", logger.UserID(uid), logger.Tier("Basic"))
package logger
