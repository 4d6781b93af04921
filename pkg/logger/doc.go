// Package logger builds configured *slog.Logger instances for services that
// embed the email adapters, plus attribute helpers that keep field naming
// consistent across send and webhook logs.
//
// New applies functional options:
//
//	log := logger.New(
//	    logger.WithFormat(logger.FormatJSON),
//	    logger.WithLevel(slog.LevelDebug),
//	    logger.WithAttrs(slog.String("service", "notifications")),
//	)
//
// NewFromEnv reads LOG_LEVEL and LOG_FORMAT instead, matching the env-tag
// configuration style of the provider Config structs.
//
// Context extractors inject request-scoped values (a request id, a tenant)
// into every record logged with a context:
//
//	log := logger.New(logger.WithContextExtractor(requestIDFromContext))
package logger
