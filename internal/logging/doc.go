// Package logging builds the process logger from config.
//
// Format "json" uses slog's JSON handler; anything else uses ColorHandler,
// a compact one-line colorized format for terminals. Components derive
// their own logger with logger.With("component", name).
package logging
