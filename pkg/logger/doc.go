// Package logger provides structured logging with configurable log levels.
// It wraps log/slog, choosing JSON output in production and text output
// elsewhere, and offers helpers for component-scoped and silent loggers.
package logger
