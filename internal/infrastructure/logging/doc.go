// Package logging provides structured logging for Mirror Core.
//
// It wraps the standard library's log/slog with configuration-driven
// handler selection (JSON or text), level filtering, and default
// service/version attributes on every record.
//
// Domain packages do not import this package directly; they declare a
// minimal Logger interface and accept anything that satisfies it,
// including *logging.Logger.
package logging
