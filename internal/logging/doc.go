// Package logging builds the slog loggers used across instaweb.
//
// Two output formats are supported: a compact console format for
// interactive use and JSON for ingestion. Loggers write to stdout/stderr
// and, when a log directory is configured, to a shared log file.
// The package also owns log file retention pruning.
package logging
