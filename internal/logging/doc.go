// Package logging builds the slog loggers used by the adapter and its CLI.
//
// It owns the console and JSON handlers, level parsing, output routing to
// stdout/stderr and optional log files, and a handful of attribute helpers
// that keep warning lines shaped the same way everywhere (event type, hint,
// impact). A no-op logger is provided for tests and wiring code that cannot
// fail.
package logging
