// Package logging builds the slog loggers used throughout fieldq.
//
// It translates config values into handler options, fans output to stdout
// and the log file, and provides the shared attribute helpers and field key
// constants that keep component logs filterable.
package logging
