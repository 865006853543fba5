// Package logging assembles the structured slog loggers used across bundlex.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so workers and HTTP handlers
// automatically tag log lines with session IDs, job kinds, and request
// correlation IDs. A no-op logger is provided for tests and wiring code that
// cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits data with the same shape.
package logging
