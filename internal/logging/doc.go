// Package logging assembles structured slog loggers and formatting helpers used
// across chromdm.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so background job code can tag
// log lines with job IDs. Progress sampling keeps multi-gigabyte transfers
// from flooding the log. The package also provides a no-op logger for tests
// and wiring code that cannot fail.
package logging
