// Package logging assembles structured slog loggers and formatting helpers used
// across cardsync.
//
// It owns the configurable console/JSON handlers, rotates the on-disk log via
// lumberjack, and exposes context-aware helpers so engine code can tag log
// lines with card IDs, stages, and correlation IDs. The package also provides
// a no-op logger for tests and wiring code that cannot fail.
package logging
