// Package logging provides the process-wide structured logger, adjustable
// at runtime, following the same atomic-pointer/LevelVar pattern used
// throughout the supervisor.
package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	opLogger.Store(slog.New(h))
}

// Op returns the current operational logger. Safe to call concurrently and
// to hold onto, since SetLevel only adjusts level, not handler identity.
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetLevel adjusts the minimum level the operational logger emits.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLevelFromString parses a level name (slog names, matched ignoring case, e.g.
// "DEBUG", "INFO", "WARN", "ERROR") and applies it; unrecognized names fall
// back to INFO.
func SetLevelFromString(name string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		level = slog.LevelInfo
	}
	SetLevel(level)
}

// Replace swaps the underlying logger entirely, used by tests that want to
// capture output or by daemons that want a JSON handler in production.
func Replace(l *slog.Logger) {
	opLogger.Store(l)
}
