package logging

import (
	"strings"

	"github.com/pterm/pterm"
)

// ParseLevel maps LOG_LEVEL values onto pterm levels.
// Supported values: trace, debug, info, warn, error, fatal. Anything else is info.
func ParseLevel(level string) pterm.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return pterm.LogLevelTrace
	case "debug":
		return pterm.LogLevelDebug
	case "info":
		return pterm.LogLevelInfo
	case "warn", "warning":
		return pterm.LogLevelWarn
	case "error":
		return pterm.LogLevelError
	case "fatal":
		return pterm.LogLevelFatal
	default:
		return pterm.LogLevelInfo
	}
}

// New returns the application logger for the given level
func New(level string) *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(ParseLevel(level))
}

// Discard returns a logger that drops everything, for tests
func Discard() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelDisabled)
}
