package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits below slog.LevelDebug and carries wire-level detail:
// full Gemini request/response payload sizes, upload polling, and the
// like. -8 matches the value llm uses for the same level.
const LevelTrace = slog.Level(-8)

// levelNames maps accepted log_level config values to slog levels.
// "warning" is tolerated as an alias since it shows up in configs
// written by hand.
var levelNames = map[string]slog.Level{
	"":        slog.LevelInfo,
	"trace":   LevelTrace,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLogLevel converts a log_level config value to a slog.Level.
// Matching is case-insensitive; the empty string means info.
func ParseLogLevel(s string) (slog.Level, error) {
	level, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
	return level, nil
}

// ReplaceLogLevelNames is a slog.HandlerOptions.ReplaceAttr function
// that renders LevelTrace as "TRACE". slog does not know about custom
// levels and would otherwise print "DEBUG-4".
func ReplaceLogLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}
