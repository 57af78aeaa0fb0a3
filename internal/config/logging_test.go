package config

import (
	"log/slog"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"ERROR", slog.LevelError, false},
		{"  Info  ", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLogLevel(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLogLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	attr := slog.Attr{Key: slog.LevelKey, Value: slog.AnyValue(LevelTrace)}
	got := ReplaceLogLevelNames(nil, attr)
	if got.Value.String() != "TRACE" {
		t.Errorf("trace level renders as %q, want TRACE", got.Value.String())
	}

	attr = slog.Attr{Key: slog.LevelKey, Value: slog.AnyValue(slog.LevelInfo)}
	got = ReplaceLogLevelNames(nil, attr)
	if got.Value.Any() != any(slog.LevelInfo) {
		t.Errorf("info level changed: %v", got.Value)
	}

	attr = slog.String("msg", "render finished")
	if got := ReplaceLogLevelNames(nil, attr); got.Value.String() != "render finished" {
		t.Errorf("non-level attr changed: %v", got.Value)
	}
}
