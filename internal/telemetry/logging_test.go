package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_JSONWithService(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "automata-launcher", slog.LevelInfo, "json")

	WithRunID(logger, "run-1").Info("run launched")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "automata-launcher" {
		t.Errorf("expected service attribute, got %v", entry["service"])
	}
	if entry["run_id"] != "run-1" {
		t.Errorf("expected run_id attribute, got %v", entry["run_id"])
	}
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "", slog.LevelWarn, "text")

	logger.Info("ignored")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at WARN level, got %q", buf.String())
	}

	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Error("warn should be written")
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger for empty context")
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("expected logger from context")
	}
}
