package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_WritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).With(F("component", "resolver"))

	logger.Info(context.Background(), "token acquired", F("account", "a-1"))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e["msg"] != "token acquired" {
		t.Errorf("msg = %v", e["msg"])
	}
	if e["level"] != "info" {
		t.Errorf("level = %v", e["level"])
	}
	if e["component"] != "resolver" {
		t.Errorf("component = %v", e["component"])
	}
	if e["account"] != "a-1" {
		t.Errorf("account = %v", e["account"])
	}
	if _, ok := e["timestamp"].(string); !ok {
		t.Errorf("missing timestamp")
	}
}

func TestLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)

	logger.Debug(context.Background(), "debug")
	logger.Info(context.Background(), "info")
	logger.Warn(context.Background(), "warn")
	logger.Error(context.Background(), "error")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["level"] != "warn" || entries[1]["level"] != "error" {
		t.Errorf("unexpected levels: %v, %v", entries[0]["level"], entries[1]["level"])
	}
}

func TestLogger_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("debug", &buf).With(F("refresh_token", "rt-secret"))

	logger.Info(context.Background(), "request",
		F("access_token", "at-secret"),
		F("Authorization", "Bearer at-secret"),
		F("path", "/api/me"),
	)

	out := buf.String()
	if strings.Contains(out, "secret") {
		t.Fatalf("credential leaked into log output: %s", out)
	}
	entries := decodeLines(t, &buf)
	if entries[0]["path"] != "/api/me" {
		t.Errorf("path = %v", entries[0]["path"])
	}
	if entries[0]["access_token"] != "[REDACTED]" {
		t.Errorf("access_token = %v", entries[0]["access_token"])
	}
}

func TestLogger_ErrField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Error(context.Background(), "failed", Err(context.Canceled))

	entries := decodeLines(t, &buf)
	if entries[0]["error"] != "context canceled" {
		t.Errorf("error = %v", entries[0]["error"])
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"WARN":    LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	if l == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l.Info(context.Background(), "discarded")
	if l.With(F("k", "v")) == nil {
		t.Fatal("With returned nil")
	}
}
