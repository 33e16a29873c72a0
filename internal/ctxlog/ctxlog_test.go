package ctxlog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).Info("hello", "rank", 3)

	if !strings.Contains(buf.String(), "rank=3") {
		t.Fatalf("expected attached logger to receive the record, got %q", buf.String())
	}
}

func TestFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Fatal("expected the default logger for a bare context")
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warn", "text", &buf)

	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("info record should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "loud") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("info", "json", &buf).Info("event", "epoch", 2)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not a JSON object: %v", err)
	}
	if record["msg"] != "event" {
		t.Errorf("msg = %v, want event", record["msg"])
	}
	if record["epoch"] != float64(2) {
		t.Errorf("epoch = %v, want 2", record["epoch"])
	}
}

func TestNewLoggerUnknownValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("verbose", "yaml", &buf)

	logger.Debug("hidden")
	logger.Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record should be filtered at the fallback info level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("info record missing: %q", out)
	}
}
