package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	t.Parallel()
	log := Default()
	if log == nil {
		t.Fatal("Default() returned nil")
	}
	log.Debug("debug message")
}

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("hello", "key", "value")

	output := buf.String()
	if !strings.Contains(output, `"key":"value"`) {
		t.Fatalf("expected key=value in JSON output, got: %s", output)
	}
	if !strings.Contains(output, `"level":"INFO"`) {
		t.Fatalf("expected level INFO in output, got: %s", output)
	}
}

func TestTextLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Text(&buf, slog.LevelWarn)
	log.Info("should not appear")

	if buf.Len() > 0 {
		t.Fatalf("expected no output for info at warn level, got: %s", buf.String())
	}

	log.Warn("should appear", "component", "pool")
	output := buf.String()
	if !strings.Contains(output, "should appear") || !strings.Contains(output, "component=pool") {
		t.Fatalf("expected warn record with attrs, got: %s", output)
	}
}

func TestNopDiscards(t *testing.T) {
	t.Parallel()
	log := Nop().With("a", 1).WithGroup("g")
	log.Error("nothing happens")
}

func TestWithGroup(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("component", "sweep").WithGroup("timeline")
	log.Info("signal", "name", "tl-1")

	output := buf.String()
	if !strings.Contains(output, `"component":"sweep"`) {
		t.Fatalf("expected component attr, got: %s", output)
	}
	if !strings.Contains(output, `"timeline":{"name":"tl-1"}`) {
		t.Fatalf("expected grouped attr, got: %s", output)
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)

	ctx := WithContext(context.Background(), log)
	FromContext(ctx).Info("roundtrip test")
	if !strings.Contains(buf.String(), "roundtrip test") {
		t.Fatalf("expected message via context logger, got: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext with no logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" info ", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tc := range tests {
		result := ParseLevel(tc.input)
		if result != tc.expected {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tc.input, tc.expected, result)
		}
	}
}

func TestThrottleDropsExcessWarnings(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Throttle(Text(&buf, slog.LevelDebug), time.Hour, 2)

	for i := 0; i < 5; i++ {
		log.Warn("overflow")
	}
	child := log.With("component", "query")
	child.Warn("overflow")
	child.Info("still logged")

	output := buf.String()
	if got := strings.Count(output, "overflow"); got != 2 {
		t.Fatalf("expected 2 warnings to pass the limiter, got %d: %s", got, output)
	}
	if !strings.Contains(output, "still logged") {
		t.Fatalf("info records must not be throttled: %s", output)
	}
}
