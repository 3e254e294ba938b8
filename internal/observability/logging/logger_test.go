package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNewWritesServiceAndUTCTimes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "mission-stats-api", "info")

	at := time.Date(2026, 3, 14, 23, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	logger.Info("submission_accepted", "record_id", "r-1", "created_at", at)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if entry["service"] != "mission-stats-api" {
		t.Fatalf("service = %v", entry["service"])
	}
	if entry["created_at"] != "2026-03-14T20:00:00Z" {
		t.Fatalf("created_at = %v", entry["created_at"])
	}
	if ts, _ := entry["time"].(string); !strings.HasSuffix(ts, "Z") {
		t.Fatalf("time not in UTC: %v", entry["time"])
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "svc", "warn")
	logger.Info("dropped")
	logger.Warn("kept")

	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
