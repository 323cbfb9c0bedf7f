package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := levelFromString(in).Level(); got != want {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestNewTagsService(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "driver-test").Info("hello", "driver_id", "d1")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON line, got %q", buf.String())
	}
	if line["service"] != "driver-test" || line["driver_id"] != "d1" {
		t.Fatalf("unexpected fields %v", line)
	}
	buf.Reset()
	New(&buf, "warn", "driver-test").Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level")
	}
}
