package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

// newLogger replaces slog.Default, so these tests are not parallel.
func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "info", "json", false)

	log.Debug("hidden")
	log.Info("chat.finalized", "thread_id", "abc", "turns", 4)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not one JSON record: %q (%v)", buf.String(), err)
	}
	if rec["msg"] != "chat.finalized" || rec["thread_id"] != "abc" || rec["turns"] != float64(4) {
		t.Fatalf("record=%v", rec)
	}
}

func TestNewLogger_Pretty(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "info", "pretty", true)

	log.With("via", "sse").WithGroup("http").Warn("request", "status", 503, "path", "/api/chat", "note", "two words")

	plain := stripANSI(buf.String())
	for _, want := range []string{"lvl=[WARN]", "msg=request", "via=sse", "http.status=503", "http.path=/api/chat", `http.note="two words"`} {
		if !strings.Contains(plain, want) {
			t.Fatalf("missing %q in %q", want, plain)
		}
	}
	if !strings.Contains(buf.String(), ansiYellow+"[WARN]"+ansiReset) {
		t.Fatalf("level not colored: %q", buf.String())
	}
}

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	if got := stripANSI(in); got != "INFO plain ERR" {
		t.Fatalf("stripANSI()=%q", got)
	}
}
