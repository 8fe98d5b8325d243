package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"WARNING": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 100); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	long := strings.Repeat("x", 50)
	got := truncate(long, 20)
	if len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate = %q (len %d)", got, len(got))
	}
}

func TestFormatChannelJSON(t *testing.T) {
	line := `{"level":"warn","message":"run failed","run_id":"r1","time":"2025-01-01T00:00:00Z"}`
	out := formatChannelJSON([]byte(line))

	if !strings.HasPrefix(out, "[WARN] run failed") {
		t.Fatalf("out = %q", out)
	}
	if !strings.Contains(out, "run_id=r1") {
		t.Errorf("field missing: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Errorf("time field leaked: %q", out)
	}
}

func TestFormatChannelJSONNonJSON(t *testing.T) {
	if out := formatChannelJSON([]byte("  plain line\n")); out != "plain line" {
		t.Fatalf("out = %q", out)
	}
}

func TestLoggerWithFields(t *testing.T) {
	// Nop logger must be usable with any field chain without panicking.
	log := Nop().With(String("comp", "test"), Int("n", 1))
	log.Info("hello", Err(nil), Bool("ok", true))
	log.Warn("warn", Any("v", struct{ X int }{1}))
}
