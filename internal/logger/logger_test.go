package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelDebug,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestHandlerFormatsAndFilters(t *testing.T) {
	defer SetLevel(GetLevel())
	var buf bytes.Buffer
	InitLogger(&buf)
	SetLevel("info")

	slog.Debug("[Test] hidden")
	slog.With("call_id", 3).Info("[Test] State changed", "state", "ACTIVE")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %q", out)
	}
	if !strings.Contains(out, "[INFO] [Test] State changed call_id=3 state=ACTIVE") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestJSONParsingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &JSONParsingWriter{base: &buf}
	line := `{"level":"warn","message":"transaction timeout","time":"2026-01-02T03:04:05Z","call_id":"abc"}` + "\n"
	n, err := w.Write([]byte(line))
	if err != nil || n != len(line) {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if got := buf.String(); got != "[03:04:05] [WARN] transaction timeout call_id=abc\n" {
		t.Errorf("got %q", got)
	}

	buf.Reset()
	if _, err := w.Write([]byte("plain text\n")); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "plain text\n" {
		t.Errorf("plain line rewritten: %q", buf.String())
	}
}

func TestSetupWritesFile(t *testing.T) {
	defer SetLevel(GetLevel())
	path := filepath.Join(t.TempDir(), "callservice.log")
	closer := Setup(Options{Level: "debug", File: path, MaxSizeMB: 1, MaxBackups: 1})
	slog.Info("[Test] to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	InitLogger(os.Stdout)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "[Test] to file") {
		t.Errorf("log file = %q", data)
	}
}
