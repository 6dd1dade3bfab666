package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func bufLogger(buf *bytes.Buffer, level string) Logger {
	zl := zerolog.New(buf).Level(parseLevel(level))
	return Logger{fixed: &zl}
}

func TestLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := bufLogger(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3), Bool("ok", true), Err(nil), Stack("  "))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["message"] != "hello" {
		t.Fatalf("message = %v, want hello", m["message"])
	}
	if m["comp"] != "test" || m["n"] != float64(3) || m["ok"] != true {
		t.Fatalf("unexpected fields: %v", m)
	}
	if _, ok := m["err"]; ok {
		t.Fatalf("nil error should be omitted: %v", m)
	}
	if _, ok := m["stack"]; ok {
		t.Fatalf("blank stack should be omitted: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q, want logging_test.go:<line>", c)
	}
}

func TestWithDoesNotAlias(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	base := bufLogger(&buf, "info").With(String("a", "1"))
	_ = base.With(String("b", "2"))
	base.Info("x")
	if strings.Contains(buf.String(), `"b"`) {
		t.Fatalf("derived field leaked into parent: %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := bufLogger(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	log.Warn("kept", Err(errors.New("boom")))
	if !strings.Contains(buf.String(), "kept") || !strings.Contains(buf.String(), "boom") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("nothing happens")
	Nop().With(String("a", "b")).Info("still nothing")
}

func TestServiceFileSink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "nested", "a.log")
	second := filepath.Join(dir, "b.log")

	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	log.Info("to first", String("k", "v"))
	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: second}})
	log.Info("filtered")
	log.Error("to second")
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if !strings.Contains(string(a), `"k":"v"`) || strings.Contains(string(a), "second") {
		t.Fatalf("first sink = %q", a)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if strings.Contains(string(b), "filtered") || !strings.Contains(string(b), "to second") {
		t.Fatalf("second sink = %q", b)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" warning ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
