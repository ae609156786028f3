package rtu485

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestSimpleLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSimpleLogger(&buf, LevelInfo, "core")

	n, err := fmt.Fprintf(logger, "DEBUG: rtu485 tx % X\n", []byte{0x01, 0x03})
	if err != nil || n == 0 {
		t.Fatalf("dropped write = (%d, %v), want full length and nil", n, err)
	}
	if buf.Len() != 0 {
		t.Fatalf("debug line leaked through at info level: %q", buf.String())
	}

	// 无前缀默认 INFO
	fmt.Fprintf(logger, "read failed: %v\n", ErrTimeout)
	out := buf.String()
	if !strings.Contains(out, "[INFO]") || !strings.Contains(out, "<core>") {
		t.Fatalf("info line = %q", out)
	}
	if !strings.Contains(out, "response timeout") {
		t.Fatalf("info line lost its message: %q", out)
	}
}

func TestSimpleLogger_DebugAndNone(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSimpleLogger(&buf, LevelDebug, "core")
	fmt.Fprintln(logger, "DEBUG: poll window opened")
	if !strings.Contains(buf.String(), "[DEBUG]") || !strings.Contains(buf.String(), "poll window opened") {
		t.Fatalf("debug line = %q", buf.String())
	}

	buf.Reset()
	logger.SetLevel(LevelNone)
	fmt.Fprintln(logger, "ERROR: bus fault")
	if buf.Len() != 0 {
		t.Fatalf("LevelNone leaked: %q", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"Warn", LevelWarning, true},
		{"warning", LevelWarning, true},
		{"error", LevelError, true},
		{"none", LevelNone, true},
		{" info ", LevelInfo, true},
		{"loud", LevelNone, false},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("ParseLogLevel(%q) = (%v, %v), want %v", tt.in, got, err, tt.want)
		}
		if !tt.ok && err == nil {
			t.Errorf("ParseLogLevel(%q) accepted", tt.in)
		}
	}
}

func TestSimpleLogger_SetLevelFromString(t *testing.T) {
	logger := NewSimpleLogger(&bytes.Buffer{}, LevelInfo, "core")
	if err := logger.SetLevelFromString("warning"); err != nil {
		t.Fatalf("SetLevelFromString: %v", err)
	}
	if logger.Level() != LevelWarning {
		t.Fatalf("level = %v, want WARNING", logger.Level())
	}
	if err := logger.SetLevelFromString("nope"); err == nil {
		t.Fatal("bad level name accepted")
	}
	if logger.Level() != LevelWarning {
		t.Fatal("failed SetLevelFromString must not change the level")
	}
}
