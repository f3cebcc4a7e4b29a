package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{Debug, "DEBUG"},
		{Info, "INFO"},
		{Warn, "WARN"},
		{Error, "ERROR"},
		{Fatal, "FATAL"},
		{Level(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{MinLevel: Info, Format: TextFormat, Outputs: []io.Writer{&buf}})
	l.Infof("stopped at %s:%d", "main.lua", 42)
	l.Sync()
	l.Close()

	if !strings.Contains(buf.String(), "stopped at main.lua:42") {
		t.Fatalf("expected message in output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "[INFO]") {
		t.Fatalf("expected level tag in output, got %q", buf.String())
	}
}

func TestLoggerBelowMinLevelIsDropped(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{MinLevel: Warn, Format: TextFormat, Outputs: []io.Writer{&buf}})
	l.Infof("should not appear")
	l.Sync()
	l.Close()

	if buf.Len() != 0 {
		t.Fatalf("expected nothing logged below MinLevel, got %q", buf.String())
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{MinLevel: Debug, Format: JSONFormat, Outputs: []io.Writer{&buf}})
	l.With("sess-1").Debugf("hit breakpoint %d", 3)
	l.Sync()
	l.Close()

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON line, got %q: %v", buf.String(), err)
	}
	if entry.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", entry.SessionID)
	}
	if entry.Message != "hit breakpoint 3" {
		t.Errorf("Message = %q", entry.Message)
	}
}
