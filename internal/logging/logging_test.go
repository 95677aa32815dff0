package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLogBufferWraps(t *testing.T) {
	buf := NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		buf.Add(LogEntry{Message: string(rune('a' + i))})
	}

	if buf.Count() != 3 {
		t.Fatalf("Expected 3 entries, got %d", buf.Count())
	}

	got := buf.Recent(0)
	want := []string{"c", "d", "e"}
	for i, e := range got {
		if e.Message != want[i] {
			t.Errorf("Entry %d: expected %q, got %q", i, want[i], e.Message)
		}
	}

	last := buf.Recent(2)
	if len(last) != 2 || last[0].Message != "d" || last[1].Message != "e" {
		t.Errorf("Recent(2) returned %+v", last)
	}
}

func TestBufferedHandler(t *testing.T) {
	var out bytes.Buffer
	buffer := NewLogBuffer(10)

	var mu sync.Mutex
	var lines []string
	sink := func(e LogEntry) {
		mu.Lock()
		lines = append(lines, e.Line())
		mu.Unlock()
	}

	base := slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewBufferedHandler(buffer, base, sink)).With("component", "relay")

	logger.Debug("hidden")
	logger.Info("Peer connected", "addr", "10.0.0.5")
	logger.Warn("Send failed", "addr", "10.0.0.6")

	if buffer.Count() != 2 {
		t.Fatalf("Expected 2 buffered entries, got %d", buffer.Count())
	}
	if !strings.Contains(out.String(), "Peer connected") {
		t.Errorf("Expected record forwarded to next handler, got %q", out.String())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 2 {
		t.Fatalf("Expected 2 sink lines, got %d", len(lines))
	}
	if lines[0] != "LOG: Peer connected addr=10.0.0.5 component=relay" {
		t.Errorf("Unexpected sink line %q", lines[0])
	}
	if lines[1] != "LOG: WARN Send failed addr=10.0.0.6 component=relay" {
		t.Errorf("Unexpected sink line %q", lines[1])
	}
}

func TestBufferedHandlerGroup(t *testing.T) {
	buffer := NewLogBuffer(10)
	base := slog.NewTextHandler(&bytes.Buffer{}, nil)
	slog.New(NewBufferedHandler(buffer, base, nil)).WithGroup("web").Info("Listening", "addr", ":80")

	entries := buffer.Recent(0)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if _, ok := entries[0].Fields["web.addr"]; !ok {
		t.Errorf("Expected grouped key web.addr, got %v", entries[0].Fields)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetup(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var out bytes.Buffer
	buffer, closeFn, err := Setup(Options{Level: "info", Format: "json", Output: &out})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer closeFn()

	slog.Info("hello", "n", 1)

	if buffer.Count() != 1 {
		t.Errorf("Expected 1 buffered entry, got %d", buffer.Count())
	}
	if !strings.HasPrefix(out.String(), "{") {
		t.Errorf("Expected JSON output, got %q", out.String())
	}
}

func TestLineTimestampIgnored(t *testing.T) {
	e := LogEntry{Timestamp: time.Now(), Level: "ERROR", Message: "boom"}
	if got := e.Line(); got != "LOG: ERROR boom" {
		t.Errorf("Unexpected line %q", got)
	}
}
