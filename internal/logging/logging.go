// Package logging configures slog for hubcast and mirrors records into a
// ring buffer and an optional line sink such as the console.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogBufferSize is the default number of log entries to keep
const LogBufferSize = 1000

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time      `json:"ts"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Line renders the entry as a single console line
func (e LogEntry) Line() string {
	var b strings.Builder
	b.WriteString("LOG: ")
	if e.Level != slog.LevelInfo.String() {
		b.WriteString(e.Level)
		b.WriteByte(' ')
	}
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	return b.String()
}

// LogBuffer is a thread-safe ring buffer for log entries
type LogBuffer struct {
	entries []LogEntry
	head    int
	count   int
	maxSize int
	mu      sync.RWMutex
}

// NewLogBuffer creates a buffer with the given capacity
func NewLogBuffer(maxSize int) *LogBuffer {
	if maxSize <= 0 {
		maxSize = LogBufferSize
	}
	return &LogBuffer{
		entries: make([]LogEntry, maxSize),
		maxSize: maxSize,
	}
}

// Add appends a log entry to the buffer
func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.maxSize
	if b.count < b.maxSize {
		b.count++
	}
}

// Recent returns up to limit entries in chronological order, oldest first.
// limit <= 0 returns everything buffered.
func (b *LogBuffer) Recent(limit int) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}

	start := 0
	if b.count == b.maxSize {
		start = b.head
	}
	skip := b.count - n

	results := make([]LogEntry, 0, n)
	for i := skip; i < b.count; i++ {
		results = append(results, b.entries[(start+i)%b.maxSize])
	}
	return results
}

// Count returns the number of entries in the buffer
func (b *LogBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Sink receives every record that passes the level filter
type Sink func(LogEntry)

// BufferedHandler is an slog.Handler that writes to a buffer, a sink and another handler
type BufferedHandler struct {
	buffer *LogBuffer
	next   slog.Handler
	sink   Sink
	attrs  []slog.Attr
	group  string
}

// NewBufferedHandler creates a handler that captures logs to the buffer.
// sink may be nil.
func NewBufferedHandler(buffer *LogBuffer, next slog.Handler, sink Sink) *BufferedHandler {
	return &BufferedHandler{
		buffer: buffer,
		next:   next,
		sink:   sink,
	}
}

func (h *BufferedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *BufferedHandler) Handle(ctx context.Context, r slog.Record) error {
	fields := make(map[string]any)

	for _, attr := range h.attrs {
		fields[attr.Key] = attr.Value.Any()
	}

	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fields[key] = a.Value.Any()
		return true
	})

	entry := LogEntry{
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Fields:    fields,
	}

	h.buffer.Add(entry)
	if h.sink != nil {
		h.sink(entry)
	}

	return h.next.Handle(ctx, r)
}

func (h *BufferedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &BufferedHandler{
		buffer: h.buffer,
		next:   h.next.WithAttrs(attrs),
		sink:   h.sink,
		attrs:  append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
		group:  h.group,
	}
}

func (h *BufferedHandler) WithGroup(name string) slog.Handler {
	newGroup := name
	if h.group != "" {
		newGroup = h.group + "." + name
	}
	return &BufferedHandler{
		buffer: h.buffer,
		next:   h.next.WithGroup(name),
		sink:   h.sink,
		attrs:  h.attrs,
		group:  newGroup,
	}
}

// Options selects the output of Setup
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text, json
	File   string // append records here instead of Output when set
	Output io.Writer
	Sink   Sink
}

// ParseLevel maps a config level name to a slog level
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the handler chain, installs it as the slog default and
// returns the buffer plus a function that closes the log file, if any.
func Setup(opts Options) (*LogBuffer, func() error, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	closeFn := func() error { return nil }

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = f.Close
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var base slog.Handler
	if opts.Format == "json" {
		base = slog.NewJSONHandler(out, handlerOpts)
	} else {
		base = slog.NewTextHandler(out, handlerOpts)
	}

	buffer := NewLogBuffer(LogBufferSize)
	slog.SetDefault(slog.New(NewBufferedHandler(buffer, base, opts.Sink)))

	return buffer, closeFn, nil
}
