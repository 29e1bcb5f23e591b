// Package testutil provides test helpers shared across packages.
package testutil

import (
	"context"
	"log/slog"
	"sync"
	"testing"
)

// LogEntry is one captured log record.
type LogEntry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

type logSink struct {
	mu      sync.Mutex
	entries []LogEntry
}

// CaptureHandler records every log record for later assertions. Handlers
// derived with WithAttrs share the same sink.
type CaptureHandler struct {
	sink  *logSink
	attrs []slog.Attr
	t     *testing.T
}

// NewCaptureHandler creates a handler. When t is not nil records are echoed
// to the test log.
func NewCaptureHandler(t *testing.T) *CaptureHandler {
	return &CaptureHandler{sink: &logSink{}, t: t}
}

// NewTestLogger returns a logger backed by a fresh CaptureHandler.
func NewTestLogger(t *testing.T) (*slog.Logger, *CaptureHandler) {
	h := NewCaptureHandler(t)
	return slog.New(h), h
}

// Enabled implements slog.Handler
func (h *CaptureHandler) Enabled(context.Context, slog.Level) bool { return true }

// Handle implements slog.Handler
func (h *CaptureHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.sink.mu.Lock()
	h.sink.entries = append(h.sink.entries, LogEntry{Level: r.Level, Message: r.Message, Attrs: attrs})
	h.sink.mu.Unlock()

	if h.t != nil {
		h.t.Logf("[%s] %s %v", r.Level, r.Message, attrs)
	}
	return nil
}

// WithAttrs implements slog.Handler
func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &CaptureHandler{sink: h.sink, attrs: merged, t: h.t}
}

// WithGroup implements slog.Handler. Groups are flattened.
func (h *CaptureHandler) WithGroup(string) slog.Handler { return h }

// Entries returns a copy of the captured records.
func (h *CaptureHandler) Entries() []LogEntry {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	out := make([]LogEntry, len(h.sink.entries))
	copy(out, h.sink.entries)
	return out
}

// Find returns the records with the given message.
func (h *CaptureHandler) Find(message string) []LogEntry {
	var out []LogEntry
	for _, e := range h.Entries() {
		if e.Message == message {
			out = append(out, e)
		}
	}
	return out
}

// Has reports whether a record with message was logged.
func (h *CaptureHandler) Has(message string) bool { return len(h.Find(message)) > 0 }

// Reset drops captured records.
func (h *CaptureHandler) Reset() {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	h.sink.entries = nil
}

// AssertLogged fails the test unless message was logged at level.
func AssertLogged(t *testing.T, h *CaptureHandler, level slog.Level, message string) {
	t.Helper()
	for _, e := range h.Find(message) {
		if e.Level == level {
			return
		}
	}
	t.Errorf("expected %s log %q", level, message)
	for _, e := range h.Entries() {
		t.Logf("  captured [%s] %s %v", e.Level, e.Message, e.Attrs)
	}
}
