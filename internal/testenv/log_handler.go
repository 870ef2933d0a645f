package testenv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// LogHandler is a slog.Handler that prints a message index (starting from
// 0), the level and the message, without the timestamp. This keeps test
// log output deterministic.
type LogHandler struct {
	shared *logState
	attrs  []slog.Attr
	groups []string
}

type logState struct {
	mu    sync.Mutex
	index int
	out   func(line string)

	ignoreErrorPrefixes []string
	ignoreDebug         bool
}

// LogHandlerOption configures a LogHandler.
type LogHandlerOption func(*logState)

// WithIgnoreErrorPrefixes drops ERROR records whose message starts with one
// of prefixes.
func WithIgnoreErrorPrefixes(prefixes ...string) LogHandlerOption {
	return func(s *logState) {
		s.ignoreErrorPrefixes = append(s.ignoreErrorPrefixes, prefixes...)
	}
}

// WithIgnoreDebug drops DEBUG records.
func WithIgnoreDebug() LogHandlerOption {
	return func(s *logState) {
		s.ignoreDebug = true
	}
}

// NewLogHandler writes one line per record to w.
func NewLogHandler(w io.Writer, opts ...LogHandlerOption) *LogHandler {
	return newLogHandler(func(line string) { fmt.Fprintln(w, line) }, opts)
}

// NewTestLogHandler routes records to t.Log, so they show up only for
// failing or verbose tests. Records arriving after the test's cleanup has
// run are dropped, since t.Log panics once a test has completed.
func NewTestLogHandler(t testing.TB, opts ...LogHandlerOption) *LogHandler {
	h := newLogHandler(func(line string) { t.Log(line) }, opts)
	t.Cleanup(func() {
		h.shared.mu.Lock()
		defer h.shared.mu.Unlock()
		h.shared.out = func(string) {}
	})
	return h
}

func newLogHandler(out func(string), opts []LogHandlerOption) *LogHandler {
	s := &logState{out: out}
	for _, opt := range opts {
		opt(s)
	}
	return &LogHandler{shared: s}
}

//nolint:gocritic
func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	s := h.shared
	if r.Level == slog.LevelDebug && s.ignoreDebug {
		return nil
	}
	if r.Level == slog.LevelError {
		for _, prefix := range s.ignoreErrorPrefixes {
			if strings.HasPrefix(r.Message, prefix) {
				return nil
			}
		}
	}

	attrs := h.attrsToString(&r)

	s.mu.Lock()
	defer s.mu.Unlock()

	line := fmt.Sprintf("[%d] %s: %s", s.index, r.Level, r.Message)
	if attrs != "" {
		line += " " + attrs
	}
	s.out(line)
	s.index++
	return nil
}

func (h *LogHandler) attrsToString(r *slog.Record) string {
	parts := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, attr := range h.attrs {
		parts = append(parts, formatAttr(attr, ""))
	}

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(a, prefix))
		return true
	})
	return strings.Join(parts, ", ")
}

func formatAttr(a slog.Attr, prefix string) string {
	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix + a.Key + "."
		parts := make([]string, 0, len(a.Value.Group()))
		for _, ga := range a.Value.Group() {
			parts = append(parts, formatAttr(ga, groupPrefix))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("%s%s=%v", prefix, a.Key, a.Value)
}

func (h *LogHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// WithAttrs stores attrs under the current group path. The message index
// stays shared with h.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}

	next := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next = append(next, h.attrs...)
	for _, attr := range attrs {
		if prefix != "" {
			attr.Key = prefix + attr.Key
		}
		next = append(next, attr)
	}
	return &LogHandler{shared: h.shared, attrs: next, groups: h.groups}
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := append(h.groups[:len(h.groups):len(h.groups)], name)
	return &LogHandler{shared: h.shared, attrs: h.attrs, groups: groups}
}
