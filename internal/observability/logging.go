package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/autumn-ma/django-culture/internal/config"
)

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger: JSON or text to stdout, stamped with
// trace context when a sampled span is active. With OTEL_LOGS_ENABLED each
// record is also mirrored onto the current span as an event, so sampled
// traces carry the log lines emitted while the span was open.
func NewLogger(cfg *config.Config) *slog.Logger {
	logger := slog.New(newRootHandler(cfg, os.Stdout))
	return logger.With("service", cfg.OTELServiceName, "env", cfg.Env)
}

func newRootHandler(cfg *config.Config, w io.Writer) slog.Handler {
	level := parseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	var base slog.Handler
	if cfg.LogFormat == "text" {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}
	stdout := &traceContextHandler{next: base}
	if !cfg.OTELLogsEnabled {
		return stdout
	}
	return &multiHandler{handlers: []slog.Handler{stdout, &spanEventHandler{level: level}}}
}

// multiHandler fans a record out to every child handler. Enabled when any
// child is enabled; Handle returns the first child error.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, rec slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if err := h.Handle(ctx, rec.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// spanEventHandler records each log line as an event on the span in the
// record's context. Records without a recording span are dropped; the stdout
// handler in front of it still sees them.
type spanEventHandler struct {
	level slog.Level
	attrs []attribute.KeyValue
	group string
}

func (h *spanEventHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *spanEventHandler) Handle(ctx context.Context, rec slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}
	kvs := make([]attribute.KeyValue, 0, rec.NumAttrs()+len(h.attrs)+2)
	kvs = append(kvs,
		attribute.String("log.severity", rec.Level.String()),
		attribute.String("log.message", rec.Message),
	)
	kvs = append(kvs, h.attrs...)
	rec.Attrs(func(a slog.Attr) bool {
		kvs = append(kvs, attribute.String(h.prefixed(a.Key), a.Value.String()))
		return true
	})
	span.AddEvent("log", trace.WithAttributes(kvs...))
	return nil
}

func (h *spanEventHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &spanEventHandler{level: h.level, group: h.group}
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, attribute.String(h.prefixed(a.Key), a.Value.String()))
	}
	return next
}

func (h *spanEventHandler) WithGroup(name string) slog.Handler {
	next := &spanEventHandler{level: h.level, attrs: h.attrs, group: name}
	if h.group != "" {
		next.group = h.group + "." + name
	}
	return next
}

func (h *spanEventHandler) prefixed(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

// traceContextHandler adds trace_id/span_id attributes from the span in the
// record's context, empty when no span is recording.
type traceContextHandler struct {
	next slog.Handler
}

func (h *traceContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *traceContextHandler) Handle(ctx context.Context, rec slog.Record) error {
	traceID := ""
	spanID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		traceID = sc.TraceID().String()
		spanID = sc.SpanID().String()
	}
	rec.AddAttrs(slog.String("trace_id", traceID), slog.String("span_id", spanID))
	return h.next.Handle(ctx, rec)
}

func (h *traceContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceContextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *traceContextHandler) WithGroup(name string) slog.Handler {
	return &traceContextHandler{next: h.next.WithGroup(name)}
}
