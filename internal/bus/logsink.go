package bus

import (
	"context"
	"log/slog"
)

// LogSink is a slog.Handler that mirrors every record onto the bus under
// log/{debug,info,warning,error,critical} before delegating to an inner
// handler. Observers subscribed to log/# see the process log stream.
type LogSink struct {
	inner slog.Handler
	bus   *Bus
	attrs []slog.Attr
}

// NewLogSink wraps inner with bus mirroring.
func NewLogSink(inner slog.Handler, b *Bus) *LogSink {
	return &LogSink{inner: inner, bus: b}
}

// Enabled defers to the inner handler.
func (s *LogSink) Enabled(ctx context.Context, level slog.Level) bool {
	return s.inner.Enabled(ctx, level)
}

// Handle publishes the record on the bus asynchronously, then hands it
// to the inner handler. Bus publish failures never block logging.
func (s *LogSink) Handle(ctx context.Context, r slog.Record) error {
	payload := map[string]any{"message": r.Message}
	for _, a := range s.attrs {
		payload[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		payload[a.Key] = a.Value.Any()
		return true
	})
	_ = s.bus.PublishAsync("log/"+levelTopic(r.Level), payload, "log")
	return s.inner.Handle(ctx, r)
}

// WithAttrs returns a sink whose records carry the additional attributes.
func (s *LogSink) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(s.attrs)+len(attrs))
	merged = append(merged, s.attrs...)
	merged = append(merged, attrs...)
	return &LogSink{inner: s.inner.WithAttrs(attrs), bus: s.bus, attrs: merged}
}

// WithGroup defers grouping to the inner handler; the bus payload stays flat.
func (s *LogSink) WithGroup(name string) slog.Handler {
	return &LogSink{inner: s.inner.WithGroup(name), bus: s.bus, attrs: s.attrs}
}

func levelTopic(l slog.Level) string {
	switch {
	case l >= slog.LevelError+4:
		return "critical"
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warning"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
