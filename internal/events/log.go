package events

import (
	"context"
	"log/slog"
)

// LogSink writes every event to a structured logger at debug level, and
// error events at error level.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Emit(e Event) {
	level := slog.LevelDebug
	if e.Type == Error {
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("type", string(e.Type)),
		slog.String("execution_id", e.ExecutionID),
		slog.String("span_id", e.SpanID),
	}
	if e.Version != "" {
		attrs = append(attrs, slog.String("version", e.Version))
	}
	if e.RouteID != "" {
		attrs = append(attrs, slog.String("route", e.RouteID))
	}
	if e.ArtifactID != "" {
		attrs = append(attrs, slog.String("artifact", e.ArtifactID))
	}
	if e.File != "" {
		attrs = append(attrs, slog.String("file", e.File))
	}
	if e.DurationMs != nil {
		attrs = append(attrs, slog.Float64("duration_ms", *e.DurationMs))
	}
	if e.State != "" {
		attrs = append(attrs, slog.String("state", e.State))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	l.Logger.LogAttrs(context.Background(), level, "event", attrs...)
}
