package events

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used by TraceSink.
const TracerName = "github.com/vk/pipegrid"

// TraceSink mirrors spans of the event stream as OpenTelemetry spans.
// Standalone events become span events on their enclosing span.
type TraceSink struct {
	tracer trace.Tracer
	mu     sync.Mutex
	spans  map[string]trace.Span
}

// NewTraceSink creates a sink that uses tracer, or the global tracer
// provider when tracer is nil.
func NewTraceSink(tracer trace.Tracer) *TraceSink {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	return &TraceSink{tracer: tracer, spans: make(map[string]trace.Span)}
}

// Emit implements Sink.
func (t *TraceSink) Emit(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case e.Type.IsStart():
		ctx := context.Background()
		if parent, ok := t.spans[e.ParentSpanID]; ok {
			ctx = trace.ContextWithSpan(ctx, parent)
		}
		phase, _ := e.Type.Phase()
		_, span := t.tracer.Start(ctx, string(phase),
			trace.WithTimestamp(e.Timestamp),
			trace.WithAttributes(attributes(e)...),
		)
		t.spans[e.SpanID] = span
	case e.Type.IsEnd():
		span, ok := t.spans[e.SpanID]
		if !ok {
			return
		}
		delete(t.spans, e.SpanID)
		if e.State != "" {
			span.SetAttributes(attribute.String("pipegrid.state", e.State))
		}
		if e.Error != "" {
			span.RecordError(errors.New(e.Error), trace.WithTimestamp(e.Timestamp))
			span.SetStatus(codes.Error, e.Error)
		}
		span.End(trace.WithTimestamp(e.Timestamp))
	default:
		span, ok := t.spans[e.SpanID]
		if !ok {
			return
		}
		attrs := attributes(e)
		if e.Error != "" {
			attrs = append(attrs, attribute.String("pipegrid.error", e.Error))
		}
		span.AddEvent(string(e.Type), trace.WithTimestamp(e.Timestamp), trace.WithAttributes(attrs...))
	}
}

// Open returns the number of spans that were started but not ended.
func (t *TraceSink) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

func attributes(e Event) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("pipegrid.execution_id", e.ExecutionID)}
	add := func(key, value string) {
		if value != "" {
			attrs = append(attrs, attribute.String(key, value))
		}
	}
	add("pipegrid.pipeline_id", e.PipelineID)
	add("pipegrid.version", e.Version)
	add("pipegrid.route_id", e.RouteID)
	add("pipegrid.artifact_id", e.ArtifactID)
	add("pipegrid.file", e.File)
	return attrs
}
