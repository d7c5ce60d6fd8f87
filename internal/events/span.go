package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vk/pipegrid/internal/ctxlog"
)

type recorderKey struct{}
type spanKey struct{}

// Recorder emits the events of one execution.
type Recorder struct {
	executionID string
	sink        Sink
	now         func() time.Time
}

// NewRecorder creates a recorder for a new execution. An empty id is
// replaced by a random UUID; a nil sink discards events.
func NewRecorder(executionID string, sink Sink) *Recorder {
	if executionID == "" {
		executionID = uuid.NewString()
	}
	if sink == nil {
		sink = SinkFunc(func(Event) {})
	}
	return &Recorder{executionID: executionID, sink: sink, now: wallClock}
}

// wallClock drops the monotonic reading so that durations match the
// difference of the serialized timestamps exactly.
func wallClock() time.Time {
	return time.Now().Round(0)
}

// ExecutionID returns the id of the execution.
func (r *Recorder) ExecutionID() string {
	return r.executionID
}

// WithRecorder stores r in ctx and tags the context logger with the
// execution id.
func WithRecorder(ctx context.Context, r *Recorder) context.Context {
	ctx = context.WithValue(ctx, recorderKey{}, r)
	return ctxlog.With(ctx, "execution_id", r.executionID)
}

// RecorderFrom returns the recorder stored in ctx, or nil.
func RecorderFrom(ctx context.Context) *Recorder {
	r, _ := ctx.Value(recorderKey{}).(*Recorder)
	return r
}

// SpanID returns the id of the innermost open span in ctx.
func SpanID(ctx context.Context) string {
	id, _ := ctx.Value(spanKey{}).(string)
	return id
}

// Span is an open start/end bracket.
type Span struct {
	r      *Recorder
	id     string
	parent string
	phase  Phase
	fields Fields
	start  time.Time
	once   sync.Once
}

// Start opens a span and emits its start event. The returned context
// carries the span id, so spans and events created from it are nested
// below this one. Without a recorder in ctx the span is inert.
func Start(ctx context.Context, phase Phase, fields Fields) (context.Context, *Span) {
	r := RecorderFrom(ctx)
	s := &Span{r: r, id: uuid.NewString(), parent: SpanID(ctx), phase: phase, fields: fields}
	ctx = context.WithValue(ctx, spanKey{}, s.id)
	ctx = ctxlog.With(ctx, "span_id", s.id, "phase", string(phase))
	if r == nil {
		return ctx, s
	}
	s.start = r.now()
	r.sink.Emit(Event{
		Type:         phase.Start(),
		ExecutionID:  r.executionID,
		SpanID:       s.id,
		ParentSpanID: s.parent,
		Timestamp:    s.start,
		Fields:       fields,
	})
	return ctx, s
}

// ID returns the span id.
func (s *Span) ID() string {
	return s.id
}

// End emits the end event. state and err are optional. Calling End more
// than once has no effect.
func (s *Span) End(state string, err error) {
	s.once.Do(func() {
		if s.r == nil {
			return
		}
		end := s.r.now()
		if end.Before(s.start) {
			end = s.start
		}
		d := durationMs(s.start, end)
		e := Event{
			Type:         s.phase.End(),
			ExecutionID:  s.r.executionID,
			SpanID:       s.id,
			ParentSpanID: s.parent,
			Timestamp:    end,
			DurationMs:   &d,
			Fields:       s.fields,
			State:        state,
		}
		if err != nil {
			e.Error = err.Error()
		}
		s.r.sink.Emit(e)
	})
}

// Emit sends a standalone event attached to the innermost span of ctx.
func Emit(ctx context.Context, typ Type, fields Fields, err error) {
	EmitState(ctx, typ, fields, "", err)
}

// EmitState is Emit with a state attached. cache:error events use it to
// name the failed operation.
func EmitState(ctx context.Context, typ Type, fields Fields, state string, err error) {
	r := RecorderFrom(ctx)
	if r == nil {
		return
	}
	e := Event{
		Type:        typ,
		ExecutionID: r.executionID,
		SpanID:      SpanID(ctx),
		Timestamp:   r.now(),
		Fields:      fields,
		State:       state,
	}
	if err != nil {
		e.Error = err.Error()
	}
	r.sink.Emit(e)
}
