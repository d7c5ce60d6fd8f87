package events

import (
	"strings"
	"time"
)

// Phase names a kind of span.
type Phase string

const (
	PhasePipeline Phase = "pipeline"
	PhaseVersion  Phase = "version"
	PhaseRoute    Phase = "route"
	PhaseParse    Phase = "parse"
	PhaseResolve  Phase = "resolve"
	PhaseArtifact Phase = "artifact"
)

// Type is the type of an event.
type Type string

const (
	CacheHit   Type = "cache:hit"
	CacheMiss  Type = "cache:miss"
	CacheStore Type = "cache:store"
	CacheError Type = "cache:error"
	Error      Type = "error"
)

// Cache operations reported in the State of a cache:error event.
const (
	CacheOpRead  = "read"
	CacheOpWrite = "write"
)

// Start returns the type of the phase's opening event.
func (p Phase) Start() Type { return Type(string(p) + ":start") }

// End returns the type of the phase's closing event.
func (p Phase) End() Type { return Type(string(p) + ":end") }

// Phase returns the span phase of a start or end event.
func (t Type) Phase() (Phase, bool) {
	if p, ok := strings.CutSuffix(string(t), ":start"); ok {
		return Phase(p), true
	}
	if p, ok := strings.CutSuffix(string(t), ":end"); ok {
		return Phase(p), true
	}
	return "", false
}

// IsStart reports whether t opens a span.
func (t Type) IsStart() bool { return strings.HasSuffix(string(t), ":start") }

// IsEnd reports whether t closes a span.
func (t Type) IsEnd() bool { return strings.HasSuffix(string(t), ":end") }

// Fields are the phase specific attributes of an event.
type Fields struct {
	PipelineID string `json:"pipelineId,omitempty"`
	Version    string `json:"version,omitempty"`
	RouteID    string `json:"routeId,omitempty"`
	ArtifactID string `json:"artifactId,omitempty"`
	File       string `json:"file,omitempty"`
}

// Event is one record of the execution stream. Events are JSON
// serializable and suitable for persistence and replay.
type Event struct {
	Type         Type      `json:"type"`
	ExecutionID  string    `json:"executionId"`
	SpanID       string    `json:"spanId,omitempty"`
	ParentSpanID string    `json:"parentSpanId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	DurationMs   *float64  `json:"durationMs,omitempty"`
	Fields
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use
// and should not block the caller for long.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Multi fans events out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

func durationMs(start, end time.Time) float64 {
	return float64(end.Sub(start)) / float64(time.Millisecond)
}
