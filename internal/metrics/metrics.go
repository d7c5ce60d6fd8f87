// Package metrics turns the execution event stream into Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vk/pipegrid/internal/events"
)

// Metrics implements events.Sink.
type Metrics struct {
	unitsTotal      *prometheus.CounterVec
	unitDuration    *prometheus.HistogramVec
	spanDuration    *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	cacheWrites     *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	executionsTotal prometheus.Counter
}

// New creates the collectors.
func New() *Metrics {
	return &Metrics{
		unitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipegrid_units_total",
				Help: "Total number of finished units per pipeline, route and final state",
			},
			[]string{"pipeline", "route", "state"},
		),
		unitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipegrid_unit_duration_seconds",
				Help:    "Duration of unit execution in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pipeline", "route"},
		),
		spanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipegrid_span_duration_seconds",
				Help:    "Duration of spans in seconds per phase",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipegrid_cache_lookups_total",
				Help: "Total number of cache lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		cacheWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipegrid_cache_writes_total",
				Help: "Total number of cache writes by result (stored, error)",
			},
			[]string{"result"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipegrid_errors_total",
				Help: "Total number of error events per pipeline and route",
			},
			[]string{"pipeline", "route"},
		),
		executionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipegrid_executions_total",
				Help: "Total number of pipeline executions started",
			},
		),
	}
}

// MustRegister registers all collectors with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.unitsTotal,
		m.unitDuration,
		m.spanDuration,
		m.cacheLookups,
		m.cacheWrites,
		m.errorsTotal,
		m.executionsTotal,
	)
}

// Emit implements events.Sink.
func (m *Metrics) Emit(e events.Event) {
	switch e.Type {
	case events.PhasePipeline.Start():
		m.executionsTotal.Inc()
	case events.PhaseRoute.End():
		m.unitsTotal.WithLabelValues(e.PipelineID, e.RouteID, e.State).Inc()
		if e.DurationMs != nil {
			m.unitDuration.WithLabelValues(e.PipelineID, e.RouteID).Observe(*e.DurationMs / 1000)
		}
	case events.CacheHit:
		m.cacheLookups.WithLabelValues("hit").Inc()
	case events.CacheMiss:
		m.cacheLookups.WithLabelValues("miss").Inc()
	case events.CacheStore:
		m.cacheWrites.WithLabelValues("stored").Inc()
	case events.CacheError:
		// cache:error events carry the failed operation in State.
		if e.State == events.CacheOpWrite {
			m.cacheWrites.WithLabelValues("error").Inc()
		} else {
			m.cacheLookups.WithLabelValues("error").Inc()
		}
	case events.Error:
		m.errorsTotal.WithLabelValues(e.PipelineID, e.RouteID).Inc()
	}
	if e.Type.IsEnd() && e.DurationMs != nil {
		if phase, ok := e.Type.Phase(); ok {
			m.spanDuration.WithLabelValues(string(phase)).Observe(*e.DurationMs / 1000)
		}
	}
}
