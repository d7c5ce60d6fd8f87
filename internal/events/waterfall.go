package events

import (
	"sort"
	"time"
)

// SpanRecord is one reconstructed span.
type SpanRecord struct {
	SpanID       string
	ParentSpanID string
	Phase        Phase
	Fields       Fields
	Start        time.Time
	End          time.Time
	DurationMs   float64
	State        string
	Error        string
	// Open is set for spans whose end event has not been seen.
	Open     bool
	Events   []Event
	Children []*SpanRecord
}

// Waterfall rebuilds the span tree of an event stream. End events without
// a previously seen start (for example after reconnecting mid-run) are
// discarded. Missing durations are recomputed from the timestamps.
// Standalone events are attached to the span they reference.
func Waterfall(stream []Event) []*SpanRecord {
	spans := make(map[string]*SpanRecord)
	var order []*SpanRecord

	for _, e := range stream {
		switch {
		case e.Type.IsStart():
			phase, _ := e.Type.Phase()
			rec := &SpanRecord{
				SpanID:       e.SpanID,
				ParentSpanID: e.ParentSpanID,
				Phase:        phase,
				Fields:       e.Fields,
				Start:        e.Timestamp,
				Open:         true,
			}
			spans[e.SpanID] = rec
			order = append(order, rec)
		case e.Type.IsEnd():
			rec, ok := spans[e.SpanID]
			if !ok || !rec.Open {
				continue
			}
			rec.End = e.Timestamp
			rec.Open = false
			rec.State = e.State
			rec.Error = e.Error
			if e.DurationMs != nil {
				rec.DurationMs = *e.DurationMs
			} else {
				rec.DurationMs = durationMs(rec.Start, rec.End)
			}
		default:
			if rec, ok := spans[e.SpanID]; ok {
				rec.Events = append(rec.Events, e)
			}
		}
	}

	var roots []*SpanRecord
	for _, rec := range order {
		if parent, ok := spans[rec.ParentSpanID]; ok && rec.ParentSpanID != "" {
			parent.Children = append(parent.Children, rec)
			continue
		}
		roots = append(roots, rec)
	}
	sortRecords(roots)
	return roots
}

func sortRecords(recs []*SpanRecord) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Start.Before(recs[j].Start) })
	for _, r := range recs {
		sortRecords(r.Children)
	}
}
