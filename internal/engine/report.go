package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/vk/pipegrid/internal/cache"
	"github.com/vk/pipegrid/internal/pipeline"
)

// UnitResult is the outcome of one (route, version) unit.
type UnitResult struct {
	Version string
	RouteID string
	State   State
	Err     error
	Output  []pipeline.Entry
	// Artifacts holds the artifacts the unit published, including those
	// replayed from the cache.
	Artifacts  map[string]any
	Key        cache.Key
	OutputHash string
	Started    time.Time
	Finished   time.Time
}

// Duration returns how long the unit ran. Units that never started report
// zero.
func (r *UnitResult) Duration() time.Duration {
	if r.Started.IsZero() || r.Finished.Before(r.Started) {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Report is the outcome of a run. Units are ordered by requested version,
// then by execution order inside the version.
type Report struct {
	ExecutionID string
	PipelineID  string
	Units       []*UnitResult
}

// Unit returns the result of one unit.
func (r *Report) Unit(version, routeID string) (*UnitResult, bool) {
	for _, u := range r.Units {
		if u.Version == version && u.RouteID == routeID {
			return u, true
		}
	}
	return nil, false
}

// Counts returns the number of units per final state.
func (r *Report) Counts() map[State]int {
	out := make(map[State]int)
	for _, u := range r.Units {
		out[u.State]++
	}
	return out
}

// Succeeded reports whether every unit completed or was served from the
// cache.
func (r *Report) Succeeded() bool {
	for _, u := range r.Units {
		if !u.State.Succeeded() {
			return false
		}
	}
	return true
}

// Err joins the errors of every unit that failed or was cancelled. It is
// nil when the run fully succeeded.
func (r *Report) Err() error {
	var errs []error
	for _, u := range r.Units {
		if u.State.Succeeded() {
			continue
		}
		err := u.Err
		if err == nil {
			err = errors.New(u.State.String())
		}
		errs = append(errs, fmt.Errorf("%s/%s: %w", u.Version, u.RouteID, err))
	}
	return errors.Join(errs...)
}
