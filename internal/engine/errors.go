package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrArtifactExists is returned when an artifact is published twice
	// within one version.
	ErrArtifactExists = errors.New("artifact already published")
	// ErrUndeclaredArtifact is returned when a resolver emits an artifact
	// its route does not list in Emits.
	ErrUndeclaredArtifact = errors.New("artifact not declared by route")
	// ErrMissingArtifact is returned when a route finishes without emitting
	// an artifact it declared.
	ErrMissingArtifact = errors.New("declared artifact was not emitted")
)

// UpstreamError settles a unit that never ran because a unit it depends on
// did not succeed.
type UpstreamError struct {
	RouteID  string
	Upstream string
	State    State
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("skipped due to upstream %s of '%s'", failureWord(e.State), e.Upstream)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func failureWord(s State) string {
	if s == Cancelled {
		return "cancellation"
	}
	return "failure"
}

// TimeoutError reports a backend or cache operation that exceeded the
// configured operation timeout.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}
