package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownDependency is returned when a route depends on a route or
// artifact that does not exist in the pipeline.
var ErrUnknownDependency = errors.New("unknown dependency")

// CycleError reports a dependency cycle between routes. Routes lists the
// offending route ids in cycle order.
type CycleError struct {
	PipelineID string
	Routes     []string
	cause      error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("pipeline '%s': dependency cycle between routes: %s", e.PipelineID, strings.Join(e.Routes, ", "))
}

func (e *CycleError) Unwrap() error {
	return e.cause
}
