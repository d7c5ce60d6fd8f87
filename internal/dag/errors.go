package dag

import (
	"errors"
	"strings"
)

// CycleError reports a dependency cycle. Cycle lists the ids along the
// cycle, starting and ending with the same id.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Cycle, " -> ")
}

// AsCycleError unwraps err into a *CycleError.
func AsCycleError(err error) (*CycleError, bool) {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
