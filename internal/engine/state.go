package engine

import "fmt"

// State is the execution state of a unit.
type State int32

const (
	Pending State = iota
	Running
	Completed
	Failed
	SkippedCached
	Cancelled
)

var stateNames = [...]string{
	Pending:       "Pending",
	Running:       "Running",
	Completed:     "Completed",
	Failed:        "Failed",
	SkippedCached: "Skipped-Cached",
	Cancelled:     "Cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s >= Completed
}

// Succeeded reports whether dependents of a unit in state s may run.
func (s State) Succeeded() bool {
	return s == Completed || s == SkippedCached
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// canTransition reports whether a unit may move from one state to another.
// Units that never start go straight from Pending to Failed or Cancelled.
func canTransition(from, to State) bool {
	switch from {
	case Pending:
		return to == Running || to == Failed || to == Cancelled
	case Running:
		return to.Terminal()
	default:
		return false
	}
}
