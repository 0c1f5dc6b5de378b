package worker

import "fmt"

// State is a worker's lifecycle state.
type State int

const (
	StateUnvalidated State = iota
	StateReady
	StateDegraded
	StateRetired
)

var stateNames = [...]string{
	StateUnvalidated: "unvalidated",
	StateReady:       "ready",
	StateDegraded:    "degraded",
	StateRetired:     "retired",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool { return s == StateRetired }
