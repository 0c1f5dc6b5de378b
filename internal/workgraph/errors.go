package workgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycleDetected means the dependency relation is not acyclic.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrUnsplittable means a unit exceeds the complexity threshold and no
	// strategy could split it further.
	ErrUnsplittable = errors.New("unsplittable complex unit")

	// ErrInvalidGraph covers structural defects: duplicate ids, unknown
	// dependencies, empty graphs.
	ErrInvalidGraph = errors.New("invalid work graph")
)

// DecompositionError reports why a request could not be turned into a graph.
// Kind is one of the sentinel errors above, so callers can use errors.Is.
type DecompositionError struct {
	Kind  error
	Msg   string
	Cycle []UnitID // witness path for ErrCycleDetected, first node repeated at the end
}

func (e *DecompositionError) Error() string {
	if e == nil {
		return ""
	}
	prefix := "decomposition: " + e.Kind.Error()
	if e.Msg == "" {
		return prefix
	}
	return prefix + ": " + e.Msg
}

func (e *DecompositionError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &DecompositionError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

// Unsplittable builds the error returned when a unit cannot be decomposed.
func Unsplittable(id UnitID, complexity, threshold int) error {
	return &DecompositionError{
		Kind: ErrUnsplittable,
		Msg:  fmt.Sprintf("unit %q has complexity %d above threshold %d", id, complexity, threshold),
	}
}

func cycleError(path []UnitID) error {
	names := make([]string, len(path))
	for i, id := range path {
		names[i] = string(id)
	}
	return &DecompositionError{
		Kind:  ErrCycleDetected,
		Msg:   strings.Join(names, " -> "),
		Cycle: path,
	}
}
