package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/dusk-indust/orchestra/internal/workgraph"
)

var (
	// ErrUnitExecutionTimeout means a dispatch exceeded its deadline. It is
	// retried like any transient failure.
	ErrUnitExecutionTimeout = errors.New("unit execution timeout")

	// ErrUnitPermanentFailure means the unit failed for good: retries were
	// exhausted or the provider reported a permanent error.
	ErrUnitPermanentFailure = errors.New("unit permanent failure")

	// ErrAggregationIncomplete means some merge inputs never succeeded.
	ErrAggregationIncomplete = errors.New("aggregation incomplete")

	// ErrDependencyFailed is the reason attached to skipped units.
	ErrDependencyFailed = errors.New("dependency did not succeed")
)

// UnitStatus is the execution state of one unit within a request.
type UnitStatus int

const (
	UnitPending UnitStatus = iota
	UnitRunning
	UnitSucceeded
	UnitFailed
	UnitSkipped
	UnitCancelled
)

func (s UnitStatus) String() string {
	switch s {
	case UnitPending:
		return "pending"
	case UnitRunning:
		return "running"
	case UnitSucceeded:
		return "succeeded"
	case UnitFailed:
		return "failed"
	case UnitSkipped:
		return "skipped"
	case UnitCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("UnitStatus(%d)", int(s))
	}
}

// Terminal reports whether the unit will not change state again.
func (s UnitStatus) Terminal() bool {
	return s >= UnitSucceeded
}

// Verdict summarises a whole request.
type Verdict string

const (
	VerdictCompleted Verdict = "completed"
	VerdictPartial   Verdict = "partial"
	VerdictFailed    Verdict = "failed"
)

// UnitResult is the current outcome of one unit. Retries overwrite it.
type UnitResult struct {
	ID       workgraph.UnitID
	Status   UnitStatus
	Output   string
	Err      error
	Attempts int
	WorkerID string
}

// AggregateResult is the result of executing one graph.
type AggregateResult struct {
	RequestID string
	Verdict   Verdict
	// Units are in topological order.
	Units []UnitResult
	// Output is the merged payload of the merge inputs that succeeded.
	Output string
	// Missing lists merge inputs that did not succeed.
	Missing  []workgraph.UnitID
	Err      error
	Duration time.Duration
}

// Unit returns the result for id.
func (r *AggregateResult) Unit(id workgraph.UnitID) (UnitResult, bool) {
	for _, u := range r.Units {
		if u.ID == id {
			return u, true
		}
	}
	return UnitResult{}, false
}

// Count returns how many units ended in status s.
func (r *AggregateResult) Count(s UnitStatus) int {
	n := 0
	for _, u := range r.Units {
		if u.Status == s {
			n++
		}
	}
	return n
}
