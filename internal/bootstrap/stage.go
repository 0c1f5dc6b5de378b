// Package bootstrap brings subsystems online in dependency order, gating
// each on self-validation with bounded remediation.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is a stage's lifecycle state.
type State int

const (
	StatePending State = iota
	StateRunning
	StatePassed
	StateDegraded
	StateFailedCritical
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StatePassed:
		return "passed"
	case StateDegraded:
		return "degraded"
	case StateFailedCritical:
		return "failed-critical"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the outcome of one validation.
type Result struct {
	OK          bool
	Reason      string
	Remediation string
}

// Pass is a passing Result.
func Pass() Result { return Result{OK: true} }

// Fail builds a failing Result.
func Fail(reason, remediation string) Result {
	return Result{Reason: reason, Remediation: remediation}
}

// Stage is one gated startup step.
type Stage struct {
	Name      string
	DependsOn []string
	Critical  bool
	Validate  func(ctx context.Context) Result
	// Remediate attempts a fix after a failed validation. A nil Remediate
	// means no remediation exists; a nil error means the fix claims success.
	Remediate func(ctx context.Context, failed Result) error
	// Unlocks lists capabilities excluded when the stage degrades.
	Unlocks []string
}

// ErrStageFailed matches any *StageFailure.
var ErrStageFailed = errors.New("bootstrap stage failed")

// StageFailure reports a stage that could not pass. Reason and
// Remediation carry the stage's own text verbatim.
type StageFailure struct {
	Stage       string
	Critical    bool
	Attempts    int
	Reason      string
	Remediation string
}

func (f *StageFailure) Error() string {
	kind := "degraded"
	if f.Critical {
		kind = "failed-critical"
	}
	msg := fmt.Sprintf("bootstrap: stage %s %s after %d attempt(s): %s", f.Stage, kind, f.Attempts, f.Reason)
	if f.Remediation != "" {
		msg += " (remediation: " + f.Remediation + ")"
	}
	return msg
}

func (f *StageFailure) Unwrap() error { return ErrStageFailed }

// StageReport is the final record of one stage.
type StageReport struct {
	Name        string
	State       State
	Attempts    int
	Reason      string
	Remediation string
	Duration    time.Duration
}

// Report summarises a bootstrap run. Stages are in declaration order.
type Report struct {
	Stages               []StageReport
	ExcludedCapabilities []string
	Failure              *StageFailure
}

// Stage returns the report for name.
func (r *Report) Stage(name string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageReport{}, false
}

// Ready reports whether startup may proceed: no critical failure and no
// stage left unfinished.
func (r *Report) Ready() bool {
	if r.Failure != nil {
		return false
	}
	for _, s := range r.Stages {
		if s.State != StatePassed && s.State != StateDegraded {
			return false
		}
	}
	return true
}
