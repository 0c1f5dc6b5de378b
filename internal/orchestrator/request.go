package orchestrator

import (
	"time"

	"github.com/dusk-indust/orchestra/internal/workgraph"
)

// Status is the lifecycle state of a submitted request.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDecomposing Status = "decomposing"
	StatusExecuting   Status = "executing"
	StatusCompleted   Status = "completed"
	StatusPartial     Status = "partial"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether s is final. Terminal reports never change.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Progress counts units by state.
type Progress struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
}

// Finished is the number of units in a terminal state.
func (p Progress) Finished() int {
	return p.Succeeded + p.Failed + p.Skipped + p.Cancelled
}

// UnitReport is the current state of one unit.
type UnitReport struct {
	ID         workgraph.UnitID `json:"id"`
	Capability string           `json:"capability"`
	Status     string           `json:"status"`
	Attempts   int              `json:"attempts"`
	WorkerID   string           `json:"workerId,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// StatusReport is what GetStatus returns.
type StatusReport struct {
	RequestID   string             `json:"requestId"`
	Payload     string             `json:"payload"`
	Priority    int                `json:"priority"`
	Status      Status             `json:"status"`
	Progress    Progress           `json:"progress"`
	Units       []UnitReport       `json:"units,omitempty"`
	Output      string             `json:"output,omitempty"`
	Missing     []workgraph.UnitID `json:"missing,omitempty"`
	Error       string             `json:"error,omitempty"`
	SubmittedAt time.Time          `json:"submittedAt"`
	StartedAt   time.Time          `json:"startedAt,omitzero"`
	FinishedAt  time.Time          `json:"finishedAt,omitzero"`
}

// recount rebuilds Progress from Units.
func (r *StatusReport) recount() {
	p := Progress{Total: len(r.Units)}
	for _, u := range r.Units {
		switch u.Status {
		case "running":
			p.Running++
		case "succeeded":
			p.Succeeded++
		case "failed":
			p.Failed++
		case "skipped":
			p.Skipped++
		case "cancelled":
			p.Cancelled++
		}
	}
	r.Progress = p
}

func copyReport(src *StatusReport) StatusReport {
	dst := *src
	if src.Units != nil {
		dst.Units = append([]UnitReport(nil), src.Units...)
	}
	if src.Missing != nil {
		dst.Missing = append([]workgraph.UnitID(nil), src.Missing...)
	}
	return dst
}
