// Package workgraph holds the dependency graph of work units produced for one
// request: construction with mandatory cycle detection, serial ordering,
// execution levels, and critical-path estimation.
package workgraph

import "time"

// UnitID identifies a WorkUnit within one graph.
type UnitID string

// Constraints bound how a unit may be executed.
type Constraints struct {
	// Deadline is the per-dispatch timeout. Zero means the scheduler default.
	Deadline time.Duration `json:"deadline,omitempty" yaml:"deadline,omitempty"`

	// MaxRetries is the number of retries after the first attempt. Nil means
	// the scheduler's current retry budget.
	MaxRetries *int `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
}

// Retries returns a pointer suitable for Constraints.MaxRetries.
func Retries(n int) *int {
	return &n
}

// RetriesOr returns the configured retry count, or def when unset.
func (c Constraints) RetriesOr(def int) int {
	if c.MaxRetries == nil {
		return def
	}
	if *c.MaxRetries < 0 {
		return 0
	}
	return *c.MaxRetries
}

// Unit is the smallest schedulable piece of decomposed work.
type Unit struct {
	ID          UnitID `json:"id"`
	Description string `json:"description"`

	// Payload is the input handed to the capability provider. Upstream
	// outputs are delivered alongside it at dispatch time.
	Payload string `json:"payload,omitempty"`

	// RequiredCapabilities is an ordered set; the first entry is the
	// capability invoked on the selected worker.
	RequiredCapabilities []string `json:"requiredCapabilities"`

	Constraints Constraints `json:"constraints"`
	DependsOn   []UnitID    `json:"dependsOn,omitempty"`

	// Weight feeds critical-path estimation only. Zero counts as 1.
	Weight float64 `json:"weight,omitempty"`
}

// Capability returns the capability the unit invokes, or "" if none is set.
func (u Unit) Capability() string {
	if len(u.RequiredCapabilities) == 0 {
		return ""
	}
	return u.RequiredCapabilities[0]
}

func (u Unit) weight() float64 {
	if u.Weight <= 0 {
		return 1
	}
	return u.Weight
}

// Edge is a dependency relation: To depends on From.
type Edge struct {
	From UnitID `json:"from"`
	To   UnitID `json:"to"`
}
