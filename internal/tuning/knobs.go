// Package tuning is the narrow parameter channel between the feedback
// controllers and the scheduler.
package tuning

import "sync/atomic"

// Limits bound every knob.
type Limits struct {
	MinParallelism int
	MaxParallelism int
	MinRetryBudget int
	MaxRetryBudget int
}

// DefaultLimits allows parallelism 1..64 and retry budget 0..10.
func DefaultLimits() Limits {
	return Limits{MinParallelism: 1, MaxParallelism: 64, MinRetryBudget: 0, MaxRetryBudget: 10}
}

// Knobs holds the runtime-adjustable parameters. Controllers write them and
// the scheduler reads them at each dispatch; values are always in range.
type Knobs struct {
	limits      Limits
	parallelism atomic.Int64
	retryBudget atomic.Int64
}

// NewKnobs creates knobs with the given initial values, clamped to limits.
func NewKnobs(parallelism, retryBudget int, limits Limits) *Knobs {
	k := &Knobs{limits: limits}
	k.SetParallelism(parallelism)
	k.SetRetryBudget(retryBudget)
	return k
}

// Parallelism is the per-level concurrent dispatch ceiling.
func (k *Knobs) Parallelism() int { return int(k.parallelism.Load()) }

// RetryBudget is the default maxRetries for units that do not set one.
func (k *Knobs) RetryBudget() int { return int(k.retryBudget.Load()) }

// SetParallelism stores n clamped to limits and returns the stored value.
func (k *Knobs) SetParallelism(n int) int {
	n = clamp(n, k.limits.MinParallelism, k.limits.MaxParallelism)
	k.parallelism.Store(int64(n))
	return n
}

// SetRetryBudget stores n clamped to limits and returns the stored value.
func (k *Knobs) SetRetryBudget(n int) int {
	n = clamp(n, k.limits.MinRetryBudget, k.limits.MaxRetryBudget)
	k.retryBudget.Store(int64(n))
	return n
}

// Limits returns the bounds.
func (k *Knobs) Limits() Limits { return k.limits }

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if hi >= lo && n > hi {
		return hi
	}
	return n
}
