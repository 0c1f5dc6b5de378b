package controller

import (
	"fmt"
	"sync"
	"time"

	"github.com/dusk-indust/orchestra/internal/worker"
)

// Targets are the objectives the default controllers steer toward.
type Targets struct {
	UnitLatency    time.Duration `yaml:"unitLatency"`
	RequestSpan    time.Duration `yaml:"requestSpan"`
	MaxFailureRate float64       `yaml:"maxFailureRate"`
	MinSamples     int           `yaml:"minSamples"`
	Probation      time.Duration `yaml:"probation"`
}

// DefaultTargets returns conservative targets.
func DefaultTargets() Targets {
	return Targets{
		UnitLatency:    5 * time.Second,
		RequestSpan:    30 * time.Second,
		MaxFailureRate: 0.5,
		MinSamples:     4,
		Probation:      5 * time.Minute,
	}
}

// Performance trades parallelism against unit latency: it backs off when
// units run slower than the target and opens up when there is headroom.
type Performance struct {
	env    Env
	target time.Duration
	min    int
}

// NewPerformance creates the performance policy.
func NewPerformance(env Env, t Targets) *Performance {
	return &Performance{env: env, target: t.UnitLatency, min: max(t.MinSamples, 1)}
}

func (p *Performance) Name() string { return "performance" }

func (p *Performance) Analyze(m Metrics) Decision {
	if m.Attempts < p.min || p.target <= 0 {
		return Decision{}
	}
	lim := p.env.Knobs.Limits()
	switch {
	case m.MeanLatency > p.target && m.Parallelism > lim.MinParallelism:
		u := UrgencyLow
		if m.MeanLatency > 2*p.target {
			u = UrgencyHigh
		}
		return Decision{Act: true, Urgency: u, Strategy: "parallelism-down", Delta: -1,
			Reason: fmt.Sprintf("mean latency %s above %s", m.MeanLatency, p.target)}
	case m.MeanLatency < p.target/2 && m.Failures == 0 && m.Attempts >= m.Parallelism &&
		m.Parallelism < lim.MaxParallelism:
		return Decision{Act: true, Urgency: UrgencyLow, Strategy: "parallelism-up", Delta: 1,
			Reason: fmt.Sprintf("mean latency %s well under %s", m.MeanLatency, p.target)}
	}
	return Decision{}
}

func (p *Performance) Act(_ Metrics, d Decision) *Adjustment {
	return stepParallelism(p.env, d.Delta)
}

func (p *Performance) Objective(m Metrics) (float64, bool) {
	if m.Attempts == 0 {
		return 0, false
	}
	return m.MeanLatency.Seconds(), true
}

// Quality benches workers whose recent failure rate is above the limit, as
// long as another eligible worker covers their capabilities, and readmits
// them after a probation period.
type Quality struct {
	env       Env
	maxRate   float64
	min       int
	probation time.Duration
	now       func() time.Time

	mu      sync.Mutex
	benched map[string]time.Time
}

// NewQuality creates the quality policy.
func NewQuality(env Env, t Targets) *Quality {
	return &Quality{
		env:       env,
		maxRate:   t.MaxFailureRate,
		min:       max(t.MinSamples, 1),
		probation: t.Probation,
		now:       time.Now,
		benched:   make(map[string]time.Time),
	}
}

func (q *Quality) Name() string { return "quality" }

func (q *Quality) Analyze(m Metrics) Decision {
	for _, w := range m.Workers {
		win := m.ByWorker[w.ID]
		if win.Attempts < q.min || !w.Eligible || w.State != worker.StateReady {
			continue
		}
		rate := float64(win.Failures) / float64(win.Attempts)
		if rate > q.maxRate && covered(m.Workers, w) {
			return Decision{Act: true, Urgency: UrgencyHigh, Strategy: "bench-worker", Target: w.ID,
				Reason: fmt.Sprintf("worker %s failure rate %.2f above %.2f", w.ID, rate, q.maxRate)}
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, w := range m.Workers {
		since, ok := q.benched[w.ID]
		if ok && q.now().Sub(since) >= q.probation {
			return Decision{Act: true, Urgency: UrgencyLow, Strategy: "readmit-worker", Target: w.ID,
				Reason: fmt.Sprintf("worker %s finished probation", w.ID)}
		}
	}
	return Decision{}
}

func (q *Quality) Act(_ Metrics, d Decision) *Adjustment {
	bench := d.Strategy == "bench-worker"
	if err := q.env.Pool.SetEligible(d.Target, !bench); err != nil {
		return nil
	}
	q.mu.Lock()
	prev, wasBenched := q.benched[d.Target]
	if bench {
		q.benched[d.Target] = q.now()
	} else {
		delete(q.benched, d.Target)
	}
	q.mu.Unlock()

	return &Adjustment{
		Detail: fmt.Sprintf("worker %s eligible=%t", d.Target, !bench),
		Revert: func() {
			_ = q.env.Pool.SetEligible(d.Target, bench)
			q.mu.Lock()
			defer q.mu.Unlock()
			if wasBenched {
				q.benched[d.Target] = prev
			} else {
				delete(q.benched, d.Target)
			}
		},
	}
}

func (q *Quality) Objective(m Metrics) (float64, bool) {
	if m.Attempts == 0 {
		return 0, false
	}
	return m.FailureRate(), true
}

// covered reports whether some other ready, eligible worker shares a
// capability with w.
func covered(all []worker.Snapshot, w worker.Snapshot) bool {
	want := make(map[string]bool, len(w.Capabilities))
	for _, c := range w.Capabilities {
		want[c] = true
	}
	for _, o := range all {
		if o.ID == w.ID || !o.Eligible || o.State != worker.StateReady {
			continue
		}
		for _, c := range o.Capabilities {
			if want[c] {
				return true
			}
		}
	}
	return false
}

// Learning tunes the retry budget from how often retries recover a unit.
type Learning struct {
	env Env
	min int
}

// NewLearning creates the learning policy.
func NewLearning(env Env, t Targets) *Learning {
	return &Learning{env: env, min: max(t.MinSamples, 1)}
}

func (l *Learning) Name() string { return "learning" }

func (l *Learning) Analyze(m Metrics) Decision {
	if m.Retries < l.min {
		return Decision{}
	}
	lim := l.env.Knobs.Limits()
	wins := float64(m.RetryWins) / float64(m.Retries)
	switch {
	case wins >= 0.5 && m.RetryBudget < lim.MaxRetryBudget:
		return Decision{Act: true, Urgency: UrgencyLow, Strategy: "retries-up", Delta: 1,
			Reason: fmt.Sprintf("%.0f%% of retries succeed", wins*100)}
	case wins < 0.1 && m.RetryBudget > lim.MinRetryBudget:
		return Decision{Act: true, Urgency: UrgencyLow, Strategy: "retries-down", Delta: -1,
			Reason: fmt.Sprintf("only %.0f%% of retries succeed", wins*100)}
	}
	return Decision{}
}

func (l *Learning) Act(_ Metrics, d Decision) *Adjustment {
	prev := l.env.Knobs.RetryBudget()
	next := l.env.Knobs.SetRetryBudget(prev + d.Delta)
	if next == prev {
		return nil
	}
	return &Adjustment{
		Detail: fmt.Sprintf("retry budget %d -> %d", prev, next),
		Revert: func() { l.env.Knobs.SetRetryBudget(prev) },
	}
}

func (l *Learning) Objective(m Metrics) (float64, bool) {
	if m.Attempts == 0 {
		return 0, false
	}
	return m.FailureRate(), true
}

// UserFacing raises parallelism when requests take longer end to end than
// the target span.
type UserFacing struct {
	env     Env
	target  time.Duration
	maxRate float64
}

// NewUserFacing creates the user-facing policy.
func NewUserFacing(env Env, t Targets) *UserFacing {
	return &UserFacing{env: env, target: t.RequestSpan, maxRate: t.MaxFailureRate}
}

func (u *UserFacing) Name() string { return "user-facing" }

func (u *UserFacing) Analyze(m Metrics) Decision {
	if m.MeanSpan == 0 || u.target <= 0 || m.MeanSpan <= u.target {
		return Decision{}
	}
	// Slow because things fail is a quality problem, not a capacity one.
	if m.FailureRate() > u.maxRate || m.Parallelism >= u.env.Knobs.Limits().MaxParallelism {
		return Decision{}
	}
	urg := UrgencyLow
	if m.MeanSpan > 2*u.target {
		urg = UrgencyHigh
	}
	return Decision{Act: true, Urgency: urg, Strategy: "span-parallelism-up", Delta: 1,
		Reason: fmt.Sprintf("mean request span %s above %s", m.MeanSpan, u.target)}
}

func (u *UserFacing) Act(_ Metrics, d Decision) *Adjustment {
	return stepParallelism(u.env, d.Delta)
}

func (u *UserFacing) Objective(m Metrics) (float64, bool) {
	if m.MeanSpan == 0 {
		return 0, false
	}
	return m.MeanSpan.Seconds(), true
}

func stepParallelism(env Env, delta int) *Adjustment {
	prev := env.Knobs.Parallelism()
	next := env.Knobs.SetParallelism(prev + delta)
	if next == prev {
		return nil
	}
	return &Adjustment{
		Detail: fmt.Sprintf("parallelism %d -> %d", prev, next),
		Revert: func() { env.Knobs.SetParallelism(prev) },
	}
}

var (
	_ Policy = (*Performance)(nil)
	_ Policy = (*Quality)(nil)
	_ Policy = (*Learning)(nil)
	_ Policy = (*UserFacing)(nil)
)
