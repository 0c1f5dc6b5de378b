// Package controller implements the feedback controllers that tune the
// orchestrator at runtime. Each controller runs its own loop:
// sense, analyze, decide, act, verify, learn. Controllers read the outcome
// log and pool snapshots and write only to tuning knobs and worker
// eligibility.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Urgency grades a decision.
type Urgency int

const (
	UrgencyNone Urgency = iota
	UrgencyLow
	UrgencyHigh
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyHigh:
		return "high"
	default:
		return "none"
	}
}

// Decision is the analyze/decide output.
type Decision struct {
	Act      bool
	Urgency  Urgency
	Reason   string
	Strategy string // learning and suppression key
	Delta    int    // knob step for knob-adjusting policies
	Target   string // worker id for eligibility policies
}

// Adjustment is an applied change together with its undo.
type Adjustment struct {
	Detail string
	Revert func()
}

// Policy is the controller-specific part of the loop.
type Policy interface {
	Name() string
	Analyze(m Metrics) Decision
	// Act applies d. A nil adjustment means nothing changed.
	Act(m Metrics, d Decision) *Adjustment
	// Objective scores a window, lower is better. ok is false when the
	// window carries no signal.
	Objective(m Metrics) (score float64, ok bool)
}

// Verdicts recorded in history after verification.
const (
	VerdictReinforced   = "reinforced"
	VerdictReverted     = "reverted"
	VerdictInconclusive = "inconclusive"
	VerdictSuppressed   = "suppressed"
)

// Sample is one cycle in a controller's history.
type Sample struct {
	At       time.Time
	Metrics  Metrics
	Decision Decision
	Action   string
	Verdict  string
}

// State is a read-only copy of a controller's state.
type State struct {
	Name       string
	LastRun    time.Time
	Interval   time.Duration
	History    []Sample
	Suppressed []string
}

type strategyRecord struct {
	failures        int
	suppressedUntil int
}

// Controller drives one Policy through the feedback loop.
type Controller struct {
	policy        Policy
	sensor        sensor
	interval      time.Duration
	cooldown      time.Duration
	tolerance     float64
	suppressAfter int
	suppressFor   int
	wait          func(context.Context, time.Duration) error
	logger        *slog.Logger

	mu         sync.Mutex
	cycle      int
	lastRun    time.Time
	history    *Ring[Sample]
	strategies map[string]*strategyRecord
}

// Option configures a Controller.
type Option func(*Controller)

// WithInterval sets the time between cycles.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithCooldown sets the delay between acting and verifying.
func WithCooldown(d time.Duration) Option {
	return func(c *Controller) { c.cooldown = d }
}

// WithHistory bounds the sample history.
func WithHistory(n int) Option {
	return func(c *Controller) { c.history = NewRing[Sample](n) }
}

// WithSuppression suppresses a strategy for cycles cycles after it was
// reverted after times in a row.
func WithSuppression(after, cycles int) Option {
	return func(c *Controller) {
		c.suppressAfter = max(after, 1)
		c.suppressFor = max(cycles, 1)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New wraps a policy in the feedback loop.
func New(env Env, p Policy, opts ...Option) *Controller {
	c := &Controller{
		policy:        p,
		sensor:        sensor{env: env},
		interval:      30 * time.Second,
		cooldown:      10 * time.Second,
		tolerance:     0.05,
		suppressAfter: 3,
		suppressFor:   10,
		wait:          sleep,
		history:       NewRing[Sample](64),
		strategies:    make(map[string]*strategyRecord),
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "controller", "controller", p.Name())
	return c
}

// Name returns the policy name.
func (c *Controller) Name() string { return c.policy.Name() }

// Interval returns the cycle interval.
func (c *Controller) Interval() time.Duration { return c.interval }

// Cycle runs one full loop and returns the recorded sample.
func (c *Controller) Cycle(ctx context.Context) (Sample, error) {
	m, err := c.sensor.sense(ctx)
	if err != nil {
		return Sample{}, err
	}
	c.mu.Lock()
	c.cycle++
	cycle := c.cycle
	c.lastRun = m.At
	c.mu.Unlock()

	s := Sample{At: m.At, Metrics: summarize(m)}
	s.Decision = c.policy.Analyze(m)
	if !s.Decision.Act {
		c.record(s)
		return s, nil
	}

	strategy := s.Decision.Strategy
	if c.suppressed(strategy, cycle) {
		s.Verdict = VerdictSuppressed
		c.record(s)
		return s, nil
	}
	before, haveBefore := c.policy.Objective(m)
	adj := c.policy.Act(m, s.Decision)
	if adj == nil {
		c.record(s)
		return s, nil
	}
	s.Action = strategy
	c.logger.Info("adjusted", "strategy", strategy, "detail", adj.Detail,
		"reason", s.Decision.Reason, "urgency", s.Decision.Urgency.String())

	if err := c.wait(ctx, c.cooldown); err != nil {
		s.Verdict = VerdictInconclusive
		c.record(s)
		return s, fmt.Errorf("controller: %s: cooldown: %w", c.Name(), err)
	}
	after, err := c.sensor.sense(ctx)
	if err != nil {
		s.Verdict = VerdictInconclusive
		c.record(s)
		return s, err
	}
	afterScore, haveAfter := c.policy.Objective(after)
	s.Verdict = c.learn(strategy, adj, cycle, before, afterScore, haveBefore && haveAfter)
	c.record(s)
	return s, nil
}

func (c *Controller) learn(strategy string, adj *Adjustment, cycle int, before, after float64, conclusive bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.strategies[strategy]
	if rec == nil {
		rec = &strategyRecord{}
		c.strategies[strategy] = rec
	}
	if !conclusive {
		return VerdictInconclusive
	}
	if after <= before*(1+c.tolerance) {
		rec.failures = 0
		return VerdictReinforced
	}

	adj.Revert()
	rec.failures++
	c.logger.Warn("adjustment reverted", "strategy", strategy,
		"before", before, "after", after, "consecutive", rec.failures)
	if rec.failures >= c.suppressAfter {
		rec.suppressedUntil = cycle + c.suppressFor
		rec.failures = 0
		c.logger.Warn("strategy suppressed", "strategy", strategy, "cycles", c.suppressFor)
	}
	return VerdictReverted
}

func (c *Controller) suppressed(strategy string, cycle int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.strategies[strategy]
	return rec != nil && cycle <= rec.suppressedUntil
}

func (c *Controller) record(s Sample) {
	c.mu.Lock()
	c.history.Push(s)
	c.mu.Unlock()
}

// State returns a copy of the controller's state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		Name:     c.policy.Name(),
		LastRun:  c.lastRun,
		Interval: c.interval,
		History:  c.history.Items(),
	}
	for name, rec := range c.strategies {
		if c.cycle <= rec.suppressedUntil {
			st.Suppressed = append(st.Suppressed, name)
		}
	}
	sort.Strings(st.Suppressed)
	return st
}

// summarize drops per-worker detail before a sample enters history.
func summarize(m Metrics) Metrics {
	m.Workers = nil
	m.ByWorker = nil
	return m
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
