package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/orchestra/internal/workgraph"
)

const (
	// DefaultMaxAttempts bounds validations per stage.
	DefaultMaxAttempts = 10
	// maxBackoffUnits caps the wait between attempts.
	maxBackoffUnits = 60
)

// Sequencer runs stages in dependency order.
type Sequencer struct {
	maxAttempts int
	backoffUnit time.Duration
	patterns    PatternStore
	env         func() map[string]string
	logger      *slog.Logger
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithMaxAttempts sets the per-stage validation limit, at most 10.
func WithMaxAttempts(n int) Option {
	return func(s *Sequencer) {
		if n > 0 && n <= DefaultMaxAttempts {
			s.maxAttempts = n
		}
	}
}

// WithBackoffUnit sets the duration of one backoff unit. The wait after
// attempt n is min(2^n, 60) units.
func WithBackoffUnit(d time.Duration) Option {
	return func(s *Sequencer) { s.backoffUnit = d }
}

// WithPatternStore sets where success patterns are recorded.
func WithPatternStore(p PatternStore) Option {
	return func(s *Sequencer) { s.patterns = p }
}

// WithEnvironment sets the snapshot function recorded with each pattern.
func WithEnvironment(fn func() map[string]string) Option {
	return func(s *Sequencer) { s.env = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) { s.logger = l }
}

// NewSequencer creates a sequencer with 10 attempts and a 1s backoff unit.
func NewSequencer(opts ...Option) *Sequencer {
	s := &Sequencer{
		maxAttempts: DefaultMaxAttempts,
		backoffUnit: time.Second,
		patterns:    NewMemPatterns(),
		env:         defaultEnv,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "bootstrap")
	return s
}

// Patterns returns the pattern store.
func (s *Sequencer) Patterns() PatternStore { return s.patterns }

// Run validates the stage declarations and executes them level by level.
// Independent stages in one level run concurrently. A critical failure
// stops the sequence after its level and is returned as *StageFailure;
// stages that never became runnable stay pending.
func (s *Sequencer) Run(ctx context.Context, stages []Stage) (*Report, error) {
	g, err := stageGraph(stages)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Stage, len(stages))
	reports := make(map[string]*StageReport, len(stages))
	for _, st := range stages {
		byName[st.Name] = st
		reports[st.Name] = &StageReport{Name: st.Name, State: StatePending}
	}

	var mu sync.Mutex
	state := func(name string) State {
		mu.Lock()
		defer mu.Unlock()
		return reports[name].State
	}
	update := func(name string, fn func(*StageReport)) {
		mu.Lock()
		defer mu.Unlock()
		fn(reports[name])
	}

	var failure *StageFailure
	for _, level := range g.ExecutionLevels() {
		if err := ctx.Err(); err != nil {
			break
		}
		var eg errgroup.Group
		for _, id := range level {
			st := byName[string(id)]
			eg.Go(func() error {
				return s.runStage(ctx, st, state, update)
			})
		}
		if err := eg.Wait(); err != nil {
			failure = err.(*StageFailure)
			break
		}
	}

	report := &Report{Failure: failure}
	excluded := make(map[string]bool)
	for _, st := range stages {
		r := *reports[st.Name]
		report.Stages = append(report.Stages, r)
		if r.State == StateDegraded {
			for _, c := range st.Unlocks {
				excluded[c] = true
			}
		}
	}
	for c := range excluded {
		report.ExcludedCapabilities = append(report.ExcludedCapabilities, c)
	}
	sort.Strings(report.ExcludedCapabilities)

	if failure != nil {
		s.logger.Error("bootstrap aborted", "stage", failure.Stage, "reason", failure.Reason, "remediation", failure.Remediation)
		return report, failure
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("bootstrap: %w", err)
	}
	return report, nil
}

func (s *Sequencer) runStage(ctx context.Context, st Stage, state func(string) State, update func(string, func(*StageReport))) error {
	start := time.Now()
	finish := func(next State, attempts int, res Result) error {
		update(st.Name, func(r *StageReport) {
			r.State = next
			r.Attempts = attempts
			r.Reason = res.Reason
			r.Remediation = res.Remediation
			r.Duration = time.Since(start)
		})
		switch next {
		case StateFailedCritical:
			return &StageFailure{Stage: st.Name, Critical: true, Attempts: attempts, Reason: res.Reason, Remediation: res.Remediation}
		case StateDegraded:
			s.logger.Warn("stage degraded", "stage", st.Name, "reason", res.Reason, "excluded", st.Unlocks)
		case StatePassed:
			s.logger.Info("stage passed", "stage", st.Name, "attempts", attempts)
		}
		return nil
	}

	for _, dep := range st.DependsOn {
		if state(dep) == StateDegraded {
			res := Fail(fmt.Sprintf("dependency %s is degraded", dep), fmt.Sprintf("restore stage %s", dep))
			if st.Critical {
				return finish(StateFailedCritical, 0, res)
			}
			return finish(StateDegraded, 0, res)
		}
	}

	update(st.Name, func(r *StageReport) { r.State = StateRunning })

	var res Result
	attempts := 0
	for attempts < s.maxAttempts {
		attempts++
		res = st.Validate(ctx)
		if res.OK {
			s.patterns.Record(Pattern{Stage: st.Name, Attempts: attempts, Env: s.env(), At: time.Now().UTC()})
			return finish(StatePassed, attempts, res)
		}
		s.logger.Debug("stage validation failed", "stage", st.Name, "attempt", attempts, "reason", res.Reason)

		if st.Remediate == nil || attempts == s.maxAttempts {
			break
		}
		if err := st.Remediate(ctx, res); err != nil {
			s.logger.Debug("remediation failed", "stage", st.Name, "err", err)
			break
		}
		if err := wait(ctx, s.backoff(attempts)); err != nil {
			break
		}
	}

	if st.Critical {
		return finish(StateFailedCritical, attempts, res)
	}
	return finish(StateDegraded, attempts, res)
}

func (s *Sequencer) backoff(attempt int) time.Duration {
	units := 1 << min(attempt, 6)
	return time.Duration(min(units, maxBackoffUnits)) * s.backoffUnit
}

func stageGraph(stages []Stage) (*workgraph.Graph, error) {
	units := make([]workgraph.Unit, len(stages))
	for i, st := range stages {
		if st.Validate == nil {
			return nil, fmt.Errorf("bootstrap: stage %q has no validation", st.Name)
		}
		units[i] = workgraph.Unit{ID: workgraph.UnitID(st.Name)}
		for _, d := range st.DependsOn {
			units[i].DependsOn = append(units[i].DependsOn, workgraph.UnitID(d))
		}
	}
	g, err := workgraph.New(units)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: stage declarations: %w", err)
	}
	return g, nil
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func defaultEnv() map[string]string {
	host, _ := os.Hostname()
	return map[string]string{
		"host":   host,
		"goos":   runtime.GOOS,
		"goarch": runtime.GOARCH,
		"cpus":   fmt.Sprint(runtime.NumCPU()),
	}
}
