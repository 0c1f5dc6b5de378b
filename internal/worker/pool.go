package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/orchestra/internal/capability"
	"github.com/dusk-indust/orchestra/internal/workgraph"
)

var (
	// ErrNoCapableWorker means no ready, eligible worker advertises every
	// capability a unit requires.
	ErrNoCapableWorker = errors.New("no capable worker")

	ErrUnknownWorker   = errors.New("unknown worker")
	ErrDuplicateWorker = errors.New("duplicate worker")
	// ErrRetired is returned for any transition out of the retired state.
	ErrRetired = errors.New("worker retired")
)

// latencyAlpha is the smoothing factor of the latency moving average.
const latencyAlpha = 0.2

// Weights are the selection score coefficients.
type Weights struct {
	Match        float64 `yaml:"match"`
	Success      float64 `yaml:"success"`
	Load         float64 `yaml:"load"`
	Availability float64 `yaml:"availability"`
}

// DefaultWeights returns 0.4 / 0.3 / 0.2 / 0.1.
func DefaultWeights() Weights {
	return Weights{Match: 0.4, Success: 0.3, Load: 0.2, Availability: 0.1}
}

// ClassStats counts outcomes for one capability class.
type ClassStats struct {
	Successes int
	Failures  int
}

// Rate is the Laplace-smoothed success rate, 0.5 with no history.
func (c ClassStats) Rate() float64 {
	return float64(c.Successes+1) / float64(c.Successes+c.Failures+2)
}

// Stats are a worker's execution statistics.
type Stats struct {
	SuccessCount        int
	FailureCount        int
	ConsecutiveFailures int
	MeanLatency         time.Duration
	Load                int
	ByCapability        map[string]ClassStats
}

// FailureRate is failures over all recorded attempts, zero with no history.
func (s Stats) FailureRate() float64 {
	total := s.SuccessCount + s.FailureCount
	if total == 0 {
		return 0
	}
	return float64(s.FailureCount) / float64(total)
}

// Snapshot is a copy of one worker's pool record.
type Snapshot struct {
	ID           string
	Capabilities []string
	State        State
	Eligible     bool
	Stats        Stats
}

type entry struct {
	w        Worker
	caps     map[string]bool
	state    State
	eligible bool
	stats    Stats
}

// Pool tracks worker lifecycle and statistics and selects workers for units.
// All methods are safe for concurrent use; readers get copies.
type Pool struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    []string
	excluded map[string]bool

	weights      Weights
	capacity     int
	degradeAfter int
	logger       *slog.Logger
}

// DefaultDegradeAfter is how many consecutive transient failures degrade a
// worker unless WithDegradeAfter says otherwise.
const DefaultDegradeAfter = 5

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWeights overrides the selection weights.
func WithWeights(w Weights) PoolOption {
	return func(p *Pool) { p.weights = w }
}

// WithCapacity sets the per-worker load under which a worker counts as
// available.
func WithCapacity(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// WithDegradeAfter sets how many consecutive failures degrade a worker.
// Zero disables the health signal.
func WithDegradeAfter(n int) PoolOption {
	return func(p *Pool) { p.degradeAfter = n }
}

// WithLogger sets the pool's logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates an empty pool.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		entries:      make(map[string]*entry),
		excluded:     make(map[string]bool),
		weights:      DefaultWeights(),
		capacity:     4,
		degradeAfter: DefaultDegradeAfter,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pool")
	return p
}

// Add registers w in the unvalidated state.
func (p *Pool) Add(w Worker) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.entries[w.ID()]; dup {
		return fmt.Errorf("worker: %w: %s", ErrDuplicateWorker, w.ID())
	}
	caps := make(map[string]bool)
	for _, c := range w.Capabilities() {
		caps[c] = true
	}
	p.entries[w.ID()] = &entry{
		w:        w,
		caps:     caps,
		state:    StateUnvalidated,
		eligible: true,
		stats:    Stats{ByCapability: make(map[string]ClassStats)},
	}
	p.order = append(p.order, w.ID())
	return nil
}

// ValidateAll validates unvalidated and degraded workers in parallel.
// Passing workers become ready and failing ones degraded. The returned map
// holds the failures by worker id.
func (p *Pool) ValidateAll(ctx context.Context) map[string]error {
	failures, _ := p.validate(ctx, func(s State) bool {
		return s == StateUnvalidated || s == StateDegraded
	})
	for id, err := range failures {
		p.logger.Warn("worker failed validation", "worker", id, "err", err)
	}
	return failures
}

// Recover revalidates degraded workers and returns the ids of those that
// passed and are ready again.
func (p *Pool) Recover(ctx context.Context) []string {
	failures, passed := p.validate(ctx, func(s State) bool { return s == StateDegraded })
	for id, err := range failures {
		p.logger.Debug("worker still degraded", "worker", id, "err", err)
	}
	for _, id := range passed {
		p.logger.Info("worker recovered", "worker", id)
	}
	return passed
}

// Watch runs Recover every interval until ctx is done. A non-positive
// interval disables recovery.
func (p *Pool) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if p.count(StateDegraded) > 0 {
			p.Recover(ctx)
		}
	}
}

func (p *Pool) validate(ctx context.Context, want func(State) bool) (map[string]error, []string) {
	p.mu.Lock()
	var targets []Worker
	for _, id := range p.order {
		if e := p.entries[id]; want(e.state) {
			targets = append(targets, e.w)
		}
	}
	p.mu.Unlock()

	results := make([]error, len(targets))
	var g errgroup.Group
	for i, w := range targets {
		g.Go(func() error {
			results[i] = w.Validate(ctx)
			return nil
		})
	}
	_ = g.Wait()

	failures := make(map[string]error)
	var passed []string
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range targets {
		e := p.entries[w.ID()]
		if e.state.Terminal() {
			continue
		}
		if err := results[i]; err != nil {
			failures[w.ID()] = err
			e.state = StateDegraded
			continue
		}
		e.state = StateReady
		e.stats.ConsecutiveFailures = 0
		passed = append(passed, w.ID())
	}
	return failures, passed
}

func (p *Pool) count(s State) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entries {
		if e.state == s {
			n++
		}
	}
	return n
}

// SetState transitions a worker. Retired workers never leave retirement.
func (p *Pool) SetState(id string, s State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(id)
	if err != nil {
		return err
	}
	if e.state.Terminal() && s != e.state {
		return fmt.Errorf("worker: %s: %w", id, ErrRetired)
	}
	e.state = s
	if s == StateReady {
		e.stats.ConsecutiveFailures = 0
	}
	return nil
}

// SetEligible toggles whether a ready worker may be selected.
func (p *Pool) SetEligible(id string, eligible bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(id)
	if err != nil {
		return err
	}
	e.eligible = eligible
	return nil
}

// ExcludeCapabilities makes units requiring any of caps unschedulable.
func (p *Pool) ExcludeCapabilities(caps ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range caps {
		p.excluded[c] = true
	}
}

// Acquire selects the best worker for u and counts it as loaded until
// Record is called. Workers in tried are avoided while any other candidate
// qualifies.
func (p *Pool) Acquire(u workgraph.Unit, tried map[string]bool) (Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var fresh, all []*entry
	for _, id := range p.order {
		e := p.entries[id]
		if !p.capable(e, u.RequiredCapabilities) {
			continue
		}
		all = append(all, e)
		if !tried[id] {
			fresh = append(fresh, e)
		}
	}
	candidates := fresh
	if len(candidates) == 0 {
		candidates = all
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("worker: %w for unit %s (requires %v)", ErrNoCapableWorker, u.ID, u.RequiredCapabilities)
	}

	best := candidates[0]
	bestScore := p.score(best, u)
	for _, e := range candidates[1:] {
		s := p.score(e, u)
		switch {
		case s > bestScore:
		case s == bestScore && e.stats.Load < best.stats.Load:
		case s == bestScore && e.stats.Load == best.stats.Load && e.w.ID() < best.w.ID():
		default:
			continue
		}
		best, bestScore = e, s
	}
	best.stats.Load++
	return best.w, nil
}

// Hold takes load on worker id whatever its health or eligibility, so a
// unit can finish its retries on a worker that was degraded or benched
// while the unit was running. Retired workers are never held.
func (p *Pool) Hold(id string) (Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(id)
	if err != nil {
		return nil, err
	}
	if e.state.Terminal() {
		return nil, fmt.Errorf("worker: %s: %w", id, ErrRetired)
	}
	e.stats.Load++
	return e.w, nil
}

// Record releases the load taken by Acquire or Hold and folds one attempt
// into the worker's statistics. A nil err is a success. Permanent errors
// count as failures but leave the consecutive-failure health signal alone:
// they are caused by the payload, not the worker.
func (p *Pool) Record(id, capName string, err error, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok {
		return
	}
	st := &e.stats
	if st.Load > 0 {
		st.Load--
	}

	class := st.ByCapability[capName]
	switch {
	case err == nil:
		st.SuccessCount++
		st.ConsecutiveFailures = 0
		class.Successes++
	case capability.IsPermanent(err):
		st.FailureCount++
		class.Failures++
	default:
		st.FailureCount++
		st.ConsecutiveFailures++
		class.Failures++
	}
	st.ByCapability[capName] = class

	if st.SuccessCount+st.FailureCount == 1 {
		st.MeanLatency = latency
	} else {
		st.MeanLatency = time.Duration(latencyAlpha*float64(latency) + (1-latencyAlpha)*float64(st.MeanLatency))
	}

	if p.degradeAfter > 0 && e.state == StateReady && st.ConsecutiveFailures >= p.degradeAfter {
		e.state = StateDegraded
		p.logger.Warn("worker degraded", "worker", id, "consecutive_failures", st.ConsecutiveFailures)
	}
}

// Snapshot returns copies of every worker record, sorted by id.
func (p *Pool) Snapshot() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Snapshot, 0, len(p.entries))
	for _, id := range p.order {
		e := p.entries[id]
		st := e.stats
		st.ByCapability = make(map[string]ClassStats, len(e.stats.ByCapability))
		for k, v := range e.stats.ByCapability {
			st.ByCapability[k] = v
		}
		out = append(out, Snapshot{
			ID:           id,
			Capabilities: e.w.Capabilities(),
			State:        e.state,
			Eligible:     e.eligible,
			Stats:        st,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ready reports how many workers are ready and eligible.
func (p *Pool) Ready() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entries {
		if e.state == StateReady && e.eligible {
			n++
		}
	}
	return n
}

func (p *Pool) lookup(id string) (*entry, error) {
	e, ok := p.entries[id]
	if !ok {
		return nil, fmt.Errorf("worker: %w: %s", ErrUnknownWorker, id)
	}
	return e, nil
}

func (p *Pool) capable(e *entry, required []string) bool {
	if e.state != StateReady || !e.eligible {
		return false
	}
	for _, c := range required {
		if p.excluded[c] || !e.caps[c] {
			return false
		}
	}
	return true
}

// score ranks a worker that qualifies for u. Match is the share of the
// worker's advertised capabilities that u requires, so a tighter fit ranks
// above a generalist.
func (p *Pool) score(e *entry, u workgraph.Unit) float64 {
	match := 1.0
	if len(e.caps) > 0 && len(u.RequiredCapabilities) > 0 {
		match = float64(len(u.RequiredCapabilities)) / float64(len(e.caps))
	}
	success := e.stats.ByCapability[u.Capability()].Rate()
	invLoad := 1 / float64(1+e.stats.Load)
	avail := 0.0
	if e.stats.Load < p.capacity {
		avail = 1
	}
	w := p.weights
	return w.Match*match + w.Success*success + w.Load*invLoad + w.Availability*avail
}
