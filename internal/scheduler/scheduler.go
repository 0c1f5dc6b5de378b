// Package scheduler executes a work graph level by level on a worker pool
// with bounded parallelism, per-unit deadlines and retries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/orchestra/internal/capability"
	"github.com/dusk-indust/orchestra/internal/outcome"
	"github.com/dusk-indust/orchestra/internal/tuning"
	"github.com/dusk-indust/orchestra/internal/worker"
	"github.com/dusk-indust/orchestra/internal/workgraph"
)

// MergePolicy selects which unit outputs form the aggregate payload.
type MergePolicy string

const (
	// MergeSinks concatenates the outputs of units nobody depends on.
	MergeSinks MergePolicy = "sinks"
	// MergeAll concatenates every unit's output.
	MergeAll MergePolicy = "all"
)

// Config holds the scheduler's static settings. Parallelism and the retry
// budget live in tuning.Knobs.
type Config struct {
	UnitTimeout    time.Duration
	RequestTimeout time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	MergePolicy    MergePolicy
	Separator      string
}

// DefaultConfig returns a 30s unit timeout, 1s..30s backoff and sink merging.
func DefaultConfig() Config {
	return Config{
		UnitTimeout: 30 * time.Second,
		BackoffBase: time.Second,
		BackoffCap:  30 * time.Second,
		MergePolicy: MergeSinks,
		Separator:   "\n\n",
	}
}

// Event reports a unit state change.
type Event struct {
	RequestID string
	UnitID    workgraph.UnitID
	Status    UnitStatus
	Attempt   int
	WorkerID  string
	Message   string
}

// Scheduler dispatches graph units to a worker pool.
type Scheduler struct {
	pool       *worker.Pool
	log        outcome.Log
	knobs      *tuning.Knobs
	cfg        Config
	logger     *slog.Logger
	onProgress func(Event)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) { s.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithProgress registers a callback invoked synchronously on every unit
// state change. It must not block.
func WithProgress(fn func(Event)) Option {
	return func(s *Scheduler) { s.onProgress = fn }
}

// New creates a scheduler. A nil knobs uses parallelism 4 and retry budget 3.
func New(pool *worker.Pool, log outcome.Log, knobs *tuning.Knobs, opts ...Option) *Scheduler {
	if knobs == nil {
		knobs = tuning.NewKnobs(4, 3, tuning.DefaultLimits())
	}
	s := &Scheduler{
		pool:   pool,
		log:    log,
		knobs:  knobs,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Separator == "" {
		s.cfg.Separator = "\n\n"
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// run is the mutable state of one Execute call.
type run struct {
	requestID string
	graph     *workgraph.Graph
	timedOut  bool
	mu        sync.Mutex
	results   map[workgraph.UnitID]*UnitResult
}

func (r *run) get(id workgraph.UnitID) UnitResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.results[id]
}

func (r *run) set(res UnitResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.results[res.ID] = res
}

// Execute runs every reachable unit of g and aggregates the outputs. It
// never returns an error: failures are reported per unit and in the
// verdict. Cancelling ctx marks units that have not started as cancelled;
// dispatches already in flight run to completion or to their own deadline.
func (s *Scheduler) Execute(ctx context.Context, requestID string, g *workgraph.Graph) *AggregateResult {
	start := time.Now()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	r := &run{
		requestID: requestID,
		graph:     g,
		results:   make(map[workgraph.UnitID]*UnitResult, g.Len()),
	}
	for _, u := range g.Units() {
		r.results[u.ID] = &UnitResult{ID: u.ID, Status: UnitPending}
	}

	for depth, level := range g.ExecutionLevels() {
		if ctx.Err() != nil {
			break
		}
		s.logger.Debug("dispatching level", "request", requestID, "level", depth, "units", len(level))

		var eg errgroup.Group
		eg.SetLimit(s.knobs.Parallelism())
		for _, id := range level {
			if status, reason := s.blocked(r, id); status != UnitPending {
				r.set(UnitResult{ID: id, Status: status, Err: reason})
				s.emit(Event{RequestID: requestID, UnitID: id, Status: status, Message: reason.Error()})
				continue
			}
			unit, _ := g.Unit(id)
			eg.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				r.set(s.runUnit(ctx, r, unit))
				return nil
			})
		}
		_ = eg.Wait()
	}

	for _, u := range g.Units() {
		if res := r.get(u.ID); res.Status == UnitPending {
			r.set(UnitResult{ID: u.ID, Status: UnitCancelled, Err: context.Cause(ctx)})
			s.emit(Event{RequestID: requestID, UnitID: u.ID, Status: UnitCancelled})
		}
	}

	r.timedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
	agg := s.aggregate(r)
	agg.Duration = time.Since(start)
	s.logger.Info("request executed", "request", requestID, "verdict", agg.Verdict,
		"succeeded", agg.Count(UnitSucceeded), "failed", agg.Count(UnitFailed),
		"skipped", agg.Count(UnitSkipped), "cancelled", agg.Count(UnitCancelled), "duration", agg.Duration)
	return agg
}

// blocked reports whether id can no longer run because of its dependencies.
func (s *Scheduler) blocked(r *run, id workgraph.UnitID) (UnitStatus, error) {
	for _, dep := range r.graph.Dependencies(id) {
		switch r.get(dep).Status {
		case UnitSucceeded:
		case UnitCancelled:
			return UnitCancelled, fmt.Errorf("scheduler: dependency %s cancelled", dep)
		default:
			return UnitSkipped, fmt.Errorf("scheduler: %w: %s", ErrDependencyFailed, dep)
		}
	}
	return UnitPending, nil
}

func (s *Scheduler) runUnit(ctx context.Context, r *run, u workgraph.Unit) UnitResult {
	res := UnitResult{ID: u.ID, Status: UnitRunning}
	inputs := make([]string, 0, len(u.DependsOn))
	for _, dep := range r.graph.Dependencies(u.ID) {
		inputs = append(inputs, r.get(dep).Output)
	}

	maxRetries := u.Constraints.RetriesOr(s.knobs.RetryBudget())
	timeout := u.Constraints.Deadline
	if timeout <= 0 {
		timeout = s.cfg.UnitTimeout
	}

	tried := make(map[string]bool)
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		w, err := s.acquire(u, tried, res.WorkerID)
		if err != nil {
			s.record(ctx, r.requestID, u, attempt, "", "", err, 0)
			res.Status, res.Err = UnitFailed, err
			if attempt > 1 {
				res.Err = fmt.Errorf("scheduler: unit %s after %d attempt(s): %w: %w", u.ID, attempt, ErrUnitPermanentFailure, err)
			}
			s.emit(Event{RequestID: r.requestID, UnitID: u.ID, Status: UnitFailed, Attempt: attempt, Message: err.Error()})
			return res
		}
		tried[w.ID()] = true
		res.WorkerID = w.ID()
		s.emit(Event{RequestID: r.requestID, UnitID: u.ID, Status: UnitRunning, Attempt: attempt, WorkerID: w.ID()})

		out, latency, err := s.dispatch(ctx, w, worker.Assignment{
			RequestID: r.requestID,
			Unit:      u,
			Attempt:   attempt,
			Inputs:    inputs,
		}, timeout)
		s.pool.Record(w.ID(), u.Capability(), err, latency)
		s.record(ctx, r.requestID, u, attempt, w.ID(), out, err, latency)

		if err == nil {
			res.Status, res.Output, res.Err = UnitSucceeded, out, nil
			s.emit(Event{RequestID: r.requestID, UnitID: u.ID, Status: UnitSucceeded, Attempt: attempt, WorkerID: w.ID()})
			return res
		}

		s.logger.Debug("attempt failed", "request", r.requestID, "unit", u.ID, "worker", w.ID(), "attempt", attempt, "err", err)
		if capability.IsPermanent(err) || attempt > maxRetries {
			res.Status = UnitFailed
			res.Err = fmt.Errorf("scheduler: unit %s after %d attempt(s): %w: %w", u.ID, attempt, ErrUnitPermanentFailure, err)
			s.emit(Event{RequestID: r.requestID, UnitID: u.ID, Status: UnitFailed, Attempt: attempt, WorkerID: w.ID(), Message: err.Error()})
			return res
		}

		if werr := sleep(ctx, s.backoff(attempt)); werr != nil {
			res.Status = UnitCancelled
			res.Err = fmt.Errorf("scheduler: unit %s cancelled during retry backoff: %w", u.ID, err)
			s.emit(Event{RequestID: r.requestID, UnitID: u.ID, Status: UnitCancelled, Attempt: attempt})
			return res
		}
	}
}

// acquire picks a worker for the next attempt. A retry whose previous
// worker dropped out of the candidate set (degraded by its own failures, or
// benched) stays on that worker, so the health signal never shortens a
// unit's retry budget.
func (s *Scheduler) acquire(u workgraph.Unit, tried map[string]bool, prev string) (worker.Worker, error) {
	w, err := s.pool.Acquire(u, tried)
	if err == nil || prev == "" || !errors.Is(err, worker.ErrNoCapableWorker) {
		return w, err
	}
	if held, herr := s.pool.Hold(prev); herr == nil {
		return held, nil
	}
	return nil, err
}

// dispatch submits one attempt. The attempt's context is detached from
// request cancellation and bounded only by the unit timeout.
func (s *Scheduler) dispatch(ctx context.Context, w worker.Worker, a worker.Assignment, timeout time.Duration) (string, time.Duration, error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	out, err := w.Submit(dctx, a)
	latency := time.Since(start)
	if err != nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", ErrUnitExecutionTimeout, timeout, err)
	}
	return out, latency, err
}

func (s *Scheduler) record(ctx context.Context, requestID string, u workgraph.Unit, attempt int, workerID, payload string, err error, latency time.Duration) {
	o := outcome.Outcome{
		RequestID:  requestID,
		UnitID:     string(u.ID),
		WorkerID:   workerID,
		Capability: u.Capability(),
		Attempt:    attempt,
		Success:    err == nil,
		Latency:    latency,
	}
	if err == nil {
		o.Payload = payload
	} else {
		o.Error = err.Error()
		o.ErrorKind = errorKind(err)
	}
	if _, aerr := s.log.Append(context.WithoutCancel(ctx), o); aerr != nil {
		s.logger.Error("outcome append failed", "request", requestID, "unit", u.ID, "err", aerr)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, worker.ErrNoCapableWorker):
		return "no-capable-worker"
	case errors.Is(err, ErrUnitExecutionTimeout):
		return "timeout"
	default:
		return capability.KindOf(err).String()
	}
}

// backoff returns base·2^attempt capped at BackoffCap.
func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 0; i < attempt && d < s.cfg.BackoffCap; i++ {
		d *= 2
	}
	if s.cfg.BackoffCap > 0 && d > s.cfg.BackoffCap {
		d = s.cfg.BackoffCap
	}
	return d
}

// aggregate merges outputs and decides the verdict: completed when every
// unit succeeded, partial when some sink succeeded, when a deadline cut the
// request short, or when cancellation stopped a request that had made
// progress, failed otherwise.
func (s *Scheduler) aggregate(r *run) *AggregateResult {
	order, _ := r.graph.TopologicalOrder()
	agg := &AggregateResult{RequestID: r.requestID}

	sinks := make(map[workgraph.UnitID]bool)
	for _, id := range r.graph.Sinks() {
		sinks[id] = true
	}

	var parts []string
	var succeeded, sinkOK, cancelled bool
	allOK := true
	for _, id := range order {
		res := r.get(id)
		agg.Units = append(agg.Units, res)

		switch res.Status {
		case UnitSucceeded:
			succeeded = true
			if sinks[id] {
				sinkOK = true
			}
		case UnitCancelled:
			cancelled = true
		}
		if res.Status != UnitSucceeded {
			allOK = false
		}

		if s.cfg.MergePolicy != MergeAll && !sinks[id] {
			continue
		}
		if res.Status != UnitSucceeded {
			agg.Missing = append(agg.Missing, id)
			continue
		}
		parts = append(parts, res.Output)
	}
	agg.Output = strings.Join(parts, s.cfg.Separator)

	switch {
	case allOK:
		agg.Verdict = VerdictCompleted
	case sinkOK, cancelled && (succeeded || r.timedOut):
		agg.Verdict = VerdictPartial
	default:
		agg.Verdict = VerdictFailed
	}
	if len(agg.Missing) > 0 {
		agg.Err = fmt.Errorf("scheduler: %w: missing %s", ErrAggregationIncomplete, joinIDs(agg.Missing))
	}
	return agg
}

func (s *Scheduler) emit(ev Event) {
	if s.onProgress != nil {
		s.onProgress(ev)
	}
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

func joinIDs(ids []workgraph.UnitID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = string(id)
	}
	return strings.Join(s, ", ")
}
