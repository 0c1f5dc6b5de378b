// Package orchestrator accepts requests, decomposes them into work graphs,
// executes the graphs on the worker pool and reports status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/orchestra/internal/bootstrap"
	"github.com/dusk-indust/orchestra/internal/decompose"
	"github.com/dusk-indust/orchestra/internal/graphstore"
	"github.com/dusk-indust/orchestra/internal/outcome"
	"github.com/dusk-indust/orchestra/internal/scheduler"
	"github.com/dusk-indust/orchestra/internal/tuning"
	"github.com/dusk-indust/orchestra/internal/worker"
	"github.com/dusk-indust/orchestra/internal/workgraph"
)

var (
	// ErrNotReady means bootstrap has not completed successfully.
	ErrNotReady = errors.New("orchestrator: not ready")

	// ErrEmptyRequest means the submitted payload is blank.
	ErrEmptyRequest = errors.New("orchestrator: empty request")

	// ErrStopped rejects submissions once Run has returned.
	ErrStopped = errors.New("orchestrator: engine stopped")
)

// Deps are the collaborators an Engine is built from.
type Deps struct {
	Pool    *worker.Pool
	Log     outcome.Log
	Knobs   *tuning.Knobs
	Builder *decompose.Builder
	// Graphs is optional; when set every decomposed graph is archived.
	Graphs graphstore.Store
}

// Engine is the inbound surface: Submit, GetStatus, Cancel.
type Engine struct {
	deps          Deps
	sched         *scheduler.Scheduler
	store         *RequestStore
	progress      *ProgressReporter
	maxConcurrent int
	logger        *slog.Logger

	mu      sync.Mutex
	ready   bool
	stopped bool
	queue   priorityQueue
	running int
	cancels map[string]context.CancelFunc
	wake    chan struct{}
	wg      sync.WaitGroup

	control control
}

// control holds per-request submission constraints and cancellation marks
// until the request finishes.
type control struct {
	mu sync.Mutex
	m  map[string]*controlEntry
}

type controlEntry struct {
	constraints workgraph.Constraints
	cancelled   bool
}

func (c *control) add(id string, cons workgraph.Constraints) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]*controlEntry)
	}
	c.m[id] = &controlEntry{constraints: cons}
}

func (c *control) take(id string) (workgraph.Constraints, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ce, ok := c.m[id]; ok {
		return ce.constraints, ce.cancelled
	}
	return workgraph.Constraints{}, false
}

func (c *control) markCancelled(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ce, ok := c.m[id]; ok {
		ce.cancelled = true
	}
}

func (c *control) wasCancelled(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ce, ok := c.m[id]
	return ok && ce.cancelled
}

func (c *control) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	schedOpts     []scheduler.Option
	maxConcurrent int
	logger        *slog.Logger
}

// WithSchedulerOptions passes options through to the scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(o *engineOptions) { o.schedOpts = append(o.schedOpts, opts...) }
}

// WithMaxConcurrent bounds how many requests execute at once. Default 4.
func WithMaxConcurrent(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithLogger sets the logger for the engine and its scheduler.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// NewEngine wires an engine. The scheduler is created here so its progress
// callback feeds the request store.
func NewEngine(deps Deps, opts ...Option) *Engine {
	o := engineOptions{maxConcurrent: 4, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if deps.Builder == nil {
		deps.Builder = decompose.NewBuilder(decompose.WithLogger(o.logger))
	}
	e := &Engine{
		deps:          deps,
		store:         NewRequestStore(),
		progress:      NewProgressReporter(),
		maxConcurrent: o.maxConcurrent,
		logger:        o.logger.With("component", "engine"),
		cancels:       make(map[string]context.CancelFunc),
		wake:          make(chan struct{}, 1),
	}
	schedOpts := append([]scheduler.Option{scheduler.WithLogger(o.logger)}, o.schedOpts...)
	schedOpts = append(schedOpts, scheduler.WithProgress(e.observe))
	e.sched = scheduler.New(deps.Pool, deps.Log, deps.Knobs, schedOpts...)
	return e
}

// Bootstrap runs the startup stages. On success capabilities unlocked by
// degraded stages are excluded from the pool and the engine starts
// accepting requests. A critical failure is returned verbatim.
func (e *Engine) Bootstrap(ctx context.Context, seq *bootstrap.Sequencer, stages []bootstrap.Stage) (*bootstrap.Report, error) {
	rep, err := seq.Run(ctx, stages)
	if err != nil {
		return rep, err
	}
	if len(rep.ExcludedCapabilities) > 0 {
		e.deps.Pool.ExcludeCapabilities(rep.ExcludedCapabilities...)
		e.logger.Warn("running degraded", "excluded", rep.ExcludedCapabilities)
	}
	e.mu.Lock()
	e.ready = true
	e.mu.Unlock()
	e.logger.Info("ready", "workers", e.deps.Pool.Ready())
	return rep, nil
}

// Ready reports whether Submit accepts requests.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Progress returns the progress event stream. It is closed when Run
// returns.
func (e *Engine) Progress() <-chan ProgressEvent { return e.progress.Subscribe() }

// Submit queues a request. Higher priority requests start first; equal
// priorities start in submission order.
func (e *Engine) Submit(payload string, priority int, constraints workgraph.Constraints) (string, error) {
	if strings.TrimSpace(payload) == "" {
		return "", ErrEmptyRequest
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return "", ErrStopped
	}
	if !e.ready {
		return "", ErrNotReady
	}

	id := uuid.Must(uuid.NewV7()).String()
	err := e.store.Create(StatusReport{
		RequestID:   id,
		Payload:     payload,
		Priority:    priority,
		Status:      StatusQueued,
		SubmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	e.control.add(id, constraints)
	e.queue.push(id, priority)
	e.signal()
	e.progress.Emit(ProgressEvent{RequestID: id, Status: string(StatusQueued)})
	return id, nil
}

// Plan decomposes payload without executing it.
func (e *Engine) Plan(ctx context.Context, payload string, constraints workgraph.Constraints) (*workgraph.Graph, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, ErrEmptyRequest
	}
	return e.deps.Builder.Build(ctx, payload, constraints)
}

// Graph returns the archived work graph of a request.
func (e *Engine) Graph(ctx context.Context, id string) (*workgraph.Graph, error) {
	if _, err := e.store.Get(id); err != nil {
		return nil, err
	}
	if e.deps.Graphs == nil {
		return nil, fmt.Errorf("orchestrator: request %s: %w", id, graphstore.ErrNotFound)
	}
	return e.deps.Graphs.Load(ctx, id)
}

// GetStatus returns the current report. Once terminal it never changes.
func (e *Engine) GetStatus(id string) (StatusReport, error) {
	return e.store.Get(id)
}

// List pages through submitted requests.
func (e *Engine) List(filter ListFilter) (*ListResult, error) {
	return e.store.List(filter)
}

// Wait blocks until the request is terminal or ctx is done.
func (e *Engine) Wait(ctx context.Context, id string) (StatusReport, error) {
	done, err := e.store.Done(id)
	if err != nil {
		return StatusReport{}, err
	}
	select {
	case <-done:
		return e.store.Get(id)
	case <-ctx.Done():
		return StatusReport{}, ctx.Err()
	}
}

// Cancel stops a request. Queued requests never start; executing requests
// stop dispatching new units while in-flight units finish. Cancelling a
// terminal request is a no-op.
func (e *Engine) Cancel(id string) error {
	rep, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if rep.Status.Terminal() {
		return nil
	}

	e.mu.Lock()
	removed := e.queue.remove(id)
	cancel := e.cancels[id]
	e.mu.Unlock()

	if removed {
		e.finish(id, func(r *StatusReport) { r.Status = StatusCancelled })
		e.control.forget(id)
		return nil
	}
	e.control.markCancelled(id)
	if cancel != nil {
		cancel()
	}
	return nil
}

// Run dispatches queued requests until ctx is done. It then cancels what is
// still queued, waits for running requests to finish and closes the
// progress stream. Call it once.
func (e *Engine) Run(ctx context.Context) error {
	defer e.progress.Close()
	for {
		e.dispatch(ctx)
		select {
		case <-ctx.Done():
			e.drain()
			e.wg.Wait()
			return nil
		case <-e.wake:
		}
	}
}

// drain stops accepting work and finishes every queued request as
// cancelled.
func (e *Engine) drain() {
	e.mu.Lock()
	e.stopped = true
	var queued []string
	for {
		id, ok := e.queue.pop()
		if !ok {
			break
		}
		queued = append(queued, id)
	}
	e.mu.Unlock()

	for _, id := range queued {
		e.finish(id, func(r *StatusReport) {
			r.Status = StatusCancelled
			r.Error = ErrStopped.Error()
		})
		e.control.forget(id)
	}
	if len(queued) > 0 {
		e.logger.Info("queued requests cancelled on shutdown", "count", len(queued))
	}
}

func (e *Engine) dispatch(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.running < e.maxConcurrent && ctx.Err() == nil {
		id, ok := e.queue.pop()
		if !ok {
			return
		}
		reqCtx, cancel := context.WithCancel(ctx)
		e.cancels[id] = cancel
		e.running++
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer func() {
				cancel()
				e.mu.Lock()
				delete(e.cancels, id)
				e.running--
				e.mu.Unlock()
				e.signal()
			}()
			e.process(reqCtx, id)
		}()
	}
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) process(ctx context.Context, id string) {
	defer e.control.forget(id)
	rep, err := e.store.Get(id)
	if err != nil {
		return
	}
	constraints, cancelled := e.control.take(id)
	if cancelled {
		e.finish(id, func(r *StatusReport) { r.Status = StatusCancelled })
		return
	}
	e.setStatus(id, StatusDecomposing, func(r *StatusReport) { r.StartedAt = time.Now().UTC() })

	g, err := e.deps.Builder.Build(ctx, rep.Payload, constraints)
	if err != nil {
		e.logger.Warn("decomposition failed", "request", id, "error", err)
		e.finish(id, func(r *StatusReport) {
			r.Status = StatusFailed
			if ctx.Err() != nil && e.control.wasCancelled(id) {
				r.Status = StatusCancelled
			}
			r.Error = err.Error()
		})
		return
	}
	if e.deps.Graphs != nil {
		if err := e.deps.Graphs.Save(ctx, id, g); err != nil {
			e.logger.Warn("graph not archived", "request", id, "error", err)
		}
	}

	units := make([]UnitReport, 0, g.Len())
	order, _ := g.TopologicalOrder()
	for _, uid := range order {
		u, _ := g.Unit(uid)
		units = append(units, UnitReport{ID: uid, Capability: u.Capability(), Status: scheduler.UnitPending.String()})
	}
	e.setStatus(id, StatusExecuting, func(r *StatusReport) {
		r.Units = units
		r.recount()
	})

	agg := e.sched.Execute(ctx, id, g)

	e.finish(id, func(r *StatusReport) {
		switch agg.Verdict {
		case scheduler.VerdictCompleted:
			r.Status = StatusCompleted
		case scheduler.VerdictPartial:
			r.Status = StatusPartial
		default:
			r.Status = StatusFailed
		}
		if e.control.wasCancelled(id) && agg.Verdict != scheduler.VerdictCompleted {
			r.Status = StatusCancelled
		}
		r.Units = r.Units[:0]
		for _, u := range agg.Units {
			ur := UnitReport{ID: u.ID, Status: u.Status.String(), Attempts: u.Attempts, WorkerID: u.WorkerID}
			if unit, ok := g.Unit(u.ID); ok {
				ur.Capability = unit.Capability()
			}
			if u.Err != nil {
				ur.Error = u.Err.Error()
			}
			r.Units = append(r.Units, ur)
		}
		r.recount()
		r.Output = agg.Output
		r.Missing = agg.Missing
		if agg.Err != nil {
			r.Error = agg.Err.Error()
		}
	})
}

// observe folds scheduler events into the request report.
func (e *Engine) observe(ev scheduler.Event) {
	_ = e.store.Update(ev.RequestID, func(r *StatusReport) {
		for i := range r.Units {
			if r.Units[i].ID != ev.UnitID {
				continue
			}
			u := &r.Units[i]
			u.Status = ev.Status.String()
			if ev.Attempt > u.Attempts {
				u.Attempts = ev.Attempt
			}
			if ev.WorkerID != "" {
				u.WorkerID = ev.WorkerID
			}
			if ev.Status == scheduler.UnitFailed || ev.Status == scheduler.UnitSkipped {
				u.Error = ev.Message
			}
		}
		r.recount()
	})
	e.progress.Emit(ProgressEvent{
		RequestID: ev.RequestID,
		UnitID:    ev.UnitID,
		Status:    ev.Status.String(),
		Attempt:   ev.Attempt,
		WorkerID:  ev.WorkerID,
		Message:   ev.Message,
	})
}

func (e *Engine) setStatus(id string, s Status, fn func(*StatusReport)) {
	_ = e.store.Update(id, func(r *StatusReport) {
		r.Status = s
		if fn != nil {
			fn(r)
		}
	})
	e.progress.Emit(ProgressEvent{RequestID: id, Status: string(s)})
}

func (e *Engine) finish(id string, fn func(*StatusReport)) {
	var final StatusReport
	err := e.store.Update(id, func(r *StatusReport) {
		fn(r)
		r.FinishedAt = time.Now().UTC()
		final = *r
	})
	if err != nil {
		return
	}
	e.logger.Info("request finished", "request", id, "status", final.Status,
		"succeeded", final.Progress.Succeeded, "units", final.Progress.Total)
	e.progress.Emit(ProgressEvent{RequestID: id, Status: string(final.Status), Message: final.Error})
}

// String renders a one-line summary, used by the CLI.
func (r StatusReport) String() string {
	return fmt.Sprintf("%s %s %d/%d units", r.RequestID, r.Status, r.Progress.Succeeded, r.Progress.Total)
}
