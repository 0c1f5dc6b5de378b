package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/orchestra/internal/a2a"
	"github.com/dusk-indust/orchestra/internal/bootstrap"
	"github.com/dusk-indust/orchestra/internal/capability"
	"github.com/dusk-indust/orchestra/internal/config"
	"github.com/dusk-indust/orchestra/internal/controller"
	"github.com/dusk-indust/orchestra/internal/decompose"
	"github.com/dusk-indust/orchestra/internal/graphstore"
	"github.com/dusk-indust/orchestra/internal/orchestrator"
	"github.com/dusk-indust/orchestra/internal/outcome"
	"github.com/dusk-indust/orchestra/internal/scheduler"
	"github.com/dusk-indust/orchestra/internal/tuning"
	"github.com/dusk-indust/orchestra/internal/worker"
)

// system is everything one process runs, assembled from configuration.
type system struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   orchestrator.Deps
	engine *orchestrator.Engine
	disc   *orchestrator.Discoverer

	closers []io.Closer
}

func assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*system, error) {
	s := &system{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	client := a2a.NewHTTPClient()
	pool := worker.NewPool(
		worker.WithWeights(cfg.Scoring),
		worker.WithDegradeAfter(cfg.Health.DegradeAfter),
		worker.WithLogger(logger),
	)
	providers := make(map[string]capability.Provider, len(cfg.Workers))
	for _, wc := range cfg.Workers {
		p, caps, err := newProvider(ctx, client, wc)
		if err != nil {
			return nil, err
		}
		providers[wc.ID] = p
		if err := pool.Add(worker.NewProviderWorker(wc.ID, caps, p)); err != nil {
			return nil, err
		}
	}

	log, err := s.openOutcomes()
	if err != nil {
		return nil, err
	}
	graphs, err := s.openGraphs()
	if err != nil {
		return nil, err
	}

	s.deps = orchestrator.Deps{
		Pool:    pool,
		Log:     log,
		Knobs:   tuning.NewKnobs(cfg.Scheduler.Parallelism, cfg.Scheduler.RetryBudget, tuning.DefaultLimits()),
		Builder: newBuilder(cfg.Decompose, providers, logger),
		Graphs:  graphs,
	}
	s.engine = orchestrator.NewEngine(s.deps,
		orchestrator.WithSchedulerOptions(scheduler.WithConfig(cfg.Scheduler.SchedulerConfig())),
		orchestrator.WithMaxConcurrent(cfg.Scheduler.MaxConcurrentRequests),
		orchestrator.WithLogger(logger),
	)

	endpoints := append([]string(nil), cfg.Agents.Endpoints...)
	if cfg.Agents.FromPort > 0 {
		endpoints = append(endpoints, orchestrator.PortRange(cfg.Agents.Host, cfg.Agents.FromPort, cfg.Agents.ToPort)...)
	}
	if len(endpoints) > 0 {
		s.disc = orchestrator.NewDiscoverer(client, endpoints, logger)
	}
	ok = true
	return s, nil
}

func newProvider(ctx context.Context, client a2a.Client, wc config.Worker) (capability.Provider, []string, error) {
	switch wc.Provider {
	case config.ProviderA2A:
		r := capability.NewRemote(client, wc.Endpoint)
		if len(wc.Capabilities) > 0 {
			return r, wc.Capabilities, nil
		}
		caps, err := r.Capabilities(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("worker %s: read agent card: %w", wc.ID, err)
		}
		return r, caps, nil
	default:
		b := capability.Builtin()
		if len(wc.Capabilities) > 0 {
			return b, wc.Capabilities, nil
		}
		return b, b.Capabilities(), nil
	}
}

func newBuilder(dc config.Decompose, providers map[string]capability.Provider, logger *slog.Logger) *decompose.Builder {
	opts := []decompose.Option{
		decompose.WithThreshold(dc.Threshold),
		decompose.WithMaxDepth(dc.MaxDepth),
		decompose.WithLogger(logger),
	}
	if p, ok := providers[dc.DelegateWorker]; ok && dc.Strategy != string(decompose.ModeFixed) {
		opts = append(opts, decompose.WithDelegate(decompose.NewDelegated(p, dc.DelegateCapability), decompose.Mode(dc.Strategy)))
	}
	return decompose.NewBuilder(opts...)
}

func (s *system) openOutcomes() (outcome.Log, error) {
	if s.cfg.Outcomes.Driver != config.DriverSQLite {
		return outcome.NewMemLog(), nil
	}
	l, err := outcome.OpenSQLite(s.cfg.Outcomes.Path)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, l)
	return l, nil
}

func (s *system) openGraphs() (graphstore.Store, error) {
	if s.cfg.GraphStore.Driver != config.DriverKuzu {
		return graphstore.NewMemStore(), nil
	}
	g, err := openKuzu(s.cfg.GraphStore.Path)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, g)
	return g, nil
}

// bootstrap runs the configured stages, or the built-in ones when the
// configuration declares none.
func (s *system) bootstrap(ctx context.Context) (*bootstrap.Report, error) {
	decls := s.cfg.Bootstrap.Stages
	if len(decls) == 0 {
		decls = orchestrator.DefaultDeclarations(s.disc != nil)
	}
	stages, err := orchestrator.DefaultCatalog(s.deps, s.disc).Stages(decls)
	if err != nil {
		return nil, err
	}
	seq := bootstrap.NewSequencer(
		bootstrap.WithMaxAttempts(s.cfg.Bootstrap.MaxAttempts),
		bootstrap.WithBackoffUnit(s.cfg.Bootstrap.BackoffUnit),
		bootstrap.WithLogger(s.logger),
	)
	return s.engine.Bootstrap(ctx, seq, stages)
}

// start runs the engine and, when enabled, the feedback controllers until
// ctx is cancelled. Wait on the returned group after cancelling.
func (s *system) start(ctx context.Context) *errgroup.Group {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.engine.Run(gctx) })
	g.Go(func() error { return s.deps.Pool.Watch(gctx, s.cfg.Health.Interval) })
	if s.cfg.Controllers.Enabled {
		set := controller.Defaults(
			controller.Env{Log: s.deps.Log, Pool: s.deps.Pool, Knobs: s.deps.Knobs},
			s.cfg.Controllers.Targets,
			s.logger,
			controller.WithInterval(s.cfg.Controllers.Interval),
			controller.WithCooldown(s.cfg.Controllers.Cooldown),
		)
		g.Go(func() error { return set.Run(gctx) })
	}
	return g
}

func (s *system) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}
