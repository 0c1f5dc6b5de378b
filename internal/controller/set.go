package controller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Set runs a group of controllers, each on its own ticker.
type Set struct {
	controllers []*Controller
	logger      *slog.Logger
}

// NewSet groups controllers.
func NewSet(logger *slog.Logger, cs ...*Controller) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{controllers: cs, logger: logger.With("component", "controllers")}
}

// Defaults builds the performance, quality, learning and user-facing
// controllers over env.
func Defaults(env Env, t Targets, logger *slog.Logger, opts ...Option) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append(opts, WithLogger(logger))
	return NewSet(logger,
		New(env, NewPerformance(env, t), opts...),
		New(env, NewQuality(env, t), opts...),
		New(env, NewLearning(env, t), opts...),
		New(env, NewUserFacing(env, t), opts...),
	)
}

// Controllers returns the members.
func (s *Set) Controllers() []*Controller { return s.controllers }

// Run blocks until ctx is done. A failing cycle is logged and the loop
// continues with the next tick.
func (s *Set) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range s.controllers {
		g.Go(func() error {
			t := time.NewTicker(c.Interval())
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
				}
				if _, err := c.Cycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Warn("controller cycle failed", "controller", c.Name(), "error", err)
				}
			}
		})
	}
	return g.Wait()
}

// States returns a copy of every controller's state.
func (s *Set) States() []State {
	out := make([]State, len(s.controllers))
	for i, c := range s.controllers {
		out[i] = c.State()
	}
	return out
}
