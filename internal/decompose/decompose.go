// Package decompose turns a request into a validated work graph. Requests
// above a complexity threshold are split recursively by pluggable
// strategies; the result always passes cycle detection.
package decompose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dusk-indust/orchestra/internal/workgraph"
)

// Strategy proposes a one-level split of a text into units. Proposals may
// reference each other through DependsOn but are not yet validated.
type Strategy interface {
	Name() string
	Propose(ctx context.Context, text string) ([]workgraph.Unit, error)
}

// Mode selects which strategies the builder consults.
type Mode string

const (
	ModeFixed     Mode = "fixed"
	ModeDelegated Mode = "delegated"
	ModeHybrid    Mode = "hybrid"
)

// Builder decomposes requests into work graphs.
type Builder struct {
	fixed     *FixedRule
	delegated Strategy
	mode      Mode
	threshold int
	maxDepth  int
	wordsPer  int
	logger    *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithThreshold sets the complexity above which a unit is split.
func WithThreshold(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithMaxDepth bounds the recursion.
func WithMaxDepth(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxDepth = n
		}
	}
}

// WithDelegate enables a delegated strategy. mode chooses whether it is
// used alone or alongside the fixed rules.
func WithDelegate(s Strategy, mode Mode) Option {
	return func(b *Builder) {
		b.delegated = s
		b.mode = mode
	}
}

// WithFixedRule replaces the default fixed-rule strategy.
func WithFixedRule(f *FixedRule) Option {
	return func(b *Builder) { b.fixed = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a builder using fixed rules, threshold 1 and depth 4.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		fixed:     NewFixedRule(nil, ""),
		mode:      ModeFixed,
		threshold: 1,
		maxDepth:  4,
		wordsPer:  64,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.delegated == nil {
		b.mode = ModeFixed
	}
	b.logger = b.logger.With("component", "decompose")
	return b
}

// Complexity scores a text: one point per clause plus one per wordsPer
// words.
func (b *Builder) Complexity(text string) int {
	return b.fixed.Clauses(text) + len(strings.Fields(text))/b.wordsPer
}

// simple reports whether text is kept as one unit. A single clause is
// always a leaf: word volume raises its score but gives no split point.
func (b *Builder) simple(text string) bool {
	return b.Complexity(text) <= b.threshold || b.fixed.Clauses(text) <= 1
}

// Build decomposes text. constraints apply to every unit that does not set
// its own. The graph is validated; cycles yield ErrCycleDetected and units
// that cannot be split below the threshold yield ErrUnsplittable.
func (b *Builder) Build(ctx context.Context, text string, constraints workgraph.Constraints) (*workgraph.Graph, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &workgraph.DecompositionError{Kind: workgraph.ErrInvalidGraph, Msg: "empty request"}
	}

	units, err := b.expand(ctx, workgraph.Unit{ID: "request", Payload: Normalize(text)}, "", 0)
	if err != nil {
		return nil, err
	}
	for i := range units {
		if units[i].Constraints.Deadline == 0 {
			units[i].Constraints.Deadline = constraints.Deadline
		}
		if units[i].Constraints.MaxRetries == nil && constraints.MaxRetries != nil {
			units[i].Constraints.MaxRetries = workgraph.Retries(*constraints.MaxRetries)
		}
	}

	g, err := workgraph.New(units)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("request decomposed", "units", g.Len(), "depth", g.Depth())
	return g, nil
}

// expand returns u as a leaf when it is simple enough, or replaces it with
// a split whose ids are prefixed with prefix.
func (b *Builder) expand(ctx context.Context, u workgraph.Unit, prefix string, depth int) ([]workgraph.Unit, error) {
	if b.simple(u.Payload) {
		return []workgraph.Unit{b.leaf(u, prefix)}, nil
	}
	complexity := b.Complexity(u.Payload)
	if depth >= b.maxDepth {
		return nil, workgraph.Unsplittable(u.ID, complexity, b.threshold)
	}

	children, err := b.propose(ctx, u.Payload)
	if err != nil {
		return nil, err
	}
	if len(children) <= 1 {
		return nil, workgraph.Unsplittable(u.ID, complexity, b.threshold)
	}

	// Expand children, then rewire: dependencies on a replaced child point
	// at the sinks of its replacement.
	var out []workgraph.Unit
	sinks := make(map[workgraph.UnitID][]workgraph.UnitID)
	for _, c := range children {
		c.ID = qualify(prefix, c.ID)
		for i, d := range c.DependsOn {
			c.DependsOn[i] = qualify(prefix, d)
		}
		if b.simple(c.Payload) {
			out = append(out, b.leaf(c, ""))
			continue
		}
		sub, err := b.expand(ctx, c, string(c.ID), depth+1)
		if err != nil {
			return nil, err
		}
		sinks[c.ID] = sinkIDs(sub)
		for i := range sub {
			if len(sub[i].DependsOn) == 0 {
				sub[i].DependsOn = append([]workgraph.UnitID(nil), c.DependsOn...)
			}
		}
		out = append(out, sub...)
	}
	for i := range out {
		var deps []workgraph.UnitID
		for _, d := range out[i].DependsOn {
			if repl, ok := sinks[d]; ok {
				deps = append(deps, repl...)
				continue
			}
			deps = append(deps, d)
		}
		out[i].DependsOn = deps
	}
	return out, nil
}

// propose consults the strategies for the builder's mode. In hybrid mode
// the proposal with fewer edges wins, then the one with smaller depth, and
// ties go to the fixed rules. A proposal that fails validation is dropped
// when the other one is valid.
func (b *Builder) propose(ctx context.Context, text string) ([]workgraph.Unit, error) {
	switch b.mode {
	case ModeDelegated:
		return b.delegated.Propose(ctx, text)
	case ModeHybrid:
	default:
		return b.fixed.Propose(ctx, text)
	}

	fixed, ferr := b.fixed.Propose(ctx, text)
	delegated, derr := b.delegated.Propose(ctx, text)
	fg, fverr := validate(fixed, ferr)
	dg, dverr := validate(delegated, derr)

	switch {
	case fverr != nil && dverr != nil:
		return nil, errors.Join(fverr, dverr)
	case dverr != nil:
		b.logger.Debug("delegated proposal rejected", "err", dverr)
		return fixed, nil
	case fverr != nil:
		return delegated, nil
	}

	fe, de := len(fg.Edges()), len(dg.Edges())
	if de < fe || (de == fe && dg.Depth() < fg.Depth()) {
		b.logger.Debug("hybrid picked delegated", "edges", de, "depth", dg.Depth())
		return delegated, nil
	}
	return fixed, nil
}

func validate(units []workgraph.Unit, err error) (*workgraph.Graph, error) {
	if err != nil {
		return nil, err
	}
	return workgraph.New(units)
}

// leaf finalises a unit that will not be split further.
func (b *Builder) leaf(u workgraph.Unit, prefix string) workgraph.Unit {
	if len(u.RequiredCapabilities) == 0 {
		u.RequiredCapabilities = []string{b.fixed.Classify(u.Payload)}
	}
	if u.ID == "request" && prefix == "" {
		u.ID = workgraph.UnitID(u.RequiredCapabilities[0])
	}
	if u.Description == "" {
		u.Description = u.Payload
	}
	return u
}

func qualify(prefix string, id workgraph.UnitID) workgraph.UnitID {
	if prefix == "" {
		return id
	}
	return workgraph.UnitID(fmt.Sprintf("%s/%s", prefix, id))
}

// sinkIDs returns the units of a split that nothing else in it depends on.
func sinkIDs(units []workgraph.Unit) []workgraph.UnitID {
	used := make(map[workgraph.UnitID]bool)
	for _, u := range units {
		for _, d := range u.DependsOn {
			used[d] = true
		}
	}
	var out []workgraph.UnitID
	for _, u := range units {
		if !used[u.ID] {
			out = append(out, u.ID)
		}
	}
	return out
}
