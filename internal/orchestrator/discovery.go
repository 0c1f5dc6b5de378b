package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/orchestra/internal/a2a"
	"github.com/dusk-indust/orchestra/internal/capability"
	"github.com/dusk-indust/orchestra/internal/worker"
)

// DiscoveredAgent is an endpoint that answered with an agent card.
type DiscoveredAgent struct {
	Endpoint string
	Card     a2a.AgentCard
}

// Discoverer probes A2A endpoints for agents and registers them as workers.
type Discoverer struct {
	client       a2a.Client
	endpoints    []string
	probeTimeout time.Duration
	logger       *slog.Logger
}

// NewDiscoverer creates a Discoverer over a fixed endpoint list.
func NewDiscoverer(client a2a.Client, endpoints []string, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{
		client:       client,
		endpoints:    append([]string(nil), endpoints...),
		probeTimeout: 500 * time.Millisecond,
		logger:       logger.With("component", "discovery"),
	}
}

// PortRange lists http://host:port endpoints for ports from..to inclusive.
func PortRange(host string, from, to int) []string {
	var out []string
	for port := from; port <= to; port++ {
		out = append(out, fmt.Sprintf("http://%s:%d", host, port))
	}
	return out
}

// Endpoints returns the probed endpoints.
func (d *Discoverer) Endpoints() []string { return d.endpoints }

// Discover probes every endpoint concurrently and returns the agents that
// answered, sorted by endpoint.
func (d *Discoverer) Discover(ctx context.Context) []DiscoveredAgent {
	var (
		mu     sync.Mutex
		agents []DiscoveredAgent
	)
	var g errgroup.Group
	for _, ep := range d.endpoints {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, d.probeTimeout)
			defer cancel()
			card, err := d.client.DiscoverAgent(probeCtx, ep)
			if err != nil || card == nil {
				d.logger.Debug("no agent", "endpoint", ep, "error", err)
				return nil
			}
			mu.Lock()
			agents = append(agents, DiscoveredAgent{Endpoint: ep, Card: *card})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(agents, func(i, j int) bool { return agents[i].Endpoint < agents[j].Endpoint })
	d.logger.Info("discovery finished", "probed", len(d.endpoints), "agents", len(agents))
	return agents
}

// Register discovers agents and adds them to pool. It returns how many
// workers were added.
func (d *Discoverer) Register(ctx context.Context, pool *worker.Pool) (int, error) {
	return d.Add(pool, d.Discover(ctx))
}

// Add registers agents in pool as remote workers whose capabilities are the
// agent's skill ids. Agents already registered are skipped.
func (d *Discoverer) Add(pool *worker.Pool, agents []DiscoveredAgent) (int, error) {
	added := 0
	for _, a := range agents {
		id := a.Card.Name + "@" + a.Endpoint
		w := worker.NewProviderWorker(id, a.Card.SkillIDs(), capability.NewRemote(d.client, a.Endpoint))
		if err := pool.Add(w); err != nil {
			if errors.Is(err, worker.ErrDuplicateWorker) {
				continue
			}
			return added, fmt.Errorf("orchestrator: register %s: %w", id, err)
		}
		added++
	}
	return added, nil
}
