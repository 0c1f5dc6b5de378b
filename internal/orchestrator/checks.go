package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dusk-indust/orchestra/internal/bootstrap"
)

// Names of the built-in bootstrap checks and remedies.
const (
	CheckOutcomeLog = "outcome-log"
	CheckGraphStore = "graph-store"
	CheckAgents     = "agents"
	CheckWorkers    = "workers"

	RemedyRevalidateWorkers = "revalidate-workers"
	RemedyRediscoverAgents  = "rediscover-agents"
)

// DefaultCatalog returns the built-in checks over the engine's
// dependencies. disc may be nil when no agents are configured.
func DefaultCatalog(d Deps, disc *Discoverer) *bootstrap.Catalog {
	c := bootstrap.NewCatalog()

	c.Checks[CheckOutcomeLog] = func(ctx context.Context) bootstrap.Result {
		if d.Log == nil {
			return bootstrap.Fail("no outcome log configured", "set outcomes.driver to memory or sqlite")
		}
		if _, err := d.Log.Since(ctx, math.MaxInt64); err != nil {
			return bootstrap.Fail("outcome log unreadable: "+err.Error(), "check outcomes.path is writable")
		}
		return bootstrap.Pass()
	}

	c.Checks[CheckGraphStore] = func(ctx context.Context) bootstrap.Result {
		if d.Graphs == nil {
			return bootstrap.Pass()
		}
		if err := d.Graphs.Init(ctx); err != nil {
			return bootstrap.Fail("graph store init failed: "+err.Error(), "check graphstore.path or use the memory driver")
		}
		return bootstrap.Pass()
	}

	c.Checks[CheckAgents] = func(ctx context.Context) bootstrap.Result {
		if disc == nil {
			return bootstrap.Pass()
		}
		agents := disc.Discover(ctx)
		if len(agents) == 0 {
			return bootstrap.Fail(
				fmt.Sprintf("no agent answered at %s", strings.Join(disc.Endpoints(), ", ")),
				"start an agent with `orchestra serve-worker`")
		}
		if _, err := disc.Add(d.Pool, agents); err != nil {
			return bootstrap.Fail(err.Error(), "check the agent endpoints")
		}
		return bootstrap.Pass()
	}
	c.Remedies[RemedyRediscoverAgents] = func(ctx context.Context, _ bootstrap.Result) error {
		if disc == nil {
			return fmt.Errorf("orchestrator: no discovery endpoints")
		}
		_, err := disc.Register(ctx, d.Pool)
		return err
	}

	c.Checks[CheckWorkers] = func(ctx context.Context) bootstrap.Result {
		failures := d.Pool.ValidateAll(ctx)
		if d.Pool.Ready() > 0 {
			return bootstrap.Pass()
		}
		if len(failures) == 0 {
			return bootstrap.Fail("no workers registered", "add workers to the configuration")
		}
		ids := make([]string, 0, len(failures))
		for id, err := range failures {
			ids = append(ids, fmt.Sprintf("%s (%v)", id, err))
		}
		sort.Strings(ids)
		return bootstrap.Fail("no worker passed validation: "+strings.Join(ids, "; "),
			"check worker providers are reachable")
	}
	c.Remedies[RemedyRevalidateWorkers] = func(ctx context.Context, _ bootstrap.Result) error {
		d.Pool.ValidateAll(ctx)
		return nil
	}
	return c
}

// DefaultDeclarations are the built-in stages. The outcome log, graph store
// and agent discovery (when enabled) share the first level, so discovered
// agents are registered before worker validation runs. Workers do not
// depend on discovery: an unreachable agent degrades only its skills.
func DefaultDeclarations(withAgents bool) []bootstrap.Declaration {
	decls := []bootstrap.Declaration{
		{Name: CheckOutcomeLog, Critical: true},
		{Name: CheckGraphStore},
	}
	if withAgents {
		decls = append(decls, bootstrap.Declaration{
			Name:      CheckAgents,
			Remediate: RemedyRediscoverAgents,
		})
	}
	decls = append(decls, bootstrap.Declaration{
		Name:      CheckWorkers,
		DependsOn: []string{CheckOutcomeLog},
		Critical:  true,
		Remediate: RemedyRevalidateWorkers,
	})
	return decls
}
