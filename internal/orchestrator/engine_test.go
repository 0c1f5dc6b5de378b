package orchestrator

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/orchestra/internal/a2a"
	"github.com/dusk-indust/orchestra/internal/bootstrap"
	"github.com/dusk-indust/orchestra/internal/capability"
	"github.com/dusk-indust/orchestra/internal/decompose"
	"github.com/dusk-indust/orchestra/internal/graphstore"
	"github.com/dusk-indust/orchestra/internal/outcome"
	"github.com/dusk-indust/orchestra/internal/scheduler"
	"github.com/dusk-indust/orchestra/internal/tuning"
	"github.com/dusk-indust/orchestra/internal/worker"
	"github.com/dusk-indust/orchestra/internal/workgraph"
)

type harness struct {
	engine *Engine
	deps   Deps
	log    *outcome.MemLog
	graphs *graphstore.MemStore
}

func newHarness(t *testing.T, provider capability.Provider, opts ...Option) *harness {
	t.Helper()
	pool := worker.NewPool()
	if provider != nil {
		require.NoError(t, pool.Add(worker.NewProviderWorker("local", []string{"echo", "compute", "format"}, provider)))
	}
	log := outcome.NewMemLog()
	graphs := graphstore.NewMemStore()
	deps := Deps{
		Pool:   pool,
		Log:    log,
		Knobs:  tuning.NewKnobs(4, 3, tuning.DefaultLimits()),
		Graphs: graphs,
	}
	cfg := scheduler.DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffCap = 5 * time.Millisecond
	opts = append([]Option{WithSchedulerOptions(scheduler.WithConfig(cfg))}, opts...)
	return &harness{engine: NewEngine(deps, opts...), deps: deps, log: log, graphs: graphs}
}

func (h *harness) bootstrap(t *testing.T, opts ...bootstrap.Option) (*bootstrap.Report, error) {
	t.Helper()
	stages, err := DefaultCatalog(h.deps, nil).Stages(DefaultDeclarations(false))
	require.NoError(t, err)
	opts = append([]bootstrap.Option{bootstrap.WithBackoffUnit(time.Millisecond)}, opts...)
	return h.engine.Bootstrap(context.Background(), bootstrap.NewSequencer(opts...), stages)
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	_, err := h.bootstrap(t)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) wait(t *testing.T, id string) StatusReport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rep, err := h.engine.Wait(ctx, id)
	require.NoError(t, err)
	return rep
}

func TestEngine_SubmitBeforeBootstrap(t *testing.T) {
	h := newHarness(t, capability.Builtin())
	_, err := h.engine.Submit("compute 2+2", 0, workgraph.Constraints{})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.False(t, h.engine.Ready())
}

func TestEngine_ComputeThenFormat(t *testing.T) {
	h := newHarness(t, capability.Builtin())
	h.start(t)

	id, err := h.engine.Submit("compute 2+2 then format as text", 0, workgraph.Constraints{})
	require.NoError(t, err)

	rep := h.wait(t, id)
	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Equal(t, "Result: 4", rep.Output)
	assert.Equal(t, Progress{Total: 2, Succeeded: 2}, rep.Progress)
	require.Len(t, rep.Units, 2)
	assert.Equal(t, workgraph.UnitID("compute"), rep.Units[0].ID)
	assert.Equal(t, "local", rep.Units[0].WorkerID)
	assert.Equal(t, workgraph.UnitID("format"), rep.Units[1].ID)
	assert.False(t, rep.StartedAt.IsZero())
	assert.False(t, rep.FinishedAt.IsZero())

	assert.Equal(t, 2, h.log.Len())
	g, err := h.graphs.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())
}

func TestEngine_GetStatusIdempotentOnceTerminal(t *testing.T) {
	h := newHarness(t, capability.Builtin())
	h.start(t)

	id, err := h.engine.Submit("compute 2+2", 0, workgraph.Constraints{})
	require.NoError(t, err)
	first := h.wait(t, id)
	require.True(t, first.Status.Terminal())

	require.NoError(t, h.engine.Cancel(id))
	for range 3 {
		again, err := h.engine.GetStatus(id)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEngine_UnknownRequest(t *testing.T) {
	h := newHarness(t, capability.Builtin())
	_, err := h.engine.GetStatus("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, h.engine.Cancel("nope"), ErrNotFound)
}

func TestEngine_EmptyPayload(t *testing.T) {
	h := newHarness(t, capability.Builtin())
	h.start(t)
	_, err := h.engine.Submit("   ", 0, workgraph.Constraints{})
	assert.ErrorIs(t, err, ErrEmptyRequest)
}

func TestEngine_DecompositionErrorFailsRequest(t *testing.T) {
	cyclic := capability.ProviderFunc(func(_ context.Context, capName, _ string, _ capability.Options) (string, error) {
		if capName != decompose.DecomposeCapability {
			return "", capability.PermanentError(capName, capability.ErrUnsupported)
		}
		return `{"units":[{"id":"A","dependsOn":["B"]},{"id":"B","dependsOn":["A"]}]}`, nil
	})
	builder := decompose.NewBuilder(decompose.WithDelegate(decompose.NewDelegated(cyclic, ""), decompose.ModeDelegated))

	h := newHarness(t, capability.Builtin())
	h.deps.Builder = builder
	h.engine = NewEngine(h.deps)
	h.start(t)

	id, err := h.engine.Submit("do a; do b", 0, workgraph.Constraints{})
	require.NoError(t, err)
	rep := h.wait(t, id)
	assert.Equal(t, StatusFailed, rep.Status)
	assert.Contains(t, rep.Error, "cycle detected")
	assert.Empty(t, rep.Units)
}

func TestEngine_PermanentFailureIsPartial(t *testing.T) {
	h := newHarness(t, capability.Builtin())
	h.start(t)

	// "compute" has no arithmetic to evaluate; "echo" is independent.
	id, err := h.engine.Submit("compute nothing and echo hello", 0, workgraph.Constraints{})
	require.NoError(t, err)
	rep := h.wait(t, id)
	assert.Equal(t, StatusPartial, rep.Status)
	assert.Equal(t, 1, rep.Progress.Succeeded)
	assert.Equal(t, 1, rep.Progress.Failed)
	assert.NotEmpty(t, rep.Missing)
}

func TestEngine_BadPayloadsDoNotDegradeWorker(t *testing.T) {
	h := newHarness(t, capability.Builtin())
	h.start(t)

	for range worker.DefaultDegradeAfter {
		id, err := h.engine.Submit("compute hello", 0, workgraph.Constraints{})
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, h.wait(t, id).Status)
	}

	id, err := h.engine.Submit("compute 2+2", 0, workgraph.Constraints{})
	require.NoError(t, err)
	rep := h.wait(t, id)
	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Equal(t, "4", rep.Output)

	snap := h.deps.Pool.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, worker.StateReady, snap[0].State)
	assert.Equal(t, worker.DefaultDegradeAfter, snap[0].Stats.FailureCount)
	assert.Zero(t, snap[0].Stats.ConsecutiveFailures)
}

func TestEngine_CancelQueued(t *testing.T) {
	h := newHarness(t, capability.Builtin())
	_, err := h.bootstrap(t)
	require.NoError(t, err)

	// Run is not started, so the request stays queued.
	id, err := h.engine.Submit("echo hi", 0, workgraph.Constraints{})
	require.NoError(t, err)
	rep, err := h.engine.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, rep.Status)

	require.NoError(t, h.engine.Cancel(id))
	rep = h.wait(t, id)
	assert.Equal(t, StatusCancelled, rep.Status)
	assert.Equal(t, 0, h.log.Len())
}

func TestEngine_ShutdownCancelsQueued(t *testing.T) {
	release := make(chan struct{})
	p := capability.ProviderFunc(func(_ context.Context, _, payload string, _ capability.Options) (string, error) {
		if strings.Contains(payload, "block") {
			<-release
		}
		return payload, nil
	})
	h := newHarness(t, p, WithMaxConcurrent(1))
	_, err := h.bootstrap(t)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.engine.Run(ctx)
	}()

	running, err := h.engine.Submit("echo block", 0, workgraph.Constraints{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rep, _ := h.engine.GetStatus(running)
		return rep.Status == StatusExecuting
	}, 2*time.Second, 5*time.Millisecond)
	queued, err := h.engine.Submit("echo later", 0, workgraph.Constraints{})
	require.NoError(t, err)

	cancel()
	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	rep, err := h.engine.GetStatus(queued)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rep.Status)
	assert.Equal(t, ErrStopped.Error(), rep.Error)
	assert.False(t, rep.FinishedAt.IsZero())

	rep, err = h.engine.GetStatus(running)
	require.NoError(t, err)
	assert.True(t, rep.Status.Terminal())

	_, err = h.engine.Submit("echo too late", 0, workgraph.Constraints{})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestEngine_CancelExecuting(t *testing.T) {
	release := make(chan struct{})
	builtin := capability.Builtin()
	blocking := capability.ProviderFunc(func(ctx context.Context, capName, payload string, opts capability.Options) (string, error) {
		if capName == "compute" {
			<-release
		}
		return builtin.Invoke(ctx, capName, payload, opts)
	})
	h := newHarness(t, blocking)
	h.start(t)

	id, err := h.engine.Submit("compute 2+2 then format as text", 0, workgraph.Constraints{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rep, err := h.engine.GetStatus(id)
		return err == nil && rep.Progress.Running == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.engine.Cancel(id))
	close(release)

	rep := h.wait(t, id)
	assert.Equal(t, StatusCancelled, rep.Status)
	require.Len(t, rep.Units, 2)
	assert.Equal(t, "succeeded", rep.Units[0].Status, "in-flight unit finishes")
	assert.Equal(t, "cancelled", rep.Units[1].Status)
}

func TestEngine_PriorityOrder(t *testing.T) {
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		order []string
	)
	p := capability.ProviderFunc(func(_ context.Context, _, payload string, _ capability.Options) (string, error) {
		if strings.Contains(payload, "block") {
			<-release
		}
		mu.Lock()
		order = append(order, payload)
		mu.Unlock()
		return payload, nil
	})
	h := newHarness(t, p, WithMaxConcurrent(1))
	h.start(t)

	first, err := h.engine.Submit("echo block", 0, workgraph.Constraints{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rep, _ := h.engine.GetStatus(first)
		return rep.Status == StatusExecuting
	}, 2*time.Second, 5*time.Millisecond)

	low, err := h.engine.Submit("echo low", 0, workgraph.Constraints{})
	require.NoError(t, err)
	high, err := h.engine.Submit("echo high", 5, workgraph.Constraints{})
	require.NoError(t, err)
	close(release)

	for _, id := range []string{first, low, high} {
		assert.Equal(t, StatusCompleted, h.wait(t, id).Status)
	}
	assert.Equal(t, []string{"echo block", "echo high", "echo low"}, order)
}

func TestEngine_BootstrapCriticalFailure(t *testing.T) {
	h := newHarness(t, nil)
	rep, err := h.bootstrap(t, bootstrap.WithMaxAttempts(2))
	require.Error(t, err)

	var sf *bootstrap.StageFailure
	require.True(t, errors.As(err, &sf))
	assert.Equal(t, CheckWorkers, sf.Stage)
	assert.Equal(t, "no workers registered", sf.Reason)
	assert.Equal(t, "add workers to the configuration", sf.Remediation)
	assert.False(t, rep.Ready())

	_, err = h.engine.Submit("echo hi", 0, workgraph.Constraints{})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestEngine_ListPaginates(t *testing.T) {
	h := newHarness(t, capability.Builtin())
	_, err := h.bootstrap(t)
	require.NoError(t, err)

	var ids []string
	for _, p := range []string{"echo a", "echo b", "echo c"} {
		id, err := h.engine.Submit(p, 0, workgraph.Constraints{})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	page, err := h.engine.List(ListFilter{PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalSize)
	require.Len(t, page.Requests, 2)
	assert.Equal(t, ids[1], page.NextPageToken)

	page, err = h.engine.List(ListFilter{PageSize: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, page.Requests, 1)
	assert.Equal(t, ids[2], page.Requests[0].RequestID)
	assert.Empty(t, page.NextPageToken)

	require.NoError(t, h.engine.Cancel(ids[0]))
	page, err = h.engine.List(ListFilter{Status: StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalSize)

	_, err = h.engine.List(ListFilter{PageToken: "bogus"})
	assert.Error(t, err)
}

func TestEngine_ProgressStream(t *testing.T) {
	h := newHarness(t, capability.Builtin())
	h.start(t)

	id, err := h.engine.Submit("compute 2+2 then format as text", 0, workgraph.Constraints{})
	require.NoError(t, err)
	h.wait(t, id)

	seen := map[string]bool{}
	timeout := time.After(time.Second)
	for !seen["completed"] {
		select {
		case ev := <-h.engine.Progress():
			if ev.RequestID == id {
				seen[ev.Status] = true
			}
		case <-timeout:
			t.Fatalf("completion event not seen, got %v", seen)
		}
	}
	for _, s := range []string{"queued", "decomposing", "executing", "running", "succeeded"} {
		assert.True(t, seen[s], s)
	}
}

func TestDiscoverer_RegistersAgents(t *testing.T) {
	agent := capability.NewAgent("calc", "test", capability.Builtin(), []string{"compute", "echo"}, nil)
	srv := httptest.NewServer(agent.Server().Routes())
	defer srv.Close()

	dead := httptest.NewServer(nil)
	deadURL := dead.URL
	dead.Close()

	client := a2a.NewHTTPClient()
	disc := NewDiscoverer(client, []string{deadURL, srv.URL}, nil)

	pool := worker.NewPool()
	n, err := disc.Register(context.Background(), pool)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = disc.Register(context.Background(), pool)
	require.NoError(t, err)
	assert.Zero(t, n, "already registered agents are skipped")

	assert.Empty(t, pool.ValidateAll(context.Background()))
	snaps := pool.Snapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, "calc@"+srv.URL, snaps[0].ID)
	assert.Equal(t, []string{"compute", "echo"}, snaps[0].Capabilities)

	w, err := pool.Acquire(workgraph.Unit{ID: "u", RequiredCapabilities: []string{"compute"}}, nil)
	require.NoError(t, err)
	out, err := w.Submit(context.Background(), worker.Assignment{
		RequestID: "r", Unit: workgraph.Unit{ID: "u", Payload: "6*7", RequiredCapabilities: []string{"compute"}}, Attempt: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestPortRange(t *testing.T) {
	assert.Equal(t, []string{"http://localhost:9100", "http://localhost:9101"}, PortRange("localhost", 9100, 9101))
}

func TestDefaultDeclarations(t *testing.T) {
	names := func(ds []bootstrap.Declaration) []string {
		var out []string
		for _, d := range ds {
			out = append(out, d.Name)
		}
		return out
	}
	assert.Equal(t, []string{CheckOutcomeLog, CheckGraphStore, CheckWorkers}, names(DefaultDeclarations(false)))
	assert.Equal(t, []string{CheckOutcomeLog, CheckGraphStore, CheckAgents, CheckWorkers}, names(DefaultDeclarations(true)))
}

func TestEngine_PlanDoesNotExecute(t *testing.T) {
	h := newHarness(t, capability.Builtin())

	g, err := h.engine.Plan(context.Background(), "compute 2+2 then format as text", workgraph.Constraints{})
	require.NoError(t, err)
	assert.Equal(t, [][]workgraph.UnitID{{"compute"}, {"format"}}, g.ExecutionLevels())
	assert.Equal(t, 0, h.log.Len())

	_, err = h.engine.Plan(context.Background(), "  ", workgraph.Constraints{})
	assert.ErrorIs(t, err, ErrEmptyRequest)
}

func TestEngine_GraphOfSubmittedRequest(t *testing.T) {
	h := newHarness(t, capability.Builtin())
	h.start(t)

	id, err := h.engine.Submit("compute 2+2 then format as text", 0, workgraph.Constraints{})
	require.NoError(t, err)
	h.wait(t, id)

	g, err := h.engine.Graph(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())

	_, err = h.engine.Graph(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
