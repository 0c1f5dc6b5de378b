package mcptools

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/orchestra/internal/bootstrap"
	"github.com/dusk-indust/orchestra/internal/capability"
	"github.com/dusk-indust/orchestra/internal/graphstore"
	"github.com/dusk-indust/orchestra/internal/orchestrator"
	"github.com/dusk-indust/orchestra/internal/outcome"
	"github.com/dusk-indust/orchestra/internal/tuning"
	"github.com/dusk-indust/orchestra/internal/worker"
)

// setupServerClient runs a bootstrapped engine behind an MCP server and
// connects a client to it over in-memory transports.
func setupServerClient(t *testing.T) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	pool := worker.NewPool()
	require.NoError(t, pool.Add(worker.NewProviderWorker("local", []string{"echo", "compute", "format"}, capability.Builtin())))
	deps := orchestrator.Deps{
		Pool:   pool,
		Log:    outcome.NewMemLog(),
		Knobs:  tuning.NewKnobs(4, 1, tuning.DefaultLimits()),
		Graphs: graphstore.NewMemStore(),
	}
	engine := orchestrator.NewEngine(deps)
	stages, err := orchestrator.DefaultCatalog(deps, nil).Stages(orchestrator.DefaultDeclarations(false))
	require.NoError(t, err)
	_, err = engine.Bootstrap(ctx, bootstrap.NewSequencer(bootstrap.WithBackoffUnit(time.Millisecond)), stages)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.Run(ctx)
	}()

	server := NewMCPServer(NewService(engine))
	st, ct := mcp.NewInMemoryTransports()
	_, err = server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)
	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		session.Close()
		cancel()
		<-done
	})
	return session
}

func callTool[T any](t *testing.T, session *mcp.ClientSession, name string, args any) T {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.False(t, result.IsError, "%s returned an error result", name)
	require.NotNil(t, result.StructuredContent, "expected structured content from %s", name)

	raw, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestMCPListTools(t *testing.T) {
	session := setupServerClient(t)

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	sort.Strings(names)

	assert.Equal(t, []string{
		"cancel_request",
		"get_graph",
		"get_status",
		"list_requests",
		"plan_request",
		"submit_request",
	}, names)
}

func TestMCPSubmitAndFollow(t *testing.T) {
	session := setupServerClient(t)

	sub := callTool[SubmitRequestOutput](t, session, "submit_request", SubmitRequestInput{
		Payload: "compute 2+2 then format as text",
		Wait:    true,
	})
	require.NotEmpty(t, sub.RequestID)
	assert.Equal(t, "completed", sub.Status)
	require.NotNil(t, sub.Report)
	assert.Equal(t, "Result: 4", sub.Report.Output)

	st := callTool[GetStatusOutput](t, session, "get_status", GetStatusInput{RequestID: sub.RequestID})
	assert.Equal(t, "completed", st.Report.Status)
	assert.Equal(t, 2, st.Report.Progress.Succeeded)

	list := callTool[ListRequestsOutput](t, session, "list_requests", ListRequestsInput{Status: "completed"})
	require.Len(t, list.Requests, 1)
	assert.Equal(t, sub.RequestID, list.Requests[0].RequestID)

	graph := callTool[GraphOutput](t, session, "get_graph", GetGraphInput{RequestID: sub.RequestID})
	assert.Equal(t, [][]string{{"compute"}, {"format"}}, graph.Levels)
	assert.Contains(t, graph.Mermaid, "class N0,N1 succeeded")

	// Cancelling a terminal request is a no-op.
	c := callTool[CancelRequestOutput](t, session, "cancel_request", CancelRequestInput{RequestID: sub.RequestID})
	assert.Equal(t, "completed", c.Status)
}

func TestMCPPlanRequest(t *testing.T) {
	session := setupServerClient(t)

	plan := callTool[GraphOutput](t, session, "plan_request", PlanRequestInput{Payload: "compute 2+2 then format as text"})
	assert.Equal(t, []string{"compute", "format"}, plan.CriticalPath)
	assert.Contains(t, plan.Mermaid, "graph TD")
}

func TestMCPGetStatusUnknown(t *testing.T) {
	session := setupServerClient(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "get_status",
		Arguments: GetStatusInput{RequestID: "nope"},
	})
	// The SDK may report handler errors at the protocol level or as IsError.
	if err != nil {
		return
	}
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}
