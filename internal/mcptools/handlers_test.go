package mcptools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/orchestra/internal/orchestrator"
	"github.com/dusk-indust/orchestra/internal/workgraph"
)

// mockEngine is a test double for Engine.
type mockEngine struct {
	submitFn func(payload string, priority int, c workgraph.Constraints) (string, error)
	reports  map[string]orchestrator.StatusReport
	listFn   func(f orchestrator.ListFilter) (*orchestrator.ListResult, error)
	graph    *workgraph.Graph
	graphErr error

	cancelled []string
	lastCons  workgraph.Constraints
}

func newMockEngine() *mockEngine {
	return &mockEngine{reports: make(map[string]orchestrator.StatusReport)}
}

func (m *mockEngine) Submit(payload string, priority int, c workgraph.Constraints) (string, error) {
	m.lastCons = c
	if m.submitFn != nil {
		return m.submitFn(payload, priority, c)
	}
	return "req-1", nil
}

func (m *mockEngine) GetStatus(id string) (orchestrator.StatusReport, error) {
	r, ok := m.reports[id]
	if !ok {
		return orchestrator.StatusReport{}, orchestrator.ErrNotFound
	}
	return r, nil
}

func (m *mockEngine) List(f orchestrator.ListFilter) (*orchestrator.ListResult, error) {
	if m.listFn != nil {
		return m.listFn(f)
	}
	return &orchestrator.ListResult{}, nil
}

func (m *mockEngine) Cancel(id string) error {
	r, ok := m.reports[id]
	if !ok {
		return orchestrator.ErrNotFound
	}
	m.cancelled = append(m.cancelled, id)
	r.Status = orchestrator.StatusCancelled
	m.reports[id] = r
	return nil
}

func (m *mockEngine) Wait(_ context.Context, id string) (orchestrator.StatusReport, error) {
	return m.GetStatus(id)
}

func (m *mockEngine) Plan(_ context.Context, payload string, _ workgraph.Constraints) (*workgraph.Graph, error) {
	if payload == "" {
		return nil, orchestrator.ErrEmptyRequest
	}
	return m.graph, m.graphErr
}

func (m *mockEngine) Graph(_ context.Context, id string) (*workgraph.Graph, error) {
	if _, ok := m.reports[id]; !ok {
		return nil, orchestrator.ErrNotFound
	}
	return m.graph, m.graphErr
}

func twoStepGraph(t *testing.T) *workgraph.Graph {
	t.Helper()
	g, err := workgraph.New([]workgraph.Unit{
		{ID: "compute", RequiredCapabilities: []string{"compute"}, Payload: "compute 2+2"},
		{ID: "format", RequiredCapabilities: []string{"format"}, DependsOn: []workgraph.UnitID{"compute"}},
	})
	require.NoError(t, err)
	return g
}

func TestSubmitRequest_Constraints(t *testing.T) {
	eng := newMockEngine()
	svc := NewService(eng)

	_, out, err := svc.SubmitRequest(context.Background(), nil, SubmitRequestInput{
		Payload:    "compute 2+2",
		Deadline:   "3s",
		MaxRetries: workgraph.Retries(1),
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", out.RequestID)
	assert.Equal(t, "queued", out.Status)
	assert.Nil(t, out.Report)
	assert.Equal(t, 3*time.Second, eng.lastCons.Deadline)
	assert.Equal(t, 1, eng.lastCons.RetriesOr(9))
}

func TestSubmitRequest_InvalidDeadline(t *testing.T) {
	svc := NewService(newMockEngine())

	for _, d := range []string{"soon", "-1s", "0s"} {
		_, _, err := svc.SubmitRequest(context.Background(), nil, SubmitRequestInput{Payload: "x", Deadline: d})
		require.Error(t, err, d)
		assert.Contains(t, err.Error(), "invalid deadline")
	}
}

func TestSubmitRequest_EngineError(t *testing.T) {
	eng := newMockEngine()
	eng.submitFn = func(string, int, workgraph.Constraints) (string, error) {
		return "", orchestrator.ErrNotReady
	}
	svc := NewService(eng)

	_, _, err := svc.SubmitRequest(context.Background(), nil, SubmitRequestInput{Payload: "x"})
	assert.True(t, errors.Is(err, orchestrator.ErrNotReady))
}

func TestSubmitRequest_Wait(t *testing.T) {
	eng := newMockEngine()
	finished := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	eng.reports["req-1"] = orchestrator.StatusReport{
		RequestID:  "req-1",
		Status:     orchestrator.StatusCompleted,
		Output:     "Result: 4",
		Progress:   orchestrator.Progress{Total: 2, Succeeded: 2},
		FinishedAt: finished,
	}
	svc := NewService(eng)

	_, out, err := svc.SubmitRequest(context.Background(), nil, SubmitRequestInput{Payload: "x", Wait: true})
	require.NoError(t, err)
	assert.Equal(t, "completed", out.Status)
	require.NotNil(t, out.Report)
	assert.Equal(t, "Result: 4", out.Report.Output)
	assert.Equal(t, 2, out.Report.Progress.Succeeded)
	assert.Equal(t, "2026-01-02T03:04:05Z", out.Report.FinishedAt)
}

func TestGetStatus(t *testing.T) {
	eng := newMockEngine()
	eng.reports["r"] = orchestrator.StatusReport{
		RequestID: "r",
		Status:    orchestrator.StatusPartial,
		Missing:   []workgraph.UnitID{"format"},
		Error:     "aggregation incomplete",
	}
	svc := NewService(eng)

	_, out, err := svc.GetStatus(context.Background(), nil, GetStatusInput{RequestID: "r"})
	require.NoError(t, err)
	assert.Equal(t, "partial", out.Report.Status)
	assert.Equal(t, []string{"format"}, out.Report.Missing)
	assert.Empty(t, out.Report.FinishedAt)

	_, _, err = svc.GetStatus(context.Background(), nil, GetStatusInput{RequestID: "missing"})
	assert.ErrorIs(t, err, orchestrator.ErrNotFound)
}

func TestListRequests(t *testing.T) {
	eng := newMockEngine()
	var got orchestrator.ListFilter
	eng.listFn = func(f orchestrator.ListFilter) (*orchestrator.ListResult, error) {
		got = f
		return &orchestrator.ListResult{
			Requests:      []orchestrator.StatusReport{{RequestID: "a", Status: orchestrator.StatusCompleted}},
			TotalSize:     3,
			NextPageToken: "a",
		}, nil
	}
	svc := NewService(eng)

	_, out, err := svc.ListRequests(context.Background(), nil, ListRequestsInput{Status: "completed", PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.PageSize)
	require.Len(t, out.Requests, 1)
	assert.Equal(t, "a", out.Requests[0].RequestID)
	assert.Equal(t, 3, out.TotalSize)
	assert.Equal(t, "a", out.NextPageToken)
}

func TestListRequests_UnknownStatus(t *testing.T) {
	svc := NewService(newMockEngine())

	_, _, err := svc.ListRequests(context.Background(), nil, ListRequestsInput{Status: "done"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")
}

func TestCancelRequest(t *testing.T) {
	eng := newMockEngine()
	eng.reports["r"] = orchestrator.StatusReport{RequestID: "r", Status: orchestrator.StatusQueued}
	svc := NewService(eng)

	_, out, err := svc.CancelRequest(context.Background(), nil, CancelRequestInput{RequestID: "r"})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", out.Status)
	assert.Equal(t, []string{"r"}, eng.cancelled)

	_, _, err = svc.CancelRequest(context.Background(), nil, CancelRequestInput{RequestID: "nope"})
	assert.ErrorIs(t, err, orchestrator.ErrNotFound)
}

func TestPlanRequest(t *testing.T) {
	eng := newMockEngine()
	eng.graph = twoStepGraph(t)
	svc := NewService(eng)

	_, out, err := svc.PlanRequest(context.Background(), nil, PlanRequestInput{Payload: "compute 2+2 then format as text"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"compute"}, {"format"}}, out.Levels)
	assert.Equal(t, []string{"compute", "format"}, out.CriticalPath)
	require.Len(t, out.Units, 2)
	assert.Equal(t, []string{"compute"}, out.Units[1].DependsOn)
	assert.Empty(t, out.Units[0].Status)
	assert.Contains(t, out.Mermaid, "N0 --> N1")

	_, _, err = svc.PlanRequest(context.Background(), nil, PlanRequestInput{})
	assert.ErrorIs(t, err, orchestrator.ErrEmptyRequest)
}

func TestGetGraph_ColoursStatuses(t *testing.T) {
	eng := newMockEngine()
	eng.graph = twoStepGraph(t)
	eng.reports["r"] = orchestrator.StatusReport{
		RequestID: "r",
		Status:    orchestrator.StatusPartial,
		Units: []orchestrator.UnitReport{
			{ID: "compute", Status: "succeeded"},
			{ID: "format", Status: "failed"},
		},
	}
	svc := NewService(eng)

	_, out, err := svc.GetGraph(context.Background(), nil, GetGraphInput{RequestID: "r"})
	require.NoError(t, err)
	assert.Equal(t, "succeeded", out.Units[0].Status)
	assert.Equal(t, "failed", out.Units[1].Status)
	assert.Contains(t, out.Mermaid, "class N1 failed")

	_, _, err = svc.GetGraph(context.Background(), nil, GetGraphInput{RequestID: "other"})
	assert.ErrorIs(t, err, orchestrator.ErrNotFound)
}
