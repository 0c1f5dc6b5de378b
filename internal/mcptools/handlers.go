package mcptools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/orchestra/internal/export"
	"github.com/dusk-indust/orchestra/internal/orchestrator"
	"github.com/dusk-indust/orchestra/internal/workgraph"
)

// Engine is the part of orchestrator.Engine the tools drive.
type Engine interface {
	Submit(payload string, priority int, constraints workgraph.Constraints) (string, error)
	GetStatus(id string) (orchestrator.StatusReport, error)
	List(filter orchestrator.ListFilter) (*orchestrator.ListResult, error)
	Cancel(id string) error
	Wait(ctx context.Context, id string) (orchestrator.StatusReport, error)
	Plan(ctx context.Context, payload string, constraints workgraph.Constraints) (*workgraph.Graph, error)
	Graph(ctx context.Context, id string) (*workgraph.Graph, error)
}

var _ Engine = (*orchestrator.Engine)(nil)

// Service handles MCP tool calls against an Engine.
type Service struct {
	engine Engine
}

// NewService creates a Service.
func NewService(engine Engine) *Service {
	return &Service{engine: engine}
}

// SubmitRequest queues a request and optionally waits for it to finish.
func (s *Service) SubmitRequest(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SubmitRequestInput,
) (*mcp.CallToolResult, SubmitRequestOutput, error) {
	var cons workgraph.Constraints
	if input.Deadline != "" {
		d, err := time.ParseDuration(input.Deadline)
		if err != nil || d <= 0 {
			return nil, SubmitRequestOutput{}, fmt.Errorf("invalid deadline %q", input.Deadline)
		}
		cons.Deadline = d
	}
	if input.MaxRetries != nil {
		cons.MaxRetries = workgraph.Retries(*input.MaxRetries)
	}

	id, err := s.engine.Submit(input.Payload, input.Priority, cons)
	if err != nil {
		return nil, SubmitRequestOutput{}, err
	}
	out := SubmitRequestOutput{RequestID: id, Status: string(orchestrator.StatusQueued)}
	if !input.Wait {
		return nil, out, nil
	}

	rep, err := s.engine.Wait(ctx, id)
	if err != nil {
		return nil, out, fmt.Errorf("wait for %s: %w", id, err)
	}
	wire := toWire(rep)
	out.Status = wire.Status
	out.Report = &wire
	return nil, out, nil
}

// GetStatus returns the current report of a request.
func (s *Service) GetStatus(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input GetStatusInput,
) (*mcp.CallToolResult, GetStatusOutput, error) {
	rep, err := s.engine.GetStatus(input.RequestID)
	if err != nil {
		return nil, GetStatusOutput{}, err
	}
	return nil, GetStatusOutput{Report: toWire(rep)}, nil
}

// ListRequests pages through submitted requests.
func (s *Service) ListRequests(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ListRequestsInput,
) (*mcp.CallToolResult, ListRequestsOutput, error) {
	if input.Status != "" && !knownStatus(input.Status) {
		return nil, ListRequestsOutput{}, fmt.Errorf("unknown status %q (want one of %s)", input.Status, strings.Join(statusNames, ", "))
	}
	res, err := s.engine.List(orchestrator.ListFilter{
		Status:    orchestrator.Status(input.Status),
		PageSize:  input.PageSize,
		PageToken: input.PageToken,
	})
	if err != nil {
		return nil, ListRequestsOutput{}, err
	}
	out := ListRequestsOutput{
		Requests:      make([]RequestReport, 0, len(res.Requests)),
		TotalSize:     res.TotalSize,
		NextPageToken: res.NextPageToken,
	}
	for _, r := range res.Requests {
		out.Requests = append(out.Requests, toWire(r))
	}
	return nil, out, nil
}

// CancelRequest cancels a request and reports its status afterwards.
func (s *Service) CancelRequest(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input CancelRequestInput,
) (*mcp.CallToolResult, CancelRequestOutput, error) {
	if err := s.engine.Cancel(input.RequestID); err != nil {
		return nil, CancelRequestOutput{}, err
	}
	rep, err := s.engine.GetStatus(input.RequestID)
	if err != nil {
		return nil, CancelRequestOutput{}, err
	}
	return nil, CancelRequestOutput{RequestID: rep.RequestID, Status: string(rep.Status)}, nil
}

// PlanRequest decomposes a payload and describes the graph without running it.
func (s *Service) PlanRequest(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input PlanRequestInput,
) (*mcp.CallToolResult, GraphOutput, error) {
	g, err := s.engine.Plan(ctx, input.Payload, workgraph.Constraints{})
	if err != nil {
		return nil, GraphOutput{}, err
	}
	return nil, describe(g, nil), nil
}

// GetGraph describes the archived graph of a request, coloured by unit status.
func (s *Service) GetGraph(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetGraphInput,
) (*mcp.CallToolResult, GraphOutput, error) {
	g, err := s.engine.Graph(ctx, input.RequestID)
	if err != nil {
		return nil, GraphOutput{}, err
	}
	rep, err := s.engine.GetStatus(input.RequestID)
	if err != nil {
		return nil, GraphOutput{}, err
	}
	statuses := make(map[workgraph.UnitID]string, len(rep.Units))
	for _, u := range rep.Units {
		statuses[u.ID] = u.Status
	}
	return nil, describe(g, statuses), nil
}

func describe(g *workgraph.Graph, statuses map[workgraph.UnitID]string) GraphOutput {
	out := GraphOutput{Mermaid: export.Mermaid(g, statuses)}
	for _, u := range g.Units() {
		out.Units = append(out.Units, GraphUnit{
			ID:         string(u.ID),
			Capability: u.Capability(),
			Payload:    u.Payload,
			DependsOn:  strs(u.DependsOn),
			Status:     statuses[u.ID],
		})
	}
	for _, lvl := range g.ExecutionLevels() {
		out.Levels = append(out.Levels, strs(lvl))
	}
	path, _ := g.CriticalPath()
	out.CriticalPath = strs(path)
	return out
}

func toWire(r orchestrator.StatusReport) RequestReport {
	out := RequestReport{
		RequestID:   r.RequestID,
		Payload:     r.Payload,
		Priority:    r.Priority,
		Status:      string(r.Status),
		Progress:    r.Progress,
		Units:       r.Units,
		Output:      r.Output,
		Missing:     strs(r.Missing),
		Error:       r.Error,
		SubmittedAt: r.SubmittedAt.Format(time.RFC3339Nano),
	}
	if !r.FinishedAt.IsZero() {
		out.FinishedAt = r.FinishedAt.Format(time.RFC3339Nano)
	}
	return out
}

func strs(ids []workgraph.UnitID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

var statusNames = []string{
	string(orchestrator.StatusQueued), string(orchestrator.StatusDecomposing),
	string(orchestrator.StatusExecuting), string(orchestrator.StatusCompleted),
	string(orchestrator.StatusPartial), string(orchestrator.StatusFailed),
	string(orchestrator.StatusCancelled),
}

func knownStatus(s string) bool {
	for _, n := range statusNames {
		if n == s {
			return true
		}
	}
	return false
}
