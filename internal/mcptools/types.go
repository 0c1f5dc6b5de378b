package mcptools

import "github.com/dusk-indust/orchestra/internal/orchestrator"

// --- MCP tool types ---
// These tools are exposed when the binary runs as an MCP server
// (orchestra serve-mcp). They let an assistant submit work and follow it
// without shelling out to the CLI.

// SubmitRequestInput is the input for the submit_request tool.
type SubmitRequestInput struct {
	Payload    string `json:"payload" jsonschema:"natural-language request to decompose and execute"`
	Priority   int    `json:"priority,omitempty" jsonschema:"higher values start first (default 0)"`
	Deadline   string `json:"deadline,omitempty" jsonschema:"per-unit timeout as a Go duration, e.g. 5s"`
	MaxRetries *int   `json:"maxRetries,omitempty" jsonschema:"retries per unit after the first attempt"`
	Wait       bool   `json:"wait,omitempty" jsonschema:"block until the request is terminal"`
}

// SubmitRequestOutput is the result of the submit_request tool. Report is
// set only when Wait was requested.
type SubmitRequestOutput struct {
	RequestID string         `json:"requestId"`
	Status    string         `json:"status"`
	Report    *RequestReport `json:"report,omitempty"`
}

// GetStatusInput is the input for the get_status tool.
type GetStatusInput struct {
	RequestID string `json:"requestId" jsonschema:"id returned by submit_request"`
}

// GetStatusOutput is the result of the get_status tool.
type GetStatusOutput struct {
	Report RequestReport `json:"report"`
}

// ListRequestsInput is the input for the list_requests tool.
type ListRequestsInput struct {
	Status    string `json:"status,omitempty" jsonschema:"filter by status: queued, decomposing, executing, completed, partial, failed, cancelled"`
	PageSize  int    `json:"pageSize,omitempty" jsonschema:"maximum number of requests to return (default all)"`
	PageToken string `json:"pageToken,omitempty" jsonschema:"nextPageToken from a previous call"`
}

// ListRequestsOutput is the result of the list_requests tool.
type ListRequestsOutput struct {
	Requests      []RequestReport `json:"requests"`
	TotalSize     int             `json:"totalSize"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

// CancelRequestInput is the input for the cancel_request tool.
type CancelRequestInput struct {
	RequestID string `json:"requestId" jsonschema:"id returned by submit_request"`
}

// CancelRequestOutput is the result of the cancel_request tool.
type CancelRequestOutput struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

// PlanRequestInput is the input for the plan_request tool.
type PlanRequestInput struct {
	Payload string `json:"payload" jsonschema:"request to decompose without executing"`
}

// GetGraphInput is the input for the get_graph tool.
type GetGraphInput struct {
	RequestID string `json:"requestId" jsonschema:"id returned by submit_request"`
}

// GraphOutput describes a work graph. It is the result of both plan_request
// and get_graph.
type GraphOutput struct {
	Units        []GraphUnit `json:"units"`
	Levels       [][]string  `json:"levels"`
	CriticalPath []string    `json:"criticalPath"`
	Mermaid      string      `json:"mermaid"`
}

// GraphUnit is one node of a GraphOutput.
type GraphUnit struct {
	ID         string   `json:"id"`
	Capability string   `json:"capability"`
	Payload    string   `json:"payload,omitempty"`
	DependsOn  []string `json:"dependsOn,omitempty"`
	Status     string   `json:"status,omitempty"`
}

// RequestReport is the wire form of orchestrator.StatusReport.
type RequestReport struct {
	RequestID   string                    `json:"requestId"`
	Payload     string                    `json:"payload"`
	Priority    int                       `json:"priority"`
	Status      string                    `json:"status"`
	Progress    orchestrator.Progress     `json:"progress"`
	Units       []orchestrator.UnitReport `json:"units,omitempty"`
	Output      string                    `json:"output,omitempty"`
	Missing     []string                  `json:"missing,omitempty"`
	Error       string                    `json:"error,omitempty"`
	SubmittedAt string                    `json:"submittedAt"`
	FinishedAt  string                    `json:"finishedAt,omitempty"`
}
