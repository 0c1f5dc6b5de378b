package mcptools

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewMCPServer creates an MCP server with the request tools registered.
func NewMCPServer(svc *Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "orchestra",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "submit_request",
		Description: "Submit a natural-language request. It is decomposed into a dependency graph of work units and executed on the worker pool. Set wait to block until it finishes.",
	}, svc.SubmitRequest)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_status",
		Description: "Get the status of a request: overall state, per-unit progress, the aggregated output and any error.",
	}, svc.GetStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_requests",
		Description: "List submitted requests in submission order, optionally filtered by status and paginated.",
	}, svc.ListRequests)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_request",
		Description: "Cancel a request. Queued requests never start; executing requests stop dispatching new units.",
	}, svc.CancelRequest)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "plan_request",
		Description: "Decompose a request without executing it. Returns execution levels, the critical path and a Mermaid diagram.",
	}, svc.PlanRequest)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_graph",
		Description: "Return the archived work graph of a submitted request with unit statuses and a Mermaid diagram.",
	}, svc.GetGraph)

	return server
}

// RunStdio runs server on the stdio transport, blocking until stdin is
// closed or ctx is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves server over streamable HTTP on addr until ctx is cancelled.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
