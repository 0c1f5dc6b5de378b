package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/orchestra/internal/capability"
	"github.com/dusk-indust/orchestra/internal/mcptools"
)

type serveMCPOptions struct {
	*rootOptions
	HTTPAddr string
}

func newServeMCPCommand(root *rootOptions) *cobra.Command {
	opts := &serveMCPOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "serve-mcp",
		Short: "Run the engine behind an MCP server",
		Long: `Serve-mcp bootstraps the engine and exposes submit_request, get_status,
list_requests, cancel_request, plan_request and get_graph as MCP tools. The
default transport is stdio; --http serves streamable HTTP instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveMCP(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.HTTPAddr, "http", "", "serve streamable HTTP on this address instead of stdio")

	return cmd
}

func serveMCP(cmd *cobra.Command, opts *serveMCPOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	sys, err := assemble(ctx, cfg, opts.logger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer sys.Close()
	if _, err := sys.bootstrap(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	g := sys.start(runCtx)
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	server := mcptools.NewMCPServer(mcptools.NewService(sys.engine))
	if opts.HTTPAddr != "" {
		sys.logger.Info("serving MCP over HTTP", "addr", opts.HTTPAddr)
		return mcptools.RunHTTP(ctx, server, opts.HTTPAddr)
	}
	return mcptools.RunStdio(ctx, server)
}

type serveWorkerOptions struct {
	*rootOptions
	Addr         string
	Name         string
	Capabilities []string
}

func newServeWorkerCommand(root *rootOptions) *cobra.Command {
	opts := &serveWorkerOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "serve-worker",
		Short: "Expose the built-in capabilities as an A2A agent",
		Long: `Serve-worker publishes an agent card at /.well-known/agent-card.json and
answers message/send with the built-in echo, compute and format
capabilities. Point another orchestra at it with a worker of provider a2a
or an agents endpoint.

Example:
  orchestra serve-worker --addr :9100 --capabilities compute,format`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveWorker(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":9100", "listen address")
	cmd.Flags().StringVar(&opts.Name, "name", "orchestra-worker", "agent name")
	cmd.Flags().StringSliceVar(&opts.Capabilities, "capabilities", nil, "capabilities to advertise (default: all built-in)")

	return cmd
}

func serveWorker(cmd *cobra.Command, opts *serveWorkerOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := opts.logger(cmd.ErrOrStderr())
	provider := capability.Builtin()
	caps := opts.Capabilities
	if len(caps) == 0 {
		caps = provider.Capabilities()
	}
	agent := capability.NewAgent(opts.Name, version, provider, caps, logger)
	srv := agent.Server()
	addr, err := srv.Start(ctx, opts.Addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "serving %s at http://%s\n", opts.Name, addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
