package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/orchestra/internal/export"
	"github.com/dusk-indust/orchestra/internal/workgraph"
)

type planOptions struct {
	*rootOptions
	Mermaid bool
	JSON    bool
}

func newPlanCommand(root *rootOptions) *cobra.Command {
	opts := &planOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "plan <request>",
		Short: "Decompose a request and print its work graph without executing it",
		Long: `Plan decomposes the request and prints its execution levels, the critical
path and an estimate of the completion time. Nothing is dispatched.

Example:
  orchestra plan "compute 2+2 then format as text"
  orchestra plan --mermaid "fetch a and fetch b then summarize" > plan.mmd`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return planRequest(cmd, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().BoolVar(&opts.Mermaid, "mermaid", false, "print a Mermaid diagram")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the graph as JSON")
	cmd.MarkFlagsMutuallyExclusive("mermaid", "json")

	return cmd
}

func planRequest(cmd *cobra.Command, opts *planOptions, payload string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	sys, err := assemble(cmd.Context(), cfg, opts.logger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer sys.Close()

	g, err := sys.engine.Plan(cmd.Context(), payload, workgraph.Constraints{})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case opts.Mermaid:
		_, err = io.WriteString(out, export.Mermaid(g, nil))
		return err
	case opts.JSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(export.ExportGraph("", g))
	}

	for i, lvl := range g.ExecutionLevels() {
		fmt.Fprintf(out, "level %d:\n", i)
		for _, id := range lvl {
			u, _ := g.Unit(id)
			fmt.Fprintf(out, "  %s [%s]", id, u.Capability())
			if deps := g.Dependencies(id); len(deps) > 0 {
				fmt.Fprintf(out, " <- %s", joinUnits(deps))
			}
			fmt.Fprintln(out)
		}
	}
	path, weight := g.CriticalPath()
	fmt.Fprintf(out, "critical path: %s (weight %g)\n", strings.Join(unitNames(path), " -> "), weight)
	fmt.Fprintf(out, "estimated completion: %s at %s per unit\n", g.EstimateCompletion(cfg.Controllers.Targets.UnitLatency), cfg.Controllers.Targets.UnitLatency)
	return nil
}

func unitNames(ids []workgraph.UnitID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
