package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/orchestra/internal/config"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	Verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "orchestra",
		Short: "Decompose requests into work graphs and run them on capability workers",
		Long: `orchestra turns a natural-language request into a dependency graph of work
units, schedules the units on a pool of capability workers with retries and
timeouts, and aggregates their outputs. Feedback controllers tune parallelism,
worker eligibility and the retry budget from the outcome log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to orchestra.yml (default: ./orchestra.yml if present)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging and unit progress")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newPlanCommand(opts))
	cmd.AddCommand(newServeMCPCommand(opts))
	cmd.AddCommand(newServeWorkerCommand(opts))
	cmd.AddCommand(newOutcomesCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.ConfigPath != "" {
		return config.LoadFile(o.ConfigPath)
	}
	return config.Load(".")
}

// logger writes text logs to w. Commands pass stderr so stdout stays clean
// for results and the MCP stdio transport.
func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
