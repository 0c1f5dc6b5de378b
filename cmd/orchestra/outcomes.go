package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/orchestra/internal/config"
	"github.com/dusk-indust/orchestra/internal/export"
	"github.com/dusk-indust/orchestra/internal/outcome"
)

type outcomesOptions struct {
	*rootOptions
	Database string
	Since    int64
	Follow   bool
	Poll     time.Duration
}

func newOutcomesCommand(root *rootOptions) *cobra.Command {
	opts := &outcomesOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "Export the SQLite outcome log as JSON Lines",
		Long: `Outcomes prints every recorded execution attempt after --since as one JSON
object per line. With --follow it keeps polling for new outcomes until
interrupted.

Example:
  orchestra outcomes --db outcomes.db --since 120
  orchestra outcomes --follow | jq 'select(.success | not)'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exportOutcomes(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite outcome log (default: outcomes.path)")
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "only outcomes with a greater sequence number")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "keep polling for new outcomes")
	cmd.Flags().DurationVar(&opts.Poll, "poll", time.Second, "poll interval for --follow")

	return cmd
}

func exportOutcomes(cmd *cobra.Command, opts *outcomesOptions) error {
	path := opts.Database
	if path == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		if cfg.Outcomes.Driver != config.DriverSQLite {
			return errors.New("outcomes: no SQLite outcome log configured; pass --db")
		}
		path = cfg.Outcomes.Path
	}
	log, err := outcome.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return streamOutcomes(ctx, log, opts.Since, opts.Follow, opts.Poll, cmd)
}

func streamOutcomes(ctx context.Context, log outcome.Log, seq int64, follow bool, poll time.Duration, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	for {
		next, err := export.StreamOutcomes(ctx, log, seq, out)
		if err != nil {
			return err
		}
		seq = next
		if !follow {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(poll):
		}
	}
}
