package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/orchestra/internal/orchestrator"
	"github.com/dusk-indust/orchestra/internal/workgraph"
)

// errRequestFailed is returned when a request ends failed or cancelled.
var errRequestFailed = errors.New("request did not complete")

type runOptions struct {
	*rootOptions
	Priority int
	Deadline time.Duration
	Retries  int
	Timeout  time.Duration
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Bootstrap, decompose and execute one request",
		Long: `Run bootstraps the workers, decomposes the request, executes every unit and
prints the aggregated output. A partial result is printed along with the
units that are missing from it.

Example:
  orchestra run "compute 2+2 then format as text"
  orchestra run --retries 0 --deadline 2s "fetch the report and echo done"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "request priority")
	cmd.Flags().DurationVar(&opts.Deadline, "deadline", 0, "per-unit timeout (default: scheduler.unitTimeout)")
	cmd.Flags().IntVar(&opts.Retries, "retries", -1, "retries per unit (default: current retry budget)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "give up waiting after this long")

	return cmd
}

func runRequest(cmd *cobra.Command, opts *runOptions, payload string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger(cmd.ErrOrStderr())
	sys, err := assemble(ctx, cfg, logger)
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
	if opts.Verbose {
		go printProgress(cmd.ErrOrStderr(), sys.engine.Progress())
	}

	cons := workgraph.Constraints{Deadline: opts.Deadline}
	if opts.Retries >= 0 {
		cons.MaxRetries = workgraph.Retries(opts.Retries)
	}
	id, err := sys.engine.Submit(payload, opts.Priority, cons)
	if err != nil {
		return err
	}

	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancelWait context.CancelFunc
		waitCtx, cancelWait = context.WithTimeout(ctx, opts.Timeout)
		defer cancelWait()
	}
	rep, err := sys.engine.Wait(waitCtx, id)
	if err != nil {
		_ = sys.engine.Cancel(id)
		return fmt.Errorf("request %s: %w", id, err)
	}
	return printReport(cmd.OutOrStdout(), rep)
}

func printProgress(w io.Writer, events <-chan orchestrator.ProgressEvent) {
	for ev := range events {
		fmt.Fprintln(w, orchestrator.FormatProgress(ev))
	}
}

func printReport(w io.Writer, rep orchestrator.StatusReport) error {
	switch rep.Status {
	case orchestrator.StatusCompleted:
		fmt.Fprintln(w, rep.Output)
		return nil
	case orchestrator.StatusPartial:
		fmt.Fprintln(w, rep.Output)
		fmt.Fprintf(w, "\npartial result: missing %s\n", joinUnits(rep.Missing))
		for _, u := range rep.Units {
			if u.Error != "" {
				fmt.Fprintf(w, "  %s %s: %s\n", u.ID, u.Status, u.Error)
			}
		}
		return nil
	default:
		msg := rep.Error
		if msg == "" {
			msg = string(rep.Status)
		}
		return fmt.Errorf("%w: %s %s: %s", errRequestFailed, rep.RequestID, rep.Status, msg)
	}
}

func joinUnits(ids []workgraph.UnitID) string {
	return strings.Join(unitNames(ids), ", ")
}
