package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/lifecycle"
	"github.com/roach88/tandem/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Stage    string // optional - filter to one lifecycle stage
}

// TraceResult holds a journaled run and its events.
type TraceResult struct {
	Run    trace.Run     `json:"run"`
	Events []trace.Event `json:"events"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [run-id]",
		Short: "Show a recorded run",
		Long: `Show a run recorded with --db, or list every recorded run when no
run ID is given.

Examples:
  tandem trace --db ./tandem.db
  tandem trace --db ./tandem.db 0190f5c4-7d1e-7cc2-9a55-3f1c2b7e4a10
  tandem trace --db ./tandem.db --stage before_step --format json <run-id>`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runListRuns(opts, cmd)
			}
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "filter to one stage (before_start|before_step|after_step|after_end)")

	return cmd
}

func openJournal(path string, formatter *OutputFormatter) (*trace.Store, error) {
	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("journal not found: %s", path), nil)
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	st, err := trace.Open(path)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func runTrace(opts *TraceOptions, runID string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := opts.formatter(cmd)

	var stage lifecycle.Stage
	if opts.Stage != "" {
		s, ok := lifecycle.ParseStage(opts.Stage)
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown stage %q", opts.Stage))
		}
		stage = s
	}

	st, err := openJournal(opts.Database, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.ReadRun(ctx, runID)
	if errors.Is(err, trace.ErrRunNotFound) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("no run %s in %s", runID, opts.Database), nil)
		return WrapExitError(ExitCommandError, "run not found", err)
	}
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	var events []trace.Event
	if stage != 0 {
		events, err = st.ReadStage(ctx, runID, stage)
	} else {
		events, err = st.ReadEvents(ctx, runID)
	}
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}
	if events == nil {
		events = []trace.Event{}
	}

	result := TraceResult{Run: run, Events: events}
	return formatter.Emit(result, func(w io.Writer) error {
		fmt.Fprintf(w, "Run: %s\n", run.ID)
		fmt.Fprintf(w, "Plan: %s (%s)\n", run.Plan, run.Engine)
		fmt.Fprintf(w, "Status: %s\n", run.Status)
		if run.Error != "" {
			fmt.Fprintf(w, "Error: %s\n", run.Error)
		}
		fmt.Fprintf(w, "Steps: %d\n", run.Steps)
		fmt.Fprintf(w, "Result: %d\n", run.Result)
		fmt.Fprintf(w, "Started: %s\n", run.StartedAt.Format(time.RFC3339Nano))
		fmt.Fprintf(w, "Duration: %s\n", run.FinishedAt.Sub(run.StartedAt))
		fmt.Fprintln(w)
		return trace.WriteText(w, events)
	})
}

func runListRuns(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := opts.formatter(cmd)

	st, err := openJournal(opts.Database, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	if runs == nil {
		runs = []trace.Run{}
	}

	return formatter.Emit(runs, func(w io.Writer) error {
		if len(runs) == 0 {
			_, err := fmt.Fprintf(w, "No runs recorded in %s\n", opts.Database)
			return err
		}
		for _, r := range runs {
			fmt.Fprintf(w, "%s  %-8s %-5s %s\n", r.ID, r.Engine, r.Status, r.Plan)
		}
		return nil
	})
}
