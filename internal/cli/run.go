package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/lifecycle"
	"github.com/roach88/tandem/internal/metrics"
	"github.com/roach88/tandem/internal/plan"
	"github.com/roach88/tandem/internal/queue"
	"github.com/roach88/tandem/internal/sequence"
	"github.com/roach88/tandem/internal/trace"
)

// defaultMaxSteps bounds cyclic plans that never reach their end step.
const defaultMaxSteps = 10000

// RunOptions holds flags for the run and drain commands.
type RunOptions struct {
	*RootOptions
	Database    string
	Timeout     time.Duration
	MetricsFile string
	MaxSteps    int

	// IDGenerator overrides the run ID generator (for testing).
	// If nil, defaults to trace.UUIDv7Generator.
	IDGenerator trace.IDGenerator
}

// RunResult is the outcome of one run or drain.
type RunResult struct {
	RunID  string        `json:"run_id"`
	Plan   string        `json:"plan"`
	Engine string        `json:"engine"`
	Status string        `json:"status"`
	Error  string        `json:"error,omitempty"`
	Steps  int           `json:"steps"`
	Result int64         `json:"result"`
	Events []trace.Event `json:"events"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Traverse a plan as a keyed action sequence",
		Long: `Build a sequence from a plan and traverse it from start to end,
following each step's next key.

Prints the lifecycle trace and the final accumulator value.

Example:
  tandem run ./plans/accumulate.yaml
  tandem run --db ./tandem.db --timeout 10s ./plans/accumulate.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executePlan(opts, args[0], trace.EngineSequence, cmd)
		},
	}
	addRunFlags(cmd, opts)
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", defaultMaxSteps, "abort a traversal after this many steps (0 = no limit)")

	return cmd
}

func addRunFlags(cmd *cobra.Command, opts *RunOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this SQLite journal")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "abort the run after this long (0 = no limit)")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics in text format to this file")
}

// executor runs a prepared plan.
type executor func(ctx context.Context) error

func executePlan(opts *RunOptions, path, engine string, cmd *cobra.Command) error {
	logger := opts.newLogger(cmd.ErrOrStderr())
	formatter := opts.formatter(cmd)

	p, err := plan.Load(path)
	if err != nil {
		code := ErrCodeLoadFailed
		if errors.Is(err, os.ErrNotExist) {
			code = ErrCodeNotFound
		}
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load plan", err)
	}
	formatter.VerboseLog("Loaded plan %q with %d step(s) from %s", p.Name, len(p.Steps), path)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ids := opts.IDGenerator
	if ids == nil {
		ids = trace.UUIDv7Generator{}
	}
	rec := trace.NewRecorder(trace.WithIDGenerator(ids))
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	env := plan.NewEnv(logger)

	var exec executor
	if engine == trace.EngineQueue {
		exec, err = queueExecutor(p, env, rec, collector, logger)
	} else {
		exec, err = sequenceExecutor(ctx, p, env, rec, collector, logger, opts.MaxSteps)
	}
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid plan", err)
	}

	logger.Info("run starting", "run_id", rec.RunID(), "plan", p.Name, "engine", engine)
	started := time.Now().UTC()
	runErr := exec(ctx)
	finished := time.Now().UTC()

	events := rec.Events()
	result := RunResult{
		RunID:  rec.RunID(),
		Plan:   p.Name,
		Engine: engine,
		Status: trace.StatusOK,
		Steps:  countStage(events, lifecycle.BeforeStep),
		Result: env.Result(),
		Events: events,
	}
	if runErr != nil {
		result.Status = trace.StatusError
		result.Error = runErr.Error()
		logger.Error("run failed", "run_id", result.RunID, "steps", result.Steps, "error", runErr)
	} else {
		logger.Info("run finished", "run_id", result.RunID, "steps", result.Steps, "result", result.Result)
	}

	if opts.Database != "" {
		// Journal even when the run was cancelled.
		if err := journal(context.WithoutCancel(ctx), opts.Database, result, started, finished); err != nil {
			_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to record run", err)
		}
		formatter.VerboseLog("Recorded run %s in %s", result.RunID, opts.Database)
	}

	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, reg); err != nil {
			return WrapExitError(ExitCommandError, "failed to write metrics", err)
		}
	}

	text := func(w io.Writer) error { return writeRunText(w, result) }
	if runErr != nil {
		if err := formatter.Fail(ErrCodeRunFailed, runErr.Error(), result, text); err != nil {
			return err
		}
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	return formatter.Emit(result, text)
}

func sequenceExecutor(ctx context.Context, p *plan.Plan, env *plan.Env, rec *trace.Recorder, col *metrics.Collector, logger *slog.Logger, maxSteps int) (executor, error) {
	s, err := plan.Build(ctx, p, env,
		sequence.WithLogger[string](logger),
		sequence.WithMaxSteps[string](maxSteps),
	)
	if err != nil {
		return nil, err
	}
	trace.AttachSequence(rec, s)
	metrics.ObserveSequence(col, s)
	return s.Execute, nil
}

func queueExecutor(p *plan.Plan, env *plan.Env, rec *trace.Recorder, col *metrics.Collector, logger *slog.Logger) (executor, error) {
	units, err := plan.Units(p, env)
	if err != nil {
		return nil, err
	}
	q := queue.NewFifo(queue.WithLogger(logger))
	rec.AttachQueue(q)
	col.ObserveQueue(q)
	for _, u := range units {
		if err := q.Add(u); err != nil {
			return nil, err
		}
	}
	return q.Execute, nil
}

func journal(ctx context.Context, path string, r RunResult, started, finished time.Time) error {
	st, err := trace.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	run := trace.Run{
		ID:         r.RunID,
		Plan:       r.Plan,
		Engine:     r.Engine,
		Status:     r.Status,
		Error:      r.Error,
		Result:     r.Result,
		Steps:      r.Steps,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err := st.WriteRun(ctx, run); err != nil {
		return err
	}
	return st.WriteEvents(ctx, run.ID, r.Events)
}

func countStage(events []trace.Event, stage lifecycle.Stage) int {
	n := 0
	for _, e := range events {
		if e.Stage == stage {
			n++
		}
	}
	return n
}

func writeRunText(w io.Writer, r RunResult) error {
	if err := trace.WriteText(w, r.Events); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "run: %s\nplan: %s\nengine: %s\nstatus: %s\nsteps: %d\nresult: %d\n",
		r.RunID, r.Plan, r.Engine, r.Status, r.Steps, r.Result)
	return err
}
