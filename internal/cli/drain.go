package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/trace"
)

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	return newDrainCommand(&RunOptions{RootOptions: rootOpts})
}

func newDrainCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain <plan>",
		Short: "Enqueue every step of a plan and drain the FIFO queue",
		Long: `Enqueue each step of a plan as an independent unit, in definition
order, and run one drain cycle. Next keys are ignored.

Example:
  tandem drain ./plans/pipeline.yaml
  tandem drain --format json --db ./tandem.db ./plans/pipeline.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executePlan(opts, args[0], trace.EngineQueue, cmd)
		},
	}
	addRunFlags(cmd, opts)

	return cmd
}
