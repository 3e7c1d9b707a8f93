package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/hubstore/internal/node"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	From  uint64
	Limit int
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Read the event log",
		Long: `Print committed hub events in id order, starting at --from.

Examples:
  hubstore events
  hubstore events --from 120394812 --limit 10 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.From, "from", 0, "first event id to return")
	cmd.Flags().IntVar(&opts.Limit, "limit", 1000, "maximum events to return (up to 10000)")

	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	return withNode(cmd, opts.RootOptions, func(ctx context.Context, n *node.Node) error {
		evs, err := n.Events().GetEvents(ctx, opts.From, opts.Limit)
		if err != nil {
			return commandError(formatter, "failed to read events", err)
		}
		return formatter.Success(newEventList(evs))
	})
}
