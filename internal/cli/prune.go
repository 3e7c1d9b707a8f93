package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/hubstore/internal/node"
	"github.com/roach88/hubstore/internal/protocol"
)

// PruneOptions holds flags for the prune command.
type PruneOptions struct {
	*RootOptions
	Fid   uint64
	Class string
	Units uint32
}

// EventList holds summarized events.
type EventList struct {
	Events []map[string]any `json:"events"`
}

func newEventList(evs []*protocol.HubEvent) EventList {
	out := EventList{Events: make([]map[string]any, 0, len(evs))}
	for _, ev := range evs {
		out.Events = append(out.Events, protocol.SummarizeEvent(ev))
	}
	return out
}

// RenderText prints one line per event.
func (l EventList) RenderText(w io.Writer) {
	for _, ev := range l.Events {
		line := fmt.Sprintf("%v %v", ev["id"], ev["type"])
		if m, ok := ev["message"].(map[string]any); ok {
			line += fmt.Sprintf(" %v fid=%v %v", m["type"], m["fid"], m["hash"])
		}
		if deleted, ok := ev["deleted"].([]any); ok && len(deleted) > 0 {
			line += fmt.Sprintf(" deleted=%d", len(deleted))
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%d event(s)\n", len(l.Events))
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PruneOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune a fid down to its storage limits",
		Long: `Delete the oldest messages of a fid until each store is within its
limit (prune limit x storage units), emitting a prune event per message.

Without --class every store is pruned. Without --units the configured
storage_units is used.

Examples:
  hubstore prune --fid 42
  hubstore prune --fid 42 --class cast --units 2`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(opts, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.Fid, "fid", 0, "fid to prune (required)")
	cmd.Flags().StringVar(&opts.Class, "class", "", "store to prune (default all)")
	cmd.Flags().Uint32Var(&opts.Units, "units", 0, "storage units of the fid (default from config)")
	_ = cmd.MarkFlagRequired("fid")

	return cmd
}

func runPrune(opts *PruneOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	return withNode(cmd, opts.RootOptions, func(ctx context.Context, n *node.Node) error {
		var (
			evs []*protocol.HubEvent
			err error
		)
		if opts.Class == "" {
			evs, err = n.PruneAll(ctx, opts.Fid, opts.Units)
		} else {
			evs, err = n.Prune(ctx, opts.Fid, opts.Class, opts.Units)
		}
		if err != nil {
			return commandError(formatter, "prune failed", err)
		}
		formatter.VerboseLog("Pruned %d message(s) of fid %d", len(evs), opts.Fid)
		return formatter.Success(newEventList(evs))
	})
}
