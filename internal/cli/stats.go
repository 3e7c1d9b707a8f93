package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/hubstore/internal/metrics"
	"github.com/roach88/hubstore/internal/node"
)

// StatsReport lists the gathered metric series.
type StatsReport struct {
	Metrics []metrics.Sample `json:"metrics"`
}

// RenderText prints one series per line.
func (r StatsReport) RenderText(w io.Writer) {
	for _, s := range r.Metrics {
		fmt.Fprintf(w, "%s %g\n", s.Name, s.Value)
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print store metrics",
		Long: `Open the store and print its metric series: trie size, events
committed and cache scans performed while opening.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			return withNode(cmd, rootOpts, func(ctx context.Context, n *node.Node) error {
				samples, err := metrics.Gather(n.Registry())
				if err != nil {
					return commandError(formatter, "failed to gather metrics", err)
				}
				return formatter.Success(StatsReport{Metrics: samples})
			})
		},
	}
}
