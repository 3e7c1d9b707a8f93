package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/hubstore/internal/node"
)

// MigrationSummary reports what migrate-verifications repaired.
type MigrationSummary struct {
	Verifications int `json:"verifications"`
	Duplicates    int `json:"duplicates"`
}

// RenderText prints the counts.
func (s MigrationSummary) RenderText(w io.Writer) {
	fmt.Fprintf(w, "checked %d verification(s), removed %d duplicate(s)\n", s.Verifications, s.Duplicates)
}

// NewMigrateVerificationsCommand creates the migrate-verifications command.
func NewMigrateVerificationsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-verifications",
		Short: "Rebuild the verification by-address index",
		Long: `Rebuild the by-address index from the stored verification adds.

When two fids hold a verification for the same address, the older one is
deleted and a revoke event is emitted for it. Run once after upgrading a
store written before address uniqueness was enforced.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			return withNode(cmd, rootOpts, func(ctx context.Context, n *node.Node) error {
				res, err := n.Verifications.MigrateVerifications(ctx)
				if err != nil {
					return commandError(formatter, "migration failed", err)
				}
				return formatter.Success(MigrationSummary{
					Verifications: res.Verifications,
					Duplicates:    res.Duplicates,
				})
			})
		},
	}
}
