package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/hubstore/internal/node"
	"github.com/roach88/hubstore/internal/protocol"
)

// MessageResult is the outcome of merging or revoking one message.
type MessageResult struct {
	Hash    string `json:"hash"`
	Type    string `json:"type"`
	Fid     uint64 `json:"fid"`
	Outcome string `json:"outcome"` // "ok" or the hub error code
	EventID uint64 `json:"event_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ApplyResult holds the per-message outcomes of a merge or revoke run.
type ApplyResult struct {
	Messages []MessageResult `json:"messages"`
	Applied  int             `json:"applied"`
	Rejected int             `json:"rejected"`
}

// RenderText prints one line per message and a summary.
func (r ApplyResult) RenderText(w io.Writer) {
	for _, m := range r.Messages {
		if m.Outcome == "ok" {
			fmt.Fprintf(w, "✓ %s fid=%d %s event=%d\n", m.Type, m.Fid, m.Hash, m.EventID)
			continue
		}
		fmt.Fprintf(w, "✗ %s fid=%d %s %s: %s\n", m.Type, m.Fid, m.Hash, m.Outcome, m.Error)
	}
	fmt.Fprintf(w, "%d applied, %d rejected\n", r.Applied, r.Rejected)
}

type applyFunc func(ctx context.Context, n *node.Node, m *protocol.Message) (*protocol.HubEvent, error)

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	return newApplyCommand(rootOpts, "merge", "Merge messages into the store",
		`Merge every message in a file into its store.

The file holds one or more encoded messages back to back; "-" reads
standard input. Each message is merged independently, and rejected
messages (conflicts, duplicates, prunable) are reported without stopping
the run.

Exit codes:
  0 - All messages merged
  1 - One or more messages rejected
  2 - Command error (unreadable file, database not opened)

Examples:
  hubstore merge --db ./hub.db messages.cbor
  hubstore merge --db ./hub.db - < messages.cbor --format json`,
		func(ctx context.Context, n *node.Node, m *protocol.Message) (*protocol.HubEvent, error) {
			return n.Merge(ctx, m)
		})
}

// NewRevokeCommand creates the revoke command.
func NewRevokeCommand(rootOpts *RootOptions) *cobra.Command {
	return newApplyCommand(rootOpts, "revoke", "Revoke messages from the store",
		`Delete every message in a file from its store, unconditionally,
emitting a revoke event for each.

Example:
  hubstore revoke --db ./hub.db revoked.cbor`,
		func(ctx context.Context, n *node.Node, m *protocol.Message) (*protocol.HubEvent, error) {
			return n.Revoke(ctx, m)
		})
}

func newApplyCommand(rootOpts *RootOptions, use, short, long string, apply applyFunc) *cobra.Command {
	return &cobra.Command{
		Use:           use + " <file>",
		Short:         short,
		Long:          long,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(rootOpts, args[0], apply, cmd)
		},
	}
}

func runApply(opts *RootOptions, path string, apply applyFunc, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	msgs, err := readMessageFile(path, cmd)
	if err != nil {
		if outErr := formatter.Error(errorCode(err), fmt.Sprintf("failed to read %s: %v", path, err), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitCommandError, "failed to read messages", err)
	}
	formatter.VerboseLog("Read %d message(s) from %s", len(msgs), path)

	var result ApplyResult
	err = withNode(cmd, opts, func(ctx context.Context, n *node.Node) error {
		result = applyAll(ctx, n, msgs, apply)
		return nil
	})
	if err != nil {
		return err
	}

	if err := formatter.Success(result); err != nil {
		return err
	}
	if result.Rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d message(s) rejected", result.Rejected))
	}
	return nil
}

func applyAll(ctx context.Context, n *node.Node, msgs []*protocol.Message, apply applyFunc) ApplyResult {
	result := ApplyResult{Messages: make([]MessageResult, 0, len(msgs))}
	for _, m := range msgs {
		r := MessageResult{
			Hash:    protocol.HexHash(m.Hash),
			Type:    m.Type().String(),
			Fid:     m.Fid(),
			Outcome: "ok",
		}
		ev, err := apply(ctx, n, m)
		if err != nil {
			r.Outcome = errorCode(err)
			r.Error = err.Error()
			result.Rejected++
		} else {
			r.EventID = ev.ID
			result.Applied++
		}
		result.Messages = append(result.Messages, r)
	}
	return result
}

func readMessageFile(path string, cmd *cobra.Command) ([]*protocol.Message, error) {
	if path == "-" {
		return protocol.ReadMessages(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return protocol.ReadMessages(f)
}
