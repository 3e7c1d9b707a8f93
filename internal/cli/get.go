package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/node"
	"github.com/roach88/hubstore/internal/protocol"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Fid       uint64
	PageSize  int
	PageToken string
	Reverse   bool
}

// MessageList is one page of stored messages.
type MessageList struct {
	Class         string           `json:"class"`
	Fid           uint64           `json:"fid"`
	Messages      []map[string]any `json:"messages"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

// RenderText prints one line per message.
func (l MessageList) RenderText(w io.Writer) {
	for _, m := range l.Messages {
		fmt.Fprintf(w, "%v %v ts=%v %v\n", m["type"], m["hash"], m["timestamp"], describe(m))
	}
	fmt.Fprintf(w, "%d %s message(s) for fid %d\n", len(l.Messages), l.Class, l.Fid)
	if l.NextPageToken != "" {
		fmt.Fprintf(w, "next page: --page-token %s\n", l.NextPageToken)
	}
}

// describe picks the body fields of a summarized message.
func describe(m map[string]any) string {
	for _, k := range []string{"text", "target_hash", "target_url", "target_fid", "address", "value", "name"} {
		if v, ok := m[k]; ok {
			return fmt.Sprintf("%s=%v", k, v)
		}
	}
	return ""
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <class>",
		Short: "List the messages a fid holds in a store",
		Long: `List the stored messages of one fid in one store, oldest first.

Classes: cast, link, reaction, verification, user_data, username_proof.

Examples:
  hubstore get cast --fid 42
  hubstore get link --fid 42 --page-size 100 --reverse`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, args[0], cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.Fid, "fid", 0, "fid to list (required)")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "maximum messages to return (default all, up to 10000)")
	cmd.Flags().StringVar(&opts.PageToken, "page-token", "", "token from a previous page")
	cmd.Flags().BoolVar(&opts.Reverse, "reverse", false, "newest first")
	_ = cmd.MarkFlagRequired("fid")

	return cmd
}

func runGet(opts *GetOptions, class string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	pageOpts := db.PageOptions{PageSize: opts.PageSize, Reverse: opts.Reverse}
	if opts.PageToken != "" {
		token, err := hex.DecodeString(opts.PageToken)
		if err != nil {
			return commandError(formatter, "invalid page token",
				protocol.NewInvalidParamError(err.Error()))
		}
		pageOpts.PageToken = token
	}

	return withNode(cmd, opts.RootOptions, func(ctx context.Context, n *node.Node) error {
		s, err := n.StoreForClass(class)
		if err != nil {
			return commandError(formatter, "unknown class", err)
		}
		page, err := s.GetAllMessagesByFid(ctx, opts.Fid, pageOpts)
		if err != nil {
			return commandError(formatter, "failed to list messages", err)
		}

		list := MessageList{Class: class, Fid: opts.Fid, Messages: make([]map[string]any, 0, len(page.Messages))}
		for _, m := range page.Messages {
			list.Messages = append(list.Messages, protocol.Summarize(m))
		}
		if page.NextPageToken != nil {
			list.NextPageToken = hex.EncodeToString(page.NextPageToken)
		}
		return formatter.Success(list)
	})
}
