package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/hubstore/internal/node"
	"github.com/roach88/hubstore/internal/protocol"
)

// TrieRoot reports the trie's root hash and size.
type TrieRoot struct {
	RootHash string `json:"root_hash"`
	Items    int    `json:"items"`
}

// RenderText prints the root.
func (r TrieRoot) RenderText(w io.Writer) {
	fmt.Fprintf(w, "root %s (%d items)\n", r.RootHash, r.Items)
}

// TrieSnapshot is the sync snapshot of a prefix.
type TrieSnapshot struct {
	Prefix         string   `json:"prefix"`
	ExcludedHashes []string `json:"excluded_hashes"`
	NumMessages    int      `json:"num_messages"`
}

// RenderText prints one excluded hash per level.
func (s TrieSnapshot) RenderText(w io.Writer) {
	fmt.Fprintf(w, "prefix %q, %d message(s) outside it\n", s.Prefix, s.NumMessages)
	for i, h := range s.ExcludedHashes {
		fmt.Fprintf(w, "  %2d %s\n", i, h)
	}
}

// TrieNode describes a node and its children.
type TrieNode struct {
	Prefix      string     `json:"prefix"`
	NumMessages int        `json:"num_messages"`
	Hash        string     `json:"hash"`
	Children    []TrieNode `json:"children,omitempty"`
}

// RenderText prints the node and its children.
func (n TrieNode) RenderText(w io.Writer) {
	fmt.Fprintf(w, "%q items=%d hash=%s\n", n.Prefix, n.NumMessages, n.Hash)
	for _, c := range n.Children {
		fmt.Fprintf(w, "  %q items=%d hash=%s\n", c.Prefix, c.NumMessages, c.Hash)
	}
}

// TrieValues lists keys under a prefix.
type TrieValues struct {
	Prefix string   `json:"prefix"`
	Keys   []string `json:"keys"`
}

// RenderText prints one key per line.
func (v TrieValues) RenderText(w io.Writer) {
	for _, k := range v.Keys {
		fmt.Fprintln(w, k)
	}
	fmt.Fprintf(w, "%d key(s)\n", len(v.Keys))
}

// TrieExists reports whether a key is in the trie.
type TrieExists struct {
	Key    string `json:"key"`
	Exists bool   `json:"exists"`
}

// RenderText prints the answer.
func (e TrieExists) RenderText(w io.Writer) {
	fmt.Fprintf(w, "%s exists=%t\n", e.Key, e.Exists)
}

// NewTrieCommand creates the trie command and its subcommands.
func NewTrieCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trie",
		Short: "Inspect the sync trie",
		Long: `Inspect the Merkle trie that mirrors the stored messages.

Prefixes and keys are hex, with or without 0x; an empty prefix is the root.

Examples:
  hubstore trie root
  hubstore trie snapshot 0x0100000001
  hubstore trie metadata 01
  hubstore trie values 0x01
  hubstore trie exists 0x0100000001...`,
	}

	cmd.AddCommand(newTrieSubcommand(rootOpts, "root", "Print the root hash and item count", cobra.NoArgs,
		func(ctx context.Context, n *node.Node, _ []byte) (any, error) {
			hash, err := n.Trie().RootHash()
			if err != nil {
				return nil, err
			}
			items, err := n.Trie().Items()
			if err != nil {
				return nil, err
			}
			return TrieRoot{RootHash: hex.EncodeToString(hash), Items: items}, nil
		}))

	cmd.AddCommand(newTrieSubcommand(rootOpts, "snapshot [prefix]", "Print the excluded hashes of a prefix", cobra.MaximumNArgs(1),
		func(ctx context.Context, n *node.Node, prefix []byte) (any, error) {
			snap, err := n.Trie().GetSnapshot(ctx, prefix)
			if err != nil {
				return nil, err
			}
			return TrieSnapshot{
				Prefix:         hex.EncodeToString(snap.Prefix),
				ExcludedHashes: snap.ExcludedHashes,
				NumMessages:    snap.NumMessages,
			}, nil
		}))

	cmd.AddCommand(newTrieSubcommand(rootOpts, "metadata [prefix]", "Print a node and its children", cobra.MaximumNArgs(1),
		func(ctx context.Context, n *node.Node, prefix []byte) (any, error) {
			md, err := n.Trie().GetTrieNodeMetadata(ctx, prefix)
			if err != nil {
				return nil, err
			}
			out := TrieNode{Prefix: hex.EncodeToString(md.Prefix), NumMessages: md.NumMessages, Hash: md.Hash}
			chars := make([]int, 0, len(md.Children))
			for c := range md.Children {
				chars = append(chars, int(c))
			}
			sort.Ints(chars)
			for _, c := range chars {
				child := md.Children[byte(c)]
				out.Children = append(out.Children, TrieNode{
					Prefix:      hex.EncodeToString(child.Prefix),
					NumMessages: child.NumMessages,
					Hash:        child.Hash,
				})
			}
			return out, nil
		}))

	cmd.AddCommand(newTrieSubcommand(rootOpts, "values [prefix]", "List the keys under a prefix", cobra.MaximumNArgs(1),
		func(ctx context.Context, n *node.Node, prefix []byte) (any, error) {
			values, err := n.Trie().GetAllValues(ctx, prefix)
			if err != nil {
				return nil, err
			}
			out := TrieValues{Prefix: hex.EncodeToString(prefix), Keys: make([]string, 0, len(values))}
			for _, v := range values {
				out.Keys = append(out.Keys, hex.EncodeToString(v))
			}
			return out, nil
		}))

	cmd.AddCommand(newTrieSubcommand(rootOpts, "exists <key>", "Check whether a key is in the trie", cobra.ExactArgs(1),
		func(ctx context.Context, n *node.Node, key []byte) (any, error) {
			ok, err := n.Trie().Exists(ctx, key)
			if err != nil {
				return nil, err
			}
			return TrieExists{Key: hex.EncodeToString(key), Exists: ok}, nil
		}))

	return cmd
}

type trieQuery func(ctx context.Context, n *node.Node, arg []byte) (any, error)

func newTrieSubcommand(rootOpts *RootOptions, use, short string, args cobra.PositionalArgs, query trieQuery) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          args,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			var arg []byte
			if len(args) == 1 {
				b, err := protocol.ParseHexHash(args[0])
				if err != nil {
					return commandError(formatter, "invalid hex argument",
						protocol.NewInvalidParamError(err.Error()))
				}
				arg = b
			}

			return withNode(cmd, rootOpts, func(ctx context.Context, n *node.Node) error {
				out, err := query(ctx, n, arg)
				if err != nil {
					return commandError(formatter, cmd.Name()+" failed", err)
				}
				return formatter.Success(out)
			})
		},
	}
}
