package trie

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/protocol"
)

// TimestampLength is the depth above which nodes are never compacted. The
// first bytes of a key stay one node per byte so that snapshots of two
// tries line up prefix by prefix.
const TimestampLength = 10

// MaxValuesReturnedPerCall bounds GetAllValues.
const MaxValuesReturnedPerCall = 1024

// dbNode is the persisted form of a node. Children are stored by their
// branch byte only and faulted in on demand.
type dbNode struct {
	Key        []byte `cbor:"1,keyasint,omitempty"`
	ChildChars []byte `cbor:"2,keyasint,omitempty"`
	Items      uint32 `cbor:"3,keyasint"`
	Hash       []byte `cbor:"4,keyasint"`
}

// child is either a resident node or a placeholder for one that lives in
// the store. A placeholder may carry the node's hash so parents can rehash
// without loading it.
type child struct {
	node *node
	hash []byte
}

type node struct {
	hash     []byte
	items    int
	children map[byte]*child
	key      []byte
}

func newNode() *node {
	return &node{children: make(map[byte]*child)}
}

func (n *node) isLeaf() bool { return len(n.children) == 0 }

func (n *node) sortedChars() []byte {
	chars := make([]byte, 0, len(n.children))
	for c := range n.children {
		chars = append(chars, c)
	}
	sort.Slice(chars, func(i, j int) bool { return chars[i] < chars[j] })
	return chars
}

func nodeKey(prefix []byte) []byte {
	return keys.MakeTrieNodeKey(prefix)
}

func childPrefix(prefix []byte, c byte) []byte {
	out := make([]byte, 0, len(prefix)+1)
	out = append(out, prefix...)
	return append(out, c)
}

func encodeNode(n *node) ([]byte, error) {
	rec := dbNode{
		Key:        n.key,
		ChildChars: n.sortedChars(),
		Items:      uint32(n.items),
		Hash:       n.hash,
	}
	b, err := protocol.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode trie node: %w", err)
	}
	return b, nil
}

func decodeNode(b []byte) (*node, error) {
	var rec dbNode
	if err := protocol.Unmarshal(b, &rec); err != nil {
		return nil, protocol.NewInternalError(fmt.Sprintf("could not decode trie node: %v", err))
	}
	n := newNode()
	n.hash = rec.Hash
	n.items = int(rec.Items)
	if len(rec.Key) > 0 {
		n.key = rec.Key
	}
	for _, c := range rec.ChildChars {
		n.children[c] = &child{}
	}
	return n, nil
}

// loadChild returns the resident node for branch c, reading it from the
// store when only a placeholder is held. A placeholder without a stored
// node yields an empty node.
func (n *node) loadChild(ctx context.Context, d *db.DB, prefix []byte, c byte) (*node, error) {
	ch, ok := n.children[c]
	if !ok {
		return nil, protocol.NewInternalError(fmt.Sprintf("child %d at prefix %x not found", c, prefix))
	}
	if ch.node != nil {
		return ch.node, nil
	}
	value, found, err := d.Get(ctx, nodeKey(childPrefix(prefix, c)))
	if err != nil {
		return nil, fmt.Errorf("load trie node: %w", err)
	}
	loaded := newNode()
	if found {
		if loaded, err = decodeNode(value); err != nil {
			return nil, err
		}
	}
	ch.node = loaded
	ch.hash = nil
	return loaded, nil
}

func (n *node) put(b *db.Batch, prefix []byte) error {
	v, err := encodeNode(n)
	if err != nil {
		return err
	}
	b.Put(nodeKey(prefix), v)
	return nil
}

func (n *node) updateHash(ctx context.Context, d *db.DB, prefix []byte) error {
	if n.isLeaf() {
		n.hash = protocol.Blake3_20(n.key)
		return nil
	}
	var concat []byte
	for _, c := range n.sortedChars() {
		ch := n.children[c]
		switch {
		case ch.node != nil:
			concat = append(concat, ch.node.hash...)
		case len(ch.hash) > 0:
			concat = append(concat, ch.hash...)
		default:
			loaded, err := n.loadChild(ctx, d, prefix, c)
			if err != nil {
				return err
			}
			concat = append(concat, loaded.hash...)
		}
	}
	n.hash = protocol.Blake3_20(concat)
	return nil
}

// insert adds key below n, which sits at depth idx. It reports false when
// the key is already present.
func (n *node) insert(ctx context.Context, d *db.DB, b *db.Batch, key []byte, idx int) (bool, error) {
	prefix := key[:idx]

	if idx >= TimestampLength && n.isLeaf() {
		if n.key == nil {
			n.key = key
			n.items++
			if err := n.updateHash(ctx, d, prefix); err != nil {
				return false, err
			}
			return true, n.put(b, prefix)
		}
		if bytes.Equal(n.key, key) {
			return false, nil
		}
		if err := n.splitLeaf(ctx, d, b, idx); err != nil {
			return false, err
		}
	}

	if idx >= len(key) {
		return false, protocol.NewInternalError("key length exceeded")
	}
	c := key[idx]
	_, existed := n.children[c]
	if !existed {
		n.children[c] = &child{node: newNode()}
	}
	next, err := n.loadChild(ctx, d, prefix, c)
	if err != nil {
		return false, err
	}
	inserted, err := next.insert(ctx, d, b, key, idx+1)
	if err != nil || !inserted {
		if !existed {
			delete(n.children, c)
		}
		return false, err
	}

	n.items++
	if err := n.updateHash(ctx, d, prefix); err != nil {
		return false, err
	}
	return true, n.put(b, prefix)
}

// splitLeaf turns a leaf holding a key into an internal node with a single
// child holding that key one level down.
func (n *node) splitLeaf(ctx context.Context, d *db.DB, b *db.Batch, idx int) error {
	existing := n.key
	if idx >= len(existing) {
		return protocol.NewInternalError("key length exceeded")
	}
	n.key = nil
	c := existing[idx]
	next := newNode()
	n.children[c] = &child{node: next}
	if _, err := next.insert(ctx, d, b, existing, idx+1); err != nil {
		return err
	}
	prefix := existing[:idx]
	if err := n.updateHash(ctx, d, prefix); err != nil {
		return err
	}
	return n.put(b, prefix)
}

// delete removes key below n. Emptied children are dropped, and a node past
// TimestampLength left with a single leaf child absorbs that child's key, so
// the result hashes like a trie that never held the removed key.
func (n *node) delete(ctx context.Context, d *db.DB, b *db.Batch, key []byte, idx int) (bool, error) {
	prefix := key[:idx]

	if n.isLeaf() {
		if n.key == nil || !bytes.Equal(n.key, key) {
			return false, nil
		}
		n.key = nil
		n.items--
		b.Delete(nodeKey(prefix))
		return true, n.updateHash(ctx, d, prefix)
	}

	if idx >= len(key) {
		return false, protocol.NewInternalError("key length exceeded")
	}
	c := key[idx]
	if _, ok := n.children[c]; !ok {
		return false, nil
	}
	next, err := n.loadChild(ctx, d, prefix, c)
	if err != nil {
		return false, err
	}
	deleted, err := next.delete(ctx, d, b, key, idx+1)
	if err != nil {
		return false, err
	}
	if next.items == 0 {
		delete(n.children, c)
	}
	if !deleted {
		return false, nil
	}

	n.items--
	if n.items == 0 {
		b.Delete(nodeKey(prefix))
		return true, n.updateHash(ctx, d, prefix)
	}

	if n.items == 1 && len(n.children) == 1 && idx >= TimestampLength {
		only := n.sortedChars()[0]
		sole, err := n.loadChild(ctx, d, prefix, only)
		if err != nil {
			return false, err
		}
		if sole.key != nil {
			n.key = sole.key
			delete(n.children, only)
			b.Delete(nodeKey(childPrefix(prefix, only)))
		}
	}

	if err := n.updateHash(ctx, d, prefix); err != nil {
		return false, err
	}
	return true, n.put(b, prefix)
}

func (n *node) exists(ctx context.Context, d *db.DB, key []byte, idx int) (bool, error) {
	if n.isLeaf() {
		return n.key != nil && bytes.Equal(n.key, key), nil
	}
	if idx >= len(key) {
		return false, nil
	}
	c := key[idx]
	if _, ok := n.children[c]; !ok {
		return false, nil
	}
	next, err := n.loadChild(ctx, d, key[:idx], c)
	if err != nil {
		return false, err
	}
	return next.exists(ctx, d, key, idx+1)
}

// find walks to the node at prefix, or returns nil.
func (n *node) find(ctx context.Context, d *db.DB, prefix []byte, idx int) (*node, error) {
	if idx == len(prefix) {
		return n, nil
	}
	c := prefix[idx]
	if _, ok := n.children[c]; !ok {
		return nil, nil
	}
	next, err := n.loadChild(ctx, d, prefix[:idx], c)
	if err != nil {
		return nil, err
	}
	return next.find(ctx, d, prefix, idx+1)
}

func (n *node) allValues(ctx context.Context, d *db.DB, prefix []byte, out [][]byte) ([][]byte, error) {
	if n.isLeaf() {
		if n.key != nil {
			out = append(out, n.key)
		}
		return out, nil
	}
	for _, c := range n.sortedChars() {
		next, err := n.loadChild(ctx, d, prefix, c)
		if err != nil {
			return nil, err
		}
		if out, err = next.allValues(ctx, d, childPrefix(prefix, c), out); err != nil {
			return nil, err
		}
		if len(out) > MaxValuesReturnedPerCall {
			break
		}
	}
	return out, nil
}

// excludedHash hashes every child of n except branch skip and counts their
// items.
func (n *node) excludedHash(ctx context.Context, d *db.DB, prefix []byte, skip byte) (int, string, error) {
	var (
		items  int
		concat []byte
	)
	for _, c := range n.sortedChars() {
		if c == skip {
			continue
		}
		next, err := n.loadChild(ctx, d, prefix, c)
		if err != nil {
			return 0, "", err
		}
		concat = append(concat, next.hash...)
		items += next.items
	}
	return items, hex.EncodeToString(protocol.Blake3_20(concat)), nil
}

// unloadChildren drops resident children back to placeholders that keep
// their hash.
func (n *node) unloadChildren() {
	for c, ch := range n.children {
		if ch.node != nil {
			n.children[c] = &child{hash: ch.node.hash}
		}
	}
}
