package trie

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/metrics"
	"github.com/roach88/hubstore/internal/protocol"
)

// DefaultUnloadThreshold is the number of pending node writes that triggers
// a flush of the batch and an unload of resident nodes.
const DefaultUnloadThreshold = 10_000

// Snapshot summarizes the path to a prefix: for every byte of the prefix,
// the hash and item count of the siblings not on the path, followed by the
// hash of the node at the prefix itself. Prefix is cut short where the trie
// ends.
type Snapshot struct {
	Prefix         []byte
	ExcludedHashes []string
	NumMessages    int
}

// NodeMetadata describes a node and its immediate children.
type NodeMetadata struct {
	Prefix      []byte
	NumMessages int
	Hash        string
	Children    map[byte]NodeMetadata
}

// NodeInfo is a read-only view of one node.
type NodeInfo struct {
	Prefix     []byte
	Items      int
	Hash       []byte
	Key        []byte
	ChildChars []byte
}

// MerkleTrie is a radix trie over byte keys whose node hashes commit to the
// set of keys below them. Nodes are persisted under the SyncMerkleTrieNode
// prefix and loaded lazily.
//
// A single lock guards the root. Every traversal may fault nodes in, so all
// operations except RootHash and Items take it exclusively.
type MerkleTrie struct {
	db *db.DB

	mu              sync.RWMutex
	root            *node
	pending         *db.Batch
	unloadThreshold int

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a MerkleTrie.
type Option func(*MerkleTrie)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *MerkleTrie) { t.logger = l }
}

// WithMetrics sets the metrics bundle.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *MerkleTrie) { t.metrics = m }
}

// WithUnloadThreshold sets how many pending node writes trigger a flush.
func WithUnloadThreshold(n int) Option {
	return func(t *MerkleTrie) {
		if n > 0 {
			t.unloadThreshold = n
		}
	}
}

// New creates a trie stored in d. Initialize must be called before use.
func New(d *db.DB, opts ...Option) *MerkleTrie {
	t := &MerkleTrie{
		db:              d,
		pending:         db.NewBatch(),
		unloadThreshold: DefaultUnloadThreshold,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = metrics.NewUnregistered()
	}
	t.logger = t.logger.With("component", "merkle_trie")
	return t
}

var errNotInitialized = protocol.NewInternalError("merkle trie not initialized")

// Initialize loads the root node from the store, or starts an empty trie.
func (t *MerkleTrie) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadRoot(ctx)
}

// loadRoot replaces the resident root with the one on disk. Callers hold mu.
func (t *MerkleTrie) loadRoot(ctx context.Context) error {
	value, found, err := t.db.Get(ctx, nodeKey(nil))
	if err != nil {
		return fmt.Errorf("load trie root: %w", err)
	}
	if !found {
		t.root = newNode()
		if err := t.root.updateHash(ctx, t.db, nil); err != nil {
			return err
		}
		t.logger.Info("merkle trie initialized with empty root")
		t.metrics.TrieItems.Set(0)
		return nil
	}

	root, err := decodeNode(value)
	if err != nil {
		return err
	}
	t.root = root
	t.logger.Info("merkle trie loaded",
		"root_hash", hex.EncodeToString(root.hash),
		"items", root.items)
	t.metrics.TrieItems.Set(float64(root.items))
	return nil
}

// Insert adds keys and reports, per key, whether it was new.
func (t *MerkleTrie) Insert(ctx context.Context, ks ...[]byte) ([]bool, error) {
	return t.mutate(ctx, ks, func(b *db.Batch, key []byte) (bool, error) {
		return t.root.insert(ctx, t.db, b, key, 0)
	})
}

// Delete removes keys and reports, per key, whether it was present.
func (t *MerkleTrie) Delete(ctx context.Context, ks ...[]byte) ([]bool, error) {
	return t.mutate(ctx, ks, func(b *db.Batch, key []byte) (bool, error) {
		return t.root.delete(ctx, t.db, b, key, 0)
	})
}

func (t *MerkleTrie) mutate(ctx context.Context, ks [][]byte, op func(*db.Batch, []byte) (bool, error)) ([]bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return nil, errNotInitialized
	}

	results := make([]bool, len(ks))
	for i, k := range ks {
		if len(k) < TimestampLength {
			return results, protocol.NewInternalError(
				fmt.Sprintf("key of %d bytes is shorter than the minimum depth %d", len(k), TimestampLength))
		}
		b := db.NewBatch()
		ok, err := op(b, append([]byte(nil), k...))
		if err != nil {
			// The failed key may have left resident nodes half updated.
			if rerr := t.resync(ctx); rerr != nil {
				t.logger.Error("could not resync trie after failed update", "error", rerr)
			}
			return results, err
		}
		results[i] = ok
		t.pending.Merge(b)
	}
	t.metrics.TrieItems.Set(float64(t.root.items))
	return results, t.maybeUnload(ctx, false)
}

// resync flushes the writes of keys that completed and reloads the root, so
// memory matches disk again. If that fails the trie is left uninitialized.
// Callers hold mu.
func (t *MerkleTrie) resync(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	if t.pending.Len() > 0 {
		if err := t.db.Commit(ctx, t.pending); err != nil {
			t.root = nil
			return fmt.Errorf("commit trie nodes: %w", err)
		}
		t.pending = db.NewBatch()
		t.metrics.TrieBatchFlushes.Inc()
	}
	if err := t.loadRoot(ctx); err != nil {
		t.root = nil
		return err
	}
	return nil
}

// maybeUnload commits the pending batch and unloads resident nodes once
// the batch is large enough, or always when force is set. Callers hold mu.
func (t *MerkleTrie) maybeUnload(ctx context.Context, force bool) error {
	if !force && t.pending.Len() <= t.unloadThreshold {
		return nil
	}
	pending := t.pending
	t.pending = db.NewBatch()

	t.logger.Info("unloading trie nodes from memory",
		"force", force, "pending_keys", pending.Len(), "items", t.root.items)
	if pending.Len() > 0 {
		if err := t.db.Commit(ctx, pending); err != nil {
			t.pending.Merge(pending)
			return fmt.Errorf("commit trie nodes: %w", err)
		}
	}
	t.metrics.TrieBatchFlushes.Inc()
	t.root.unloadChildren()
	return nil
}

// Exists reports whether key is in the trie.
func (t *MerkleTrie) Exists(ctx context.Context, key []byte) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return false, errNotInitialized
	}
	ok, err := t.root.exists(ctx, t.db, key, 0)
	if err != nil {
		return false, err
	}
	return ok, t.maybeUnload(ctx, false)
}

// Items returns the number of keys in the trie.
func (t *MerkleTrie) Items() (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.root == nil {
		return 0, errNotInitialized
	}
	return t.root.items, nil
}

// RootHash returns the hash of the root node.
func (t *MerkleTrie) RootHash() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.root == nil {
		return nil, errNotInitialized
	}
	return append([]byte(nil), t.root.hash...), nil
}

// GetNode returns the node at prefix, or nil when there is none.
func (t *MerkleTrie) GetNode(ctx context.Context, prefix []byte) (*NodeInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return nil, errNotInitialized
	}
	n, err := t.root.find(ctx, t.db, prefix, 0)
	if err != nil || n == nil {
		return nil, err
	}
	info := &NodeInfo{
		Prefix:     append([]byte(nil), prefix...),
		Items:      n.items,
		Hash:       append([]byte(nil), n.hash...),
		Key:        append([]byte(nil), n.key...),
		ChildChars: n.sortedChars(),
	}
	return info, t.maybeUnload(ctx, false)
}

// GetAllValues returns the keys under prefix in key order. Traversal stops
// soon after MaxValuesReturnedPerCall keys.
func (t *MerkleTrie) GetAllValues(ctx context.Context, prefix []byte) ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return nil, errNotInitialized
	}
	n, err := t.root.find(ctx, t.db, prefix, 0)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return [][]byte{}, nil
	}
	values, err := n.allValues(ctx, t.db, prefix, make([][]byte, 0))
	if err != nil {
		return nil, err
	}
	return values, t.maybeUnload(ctx, false)
}

// GetSnapshot returns the snapshot of prefix.
func (t *MerkleTrie) GetSnapshot(ctx context.Context, prefix []byte) (*Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return nil, errNotInitialized
	}

	snap := &Snapshot{ExcludedHashes: make([]string, 0, len(prefix)+1)}
	current := t.root
	for i, c := range prefix {
		at := prefix[:i]
		items, hash, err := current.excludedHash(ctx, t.db, at, c)
		if err != nil {
			return nil, err
		}
		snap.ExcludedHashes = append(snap.ExcludedHashes, hash)
		snap.NumMessages += items

		if _, ok := current.children[c]; !ok {
			snap.Prefix = append([]byte(nil), at...)
			return snap, t.maybeUnload(ctx, false)
		}
		if current, err = current.loadChild(ctx, t.db, at, c); err != nil {
			return nil, err
		}
	}
	snap.ExcludedHashes = append(snap.ExcludedHashes, hex.EncodeToString(current.hash))
	snap.Prefix = append([]byte(nil), prefix...)
	return snap, t.maybeUnload(ctx, false)
}

// GetTrieNodeMetadata returns the node at prefix with its children. It
// fails with not_found when no such node exists.
func (t *MerkleTrie) GetTrieNodeMetadata(ctx context.Context, prefix []byte) (*NodeMetadata, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return nil, errNotInitialized
	}
	n, err := t.root.find(ctx, t.db, prefix, 0)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, protocol.NewNotFoundError(fmt.Sprintf("trie node %x not found", prefix))
	}

	md := &NodeMetadata{
		Prefix:      append([]byte(nil), prefix...),
		NumMessages: n.items,
		Hash:        hex.EncodeToString(n.hash),
		Children:    make(map[byte]NodeMetadata, len(n.children)),
	}
	for _, c := range n.sortedChars() {
		next, err := n.loadChild(ctx, t.db, prefix, c)
		if err != nil {
			return nil, err
		}
		md.Children[c] = NodeMetadata{
			Prefix:      childPrefix(prefix, c),
			NumMessages: next.items,
			Hash:        hex.EncodeToString(next.hash),
		}
	}
	return md, t.maybeUnload(ctx, false)
}

// Commit writes every pending node and unloads resident nodes.
func (t *MerkleTrie) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return errNotInitialized
	}
	return t.maybeUnload(ctx, true)
}

// Clear drops pending writes, deletes every stored node and resets the
// trie to empty.
func (t *MerkleTrie) Clear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending.Reset()
	n, err := t.db.DeletePrefix(ctx, []byte{byte(keys.RootPrefixSyncMerkleTrieNode)})
	if err != nil {
		return fmt.Errorf("clear trie: %w", err)
	}
	t.root = newNode()
	if err := t.root.updateHash(ctx, t.db, nil); err != nil {
		return err
	}
	t.metrics.TrieItems.Set(0)
	t.logger.Info("cleared merkle trie", "deleted_nodes", n)
	return nil
}

// Stop flushes pending writes and releases the root. The trie must be
// initialized again before further use.
func (t *MerkleTrie) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return nil
	}
	if err := t.maybeUnload(ctx, true); err != nil {
		return err
	}
	t.root = nil
	return nil
}

// ApplyEvent mirrors the primary keys a committed event added or removed.
// It is meant to be subscribed to the event handler. Failures are logged and
// counted.
func (t *MerkleTrie) ApplyEvent(ev *protocol.HubEvent) {
	ctx := context.Background()
	var added, removed []*protocol.Message
	switch {
	case ev.MergeMessageBody != nil:
		added = append(added, ev.MergeMessageBody.Message)
		removed = append(removed, ev.MergeMessageBody.DeletedMessages...)
	case ev.PruneMessageBody != nil:
		removed = append(removed, ev.PruneMessageBody.Message)
	case ev.RevokeMessageBody != nil:
		removed = append(removed, ev.RevokeMessageBody.Message)
	case ev.MergeUsernameProofBody != nil:
		if m := ev.MergeUsernameProofBody.UsernameProofMessage; m != nil {
			added = append(added, m)
		}
		if m := ev.MergeUsernameProofBody.DeletedUsernameProofMessage; m != nil {
			removed = append(removed, m)
		}
	}

	if ks := t.primaryKeys(removed); len(ks) > 0 {
		if _, err := t.Delete(ctx, ks...); err != nil {
			t.metrics.TrieApplyErrors.Inc()
			t.logger.Error("could not delete keys from trie", "event_id", ev.ID, "error", err)
		}
	}
	if ks := t.primaryKeys(added); len(ks) > 0 {
		if _, err := t.Insert(ctx, ks...); err != nil {
			t.metrics.TrieApplyErrors.Inc()
			t.logger.Error("could not insert keys into trie", "event_id", ev.ID, "error", err)
		}
	}
}

func (t *MerkleTrie) primaryKeys(msgs []*protocol.Message) [][]byte {
	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		k, err := keys.PrimaryKeyOf(m)
		if err != nil {
			t.logger.Warn("skipping message without primary key", "error", err)
			continue
		}
		out = append(out, k)
	}
	return out
}
