package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/metrics"
	"github.com/roach88/hubstore/internal/protocol"
)

// DefaultScanLockCount is the number of scan lock shards of a StorageCache.
const DefaultScanLockCount = 5

// DefaultStorageCacheSize bounds the entries of each StorageCache map.
const DefaultStorageCacheSize = 100_000

// earliestEntry is the cached earliest tsHash of a (fid, postfix). A nil
// tsHash records that the set is empty.
type earliestEntry struct {
	tsHash []byte
}

// StorageCache caches, per (fid, postfix), the earliest stored tsHash and
// the number of stored messages. Misses are filled by a database scan; at
// most one scan per lock shard runs at a time.
//
// Earliest values are adjusted in place by ProcessEvent. Counts are dropped
// on every event touching their set and recounted on the next read, so a
// count filled by a scan racing with a commit is never adjusted twice.
type StorageCache struct {
	db        *db.DB
	earliest  *lru.Cache[string, earliestEntry]
	counts    *lru.Cache[string, uint64]
	scanLocks []sync.Mutex

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// CacheOption configures a StorageCache.
type CacheOption func(*StorageCache)

// WithCacheLogger sets the logger.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *StorageCache) { c.logger = l }
}

// WithCacheMetrics sets the metrics bundle.
func WithCacheMetrics(m *metrics.Metrics) CacheOption {
	return func(c *StorageCache) { c.metrics = m }
}

// WithScanLocks sets the number of scan lock shards.
func WithScanLocks(n int) CacheOption {
	return func(c *StorageCache) {
		if n > 0 {
			c.scanLocks = make([]sync.Mutex, n)
		}
	}
}

// NewStorageCache creates a cache over d holding at most size entries per
// map.
func NewStorageCache(d *db.DB, size int, opts ...CacheOption) (*StorageCache, error) {
	if size <= 0 {
		size = DefaultStorageCacheSize
	}
	earliest, err := lru.New[string, earliestEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create earliest cache: %w", err)
	}
	counts, err := lru.New[string, uint64](size)
	if err != nil {
		return nil, fmt.Errorf("create count cache: %w", err)
	}
	c := &StorageCache{
		db:        d,
		earliest:  earliest,
		counts:    counts,
		scanLocks: make([]sync.Mutex, DefaultScanLockCount),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewUnregistered()
	}
	c.logger = c.logger.With("component", "storage_cache")
	return c, nil
}

func cacheKey(fid uint64, postfix keys.UserPostfix) string {
	return string(keys.MakeMessagePrimaryKey(fid, postfix, nil))
}

func (c *StorageCache) scanLock(fid uint64) *sync.Mutex {
	return &c.scanLocks[fid%uint64(len(c.scanLocks))]
}

// GetEarliestTsHash returns the smallest tsHash stored for (fid, postfix),
// or nil when the set is empty.
func (c *StorageCache) GetEarliestTsHash(ctx context.Context, fid uint64, postfix keys.UserPostfix) ([]byte, error) {
	key := cacheKey(fid, postfix)
	if e, ok := c.earliest.Get(key); ok {
		return e.tsHash, nil
	}

	mu := c.scanLock(fid)
	mu.Lock()
	defer mu.Unlock()

	if e, ok := c.earliest.Get(key); ok {
		return e.tsHash, nil
	}

	var earliest []byte
	prefix := []byte(key)
	_, err := c.db.ForEachByPrefix(ctx, prefix, db.PageOptions{PageSize: 1}, func(k, _ []byte) (bool, error) {
		if len(k) == keys.PrimaryKeyLength {
			earliest = append([]byte(nil), k[len(prefix):]...)
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan earliest message: %w", err)
	}
	c.metrics.CacheScans.WithLabelValues("earliest").Inc()
	c.earliest.Add(key, earliestEntry{tsHash: earliest})
	return earliest, nil
}

// GetMessageCount returns the number of messages stored for (fid,
// postfix).
func (c *StorageCache) GetMessageCount(ctx context.Context, fid uint64, postfix keys.UserPostfix) (uint64, error) {
	key := cacheKey(fid, postfix)
	if n, ok := c.counts.Get(key); ok {
		return n, nil
	}

	mu := c.scanLock(fid)
	mu.Lock()
	defer mu.Unlock()

	if n, ok := c.counts.Get(key); ok {
		return n, nil
	}
	n, err := c.db.CountKeysAtPrefix(ctx, []byte(key))
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	c.metrics.CacheScans.WithLabelValues("count").Inc()
	c.counts.Add(key, n)
	return n, nil
}

// ProcessEvent folds a committed event into the cache. It is meant to be
// subscribed to the event handler.
func (c *StorageCache) ProcessEvent(ev *protocol.HubEvent) {
	switch {
	case ev.MergeMessageBody != nil:
		c.addMessage(ev.MergeMessageBody.Message)
		for _, m := range ev.MergeMessageBody.DeletedMessages {
			c.removeMessage(m)
		}
	case ev.PruneMessageBody != nil:
		c.removeMessage(ev.PruneMessageBody.Message)
	case ev.RevokeMessageBody != nil:
		c.removeMessage(ev.RevokeMessageBody.Message)
	case ev.MergeUsernameProofBody != nil:
		if m := ev.MergeUsernameProofBody.UsernameProofMessage; m != nil {
			c.addMessage(m)
		}
		if m := ev.MergeUsernameProofBody.DeletedUsernameProofMessage; m != nil {
			c.removeMessage(m)
		}
	}
}

// setOf resolves the cache key and tsHash of m. ok is false for messages
// that do not belong to a stored set.
func (c *StorageCache) setOf(m *protocol.Message) (fid uint64, key string, tsHash []byte, ok bool) {
	if m == nil || m.Data == nil {
		return 0, "", nil, false
	}
	postfix, err := keys.TypeToSetPostfix(m.Data.Type)
	if err != nil {
		return 0, "", nil, false
	}
	tsHash, err = keys.TsHashOf(m)
	if err != nil {
		c.logger.Error("could not make ts hash", "fid", m.Data.Fid, "error", err)
		return 0, "", nil, false
	}
	return m.Data.Fid, cacheKey(m.Data.Fid, postfix), tsHash, true
}

func (c *StorageCache) addMessage(m *protocol.Message) {
	fid, key, tsHash, ok := c.setOf(m)
	if !ok {
		return
	}
	mu := c.scanLock(fid)
	mu.Lock()
	defer mu.Unlock()

	c.counts.Remove(key)
	if e, ok := c.earliest.Peek(key); ok && (e.tsHash == nil || bytes.Compare(tsHash, e.tsHash) < 0) {
		c.earliest.Add(key, earliestEntry{tsHash: tsHash})
	}
}

func (c *StorageCache) removeMessage(m *protocol.Message) {
	fid, key, tsHash, ok := c.setOf(m)
	if !ok {
		return
	}
	mu := c.scanLock(fid)
	mu.Lock()
	defer mu.Unlock()

	c.counts.Remove(key)
	if e, ok := c.earliest.Peek(key); ok && e.tsHash != nil && bytes.Compare(tsHash, e.tsHash) <= 0 {
		c.earliest.Remove(key)
	}
}

// ClearCache drops every cached value.
func (c *StorageCache) ClearCache() {
	c.earliest.Purge()
	c.counts.Purge()
}
