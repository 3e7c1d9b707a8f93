// Package node wires the message stores, the event log, the storage cache
// and the merkle trie into one handle over a database.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/hubstore/internal/config"
	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/events"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/metrics"
	"github.com/roach88/hubstore/internal/protocol"
	"github.com/roach88/hubstore/internal/store"
	"github.com/roach88/hubstore/internal/trie"
)

// Node owns every component of a running hub store.
type Node struct {
	cfg    config.Config
	db     *db.DB
	trieDB *db.DB

	handler *events.Handler
	cache   *store.StorageCache
	trie    *trie.MerkleTrie

	Casts          *store.CastStore
	Links          *store.LinkStore
	Reactions      *store.ReactionStore
	Verifications  *store.VerificationStore
	UserData       *store.UserDataStore
	UsernameProofs *store.UsernameProofStore

	byPostfix map[keys.UserPostfix]*store.Store
	byName    map[string]*store.Store
	ordered   []*store.Store

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	units    store.UnitsFunc
	clock    events.Clock
	logger   *slog.Logger
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithRegistry registers the metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(n *Node) { n.registry = reg }
}

// WithClock sets the clock used for event ids.
func WithClock(c events.Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithUnits sets the storage-unit source. By default every fid holds
// cfg.StorageUnits.
func WithUnits(f store.UnitsFunc) Option {
	return func(n *Node) { n.units = f }
}

// Open opens the databases named by cfg and starts every component. The
// storage cache and the trie are subscribed to the event log before any
// store can commit.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (_ *Node, err error) {
	n := &Node{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	if n.registry == nil {
		n.registry = prometheus.NewRegistry()
	}
	if n.units == nil {
		units := cfg.StorageUnits
		n.units = func(uint64) uint32 { return units }
	}
	n.metrics = metrics.New(n.registry)

	if n.db, err = db.Open(cfg.DBPath); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			n.closeDBs()
		}
	}()
	n.trieDB = n.db
	if cfg.TriePath() != cfg.DBPath {
		if n.trieDB, err = db.Open(cfg.TriePath()); err != nil {
			return nil, err
		}
	}

	handlerOpts := []events.HandlerOption{
		events.WithEpoch(cfg.EventEpochMs),
		events.WithLogger(n.logger),
		events.WithMetrics(n.metrics),
	}
	if n.clock != nil {
		handlerOpts = append(handlerOpts, events.WithClock(n.clock))
	}
	if n.handler, err = events.NewHandler(ctx, n.db, handlerOpts...); err != nil {
		return nil, err
	}

	n.cache, err = store.NewStorageCache(n.db, cfg.StorageCacheSize,
		store.WithCacheLogger(n.logger),
		store.WithCacheMetrics(n.metrics),
		store.WithScanLocks(cfg.CacheScanLocks))
	if err != nil {
		return nil, err
	}

	n.trie = trie.New(n.trieDB,
		trie.WithLogger(n.logger),
		trie.WithMetrics(n.metrics),
		trie.WithUnloadThreshold(cfg.TrieUnloadThreshold))
	if err = n.trie.Initialize(ctx); err != nil {
		return nil, err
	}

	n.handler.Subscribe(n.cache.ProcessEvent)
	n.handler.Subscribe(n.trie.ApplyEvent)

	storeOpts := []store.Option{
		store.WithLogger(n.logger),
		store.WithMetrics(n.metrics),
		store.WithLockCount(cfg.MergeLocks),
		store.WithStorageCache(n.cache, n.units),
	}
	limits := cfg.PruneLimits
	n.Casts = store.NewCastStore(n.db, n.handler, limits.Casts, storeOpts...)
	n.Links = store.NewLinkStore(n.db, n.handler, limits.Links, storeOpts...)
	n.Reactions = store.NewReactionStore(n.db, n.handler, limits.Reactions, storeOpts...)
	n.Verifications = store.NewVerificationStore(n.db, n.handler, limits.Verifications, storeOpts...)
	n.UserData = store.NewUserDataStore(n.db, n.handler, limits.UserData, storeOpts...)
	n.UsernameProofs = store.NewUsernameProofStore(n.db, n.handler, limits.UsernameProofs, storeOpts...)

	n.ordered = []*store.Store{
		n.Casts.Store,
		n.Links.Store,
		n.Reactions.Store,
		n.Verifications.Store,
		n.UserData.Store,
		n.UsernameProofs.Store,
	}
	n.byPostfix = make(map[keys.UserPostfix]*store.Store, len(n.ordered))
	n.byName = make(map[string]*store.Store, len(n.ordered))
	for _, s := range n.ordered {
		n.byPostfix[s.Postfix()] = s
		n.byName[s.Name()] = s
	}

	n.logger.Info("node opened",
		"db", cfg.DBPath,
		"trie_db", cfg.TriePath(),
		"merge_locks", cfg.MergeLocks)
	return n, nil
}

// Config returns the configuration the node was opened with.
func (n *Node) Config() config.Config { return n.cfg }

// Events returns the event log.
func (n *Node) Events() *events.Handler { return n.handler }

// Trie returns the merkle trie.
func (n *Node) Trie() *trie.MerkleTrie { return n.trie }

// Cache returns the storage cache.
func (n *Node) Cache() *store.StorageCache { return n.cache }

// Registry returns the registry holding the node's metrics.
func (n *Node) Registry() *prometheus.Registry { return n.registry }

// Stores returns every store in a fixed order.
func (n *Node) Stores() []*store.Store { return n.ordered }

// StoreFor returns the store holding messages of type t.
func (n *Node) StoreFor(t protocol.MessageType) (*store.Store, error) {
	postfix, err := keys.TypeToSetPostfix(t)
	if err != nil {
		return nil, err
	}
	s, ok := n.byPostfix[postfix]
	if !ok {
		return nil, protocol.NewInvalidParamError(fmt.Sprintf("no store for message type %s", t))
	}
	return s, nil
}

// StoreForClass returns the store named class (cast, link, reaction,
// verification, user_data, username_proof).
func (n *Node) StoreForClass(class string) (*store.Store, error) {
	s, ok := n.byName[class]
	if !ok {
		return nil, protocol.NewInvalidParamError(fmt.Sprintf("unknown store %q", class))
	}
	return s, nil
}

// Merge routes m to its store.
func (n *Node) Merge(ctx context.Context, m *protocol.Message) (*protocol.HubEvent, error) {
	s, err := n.StoreFor(m.Type())
	if err != nil {
		return nil, err
	}
	return s.Merge(ctx, m)
}

// Revoke routes m to its store.
func (n *Node) Revoke(ctx context.Context, m *protocol.Message) (*protocol.HubEvent, error) {
	s, err := n.StoreFor(m.Type())
	if err != nil {
		return nil, err
	}
	return s.Revoke(ctx, m)
}

// Prune trims the messages fid holds in class down to its limit. A zero
// units uses the configured storage-unit source.
func (n *Node) Prune(ctx context.Context, fid uint64, class string, units uint32) ([]*protocol.HubEvent, error) {
	s, err := n.StoreForClass(class)
	if err != nil {
		return nil, err
	}
	return n.prune(ctx, s, fid, units)
}

// PruneAll prunes fid in every store.
func (n *Node) PruneAll(ctx context.Context, fid uint64, units uint32) ([]*protocol.HubEvent, error) {
	var all []*protocol.HubEvent
	for _, s := range n.ordered {
		evs, err := n.prune(ctx, s, fid, units)
		all = append(all, evs...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

func (n *Node) prune(ctx context.Context, s *store.Store, fid uint64, units uint32) ([]*protocol.HubEvent, error) {
	if units == 0 {
		units = n.units(fid)
	}
	count, err := n.cache.GetMessageCount(ctx, fid, s.Postfix())
	if err != nil {
		return nil, err
	}
	return s.PruneMessages(ctx, fid, count, units)
}

// RevokeMessagesBySigner revokes every message of fid signed by signer, in
// every store.
func (n *Node) RevokeMessagesBySigner(ctx context.Context, fid uint64, signer []byte) ([]*protocol.HubEvent, error) {
	var all []*protocol.HubEvent
	for _, s := range n.ordered {
		evs, err := s.RevokeMessagesBySigner(ctx, fid, signer)
		all = append(all, evs...)
		if err != nil {
			return all, err
		}
	}
	if len(all) > 0 {
		n.logger.Info("revoked messages by signer", "fid", fid, "count", len(all))
	}
	return all, nil
}

// Close flushes the trie and closes the databases.
func (n *Node) Close(ctx context.Context) error {
	var errs []error
	if n.trie != nil {
		if err := n.trie.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop trie: %w", err))
		}
	}
	errs = append(errs, n.closeDBs())
	return errors.Join(errs...)
}

func (n *Node) closeDBs() error {
	var errs []error
	if n.trieDB != nil && n.trieDB != n.db {
		errs = append(errs, n.trieDB.Close())
	}
	if n.db != nil {
		errs = append(errs, n.db.Close())
	}
	return errors.Join(errs...)
}
