package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/events"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/metrics"
	"github.com/roach88/hubstore/internal/protocol"
)

// DefaultLockCount is the number of per-fid merge lock shards.
const DefaultLockCount = 4

// UnitsFunc returns the storage units held by a fid.
type UnitsFunc func(fid uint64) uint32

// Store is the CRDT engine for one message class.
type Store struct {
	db     *db.DB
	events *events.Handler
	policy Policy

	locks   []sync.Mutex
	logger  *slog.Logger
	metrics *metrics.Metrics

	cache *StorageCache
	units UnitsFunc
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics bundle.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLockCount sets the number of per-fid lock shards.
func WithLockCount(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.locks = make([]sync.Mutex, n)
		}
	}
}

// WithStorageCache enables the prunability check on merge. units reports
// how many storage units a fid holds.
func WithStorageCache(c *StorageCache, units UnitsFunc) Option {
	return func(s *Store) {
		s.cache = c
		s.units = units
	}
}

// New creates a Store applying p on top of d, committing through h.
func New(d *db.DB, h *events.Handler, p Policy, opts ...Option) *Store {
	s := &Store{
		db:     d,
		events: h,
		policy: p,
		locks:  make([]sync.Mutex, DefaultLockCount),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewUnregistered()
	}
	s.logger = s.logger.With("store", p.Name())
	return s
}

// Policy returns the class rules of the store.
func (s *Store) Policy() Policy { return s.policy }

// Name returns the class name.
func (s *Store) Name() string { return s.policy.Name() }

// Postfix returns the primary record postfix of the class.
func (s *Store) Postfix() keys.UserPostfix { return s.policy.Postfix() }

// DB returns the underlying store.
func (s *Store) DB() *db.DB { return s.db }

func (s *Store) lockFor(fid uint64) *sync.Mutex {
	return &s.locks[fid%uint64(len(s.locks))]
}

// Merge applies m to the class state and returns the committed event.
// Messages that lose to existing state fail with a conflict or duplicate
// error and write nothing.
func (s *Store) Merge(ctx context.Context, m *protocol.Message) (ev *protocol.HubEvent, err error) {
	defer func() { s.countMerge(err) }()

	if m == nil || m.Data == nil {
		return nil, protocol.NewValidationError("message data is missing")
	}
	// fids above MaxFid would share key space with a smaller fid
	if err := keys.ValidateFid(m.Data.Fid); err != nil {
		return nil, err
	}
	tsHash, err := keys.TsHashOf(m)
	if err != nil {
		return nil, err
	}

	isAdd := s.policy.IsAddType(m)
	isRemove := s.policy.RemoveTypeSupported() && s.policy.IsRemoveType(m)
	if isAdd == isRemove {
		return nil, protocol.NewValidationError("invalid message type")
	}

	// Everything below reads and writes fid state, so it runs under the fid's
	// shard lock until the event commits.
	mu := s.lockFor(m.Data.Fid)
	mu.Lock()
	defer mu.Unlock()

	// Reject up front what the next prune would delete anyway.
	if s.cache != nil && s.units != nil {
		prunable, err := s.isPrunable(ctx, m, tsHash, s.units(m.Data.Fid))
		if err != nil {
			return nil, err
		}
		if prunable {
			return nil, protocol.NewPrunableError("message would be pruned")
		}
	}

	// Losing to stored state returns here. A winning message lists the
	// messages it displaces.
	conflicts, err := s.mergeConflicts(ctx, m, tsHash)
	if err != nil {
		return nil, err
	}

	// Deletions and the insert share one batch, committed with the event.
	b := db.NewBatch()
	for _, c := range conflicts {
		if err := s.deleteTransaction(ctx, b, c); err != nil {
			return nil, err
		}
	}
	if isAdd {
		err = s.putAddTransaction(b, tsHash, m)
	} else {
		err = s.putRemoveTransaction(b, tsHash, m)
	}
	if err != nil {
		return nil, err
	}

	ev = s.mergeEvent(m, conflicts)
	if _, err := s.events.CommitTransaction(ctx, b, ev); err != nil {
		return nil, err
	}
	s.logger.Info("merged message",
		"fid", m.Data.Fid,
		"type", m.Data.Type.String(),
		"hash", protocol.HexHash(m.Hash),
		"event_id", ev.ID,
		"deleted", len(conflicts))
	return ev, nil
}

func (s *Store) countMerge(err error) {
	outcome := "merged"
	if err != nil {
		outcome = string(protocol.CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	s.metrics.MessagesMerged.WithLabelValues(s.policy.Name(), outcome).Inc()
}

func (s *Store) mergeConflicts(ctx context.Context, m *protocol.Message, tsHash []byte) ([]*protocol.Message, error) {
	if f, ok := s.policy.(mergeConflictFinder); ok {
		return f.MergeConflicts(ctx, s, m, tsHash)
	}
	return s.defaultMergeConflicts(ctx, m, tsHash)
}

// defaultMergeConflicts runs the policy pre-checks and then compares m with
// the current remove and add pointers of its collision key. Existing
// messages that lose to m are returned for deletion.
func (s *Store) defaultMergeConflicts(ctx context.Context, m *protocol.Message, tsHash []byte) ([]*protocol.Message, error) {
	var err error
	if s.policy.IsAddType(m) {
		err = s.policy.FindMergeAddConflicts(ctx, s.db, m)
	} else {
		err = s.policy.FindMergeRemoveConflicts(ctx, s.db, m)
	}
	if err != nil {
		return nil, err
	}

	var conflicts []*protocol.Message

	if s.policy.RemoveTypeSupported() {
		removeKey, err := s.policy.MakeRemoveKey(m)
		if err != nil {
			return nil, err
		}
		existing, err := s.checkPointer(ctx, m, tsHash, removeKey, s.policy.RemoveMessageType(), "remove")
		if err != nil {
			return nil, err
		}
		if existing != nil {
			conflicts = append(conflicts, existing)
		}
	}

	addKey, err := s.policy.MakeAddKey(m)
	if err != nil {
		return nil, err
	}
	existing, err := s.checkPointer(ctx, m, tsHash, addKey, s.policy.AddMessageType(), "add")
	if err != nil {
		return nil, err
	}
	if existing != nil {
		conflicts = append(conflicts, existing)
	}
	return conflicts, nil
}

// checkPointer compares m with the message the pointer at key refers to.
// It returns that message when m wins, and a typed error when m loses or is
// the same message.
func (s *Store) checkPointer(
	ctx context.Context,
	m *protocol.Message,
	tsHash, key []byte,
	existingType protocol.MessageType,
	kind string,
) (*protocol.Message, error) {
	existingTsHash, found, err := s.db.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s pointer: %w", kind, err)
	}
	if !found {
		return nil, nil
	}
	return s.resolveAgainst(ctx, m, tsHash, m.Data.Fid, existingType, existingTsHash, kind, protocol.NewDuplicateError)
}

// resolveAgainst applies MessageCompare between an existing message of fid
// and m. sameErr builds the error returned when both order equally.
func (s *Store) resolveAgainst(
	ctx context.Context,
	m *protocol.Message,
	tsHash []byte,
	fid uint64,
	existingType protocol.MessageType,
	existingTsHash []byte,
	kind string,
	sameErr func(string) *protocol.HubError,
) (*protocol.Message, error) {
	if len(existingTsHash) != keys.TsHashLength {
		return nil, protocol.NewInternalError(fmt.Sprintf("corrupt %s pointer", kind))
	}
	cmp := s.policy.MessageCompare(existingType, existingTsHash, m.Data.Type, tsHash)
	if cmp > 0 {
		return nil, protocol.NewConflictError("message conflicts with a more recent " + kind)
	}
	if cmp == 0 {
		return nil, sameErr("message has already been merged")
	}

	existing, err := getMessage(ctx, s.db, fid, s.policy.Postfix(), existingTsHash)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		s.logger.Warn("pointer without message", "fid", fid, "kind", kind)
	}
	return existing, nil
}

func (s *Store) putAddTransaction(b *db.Batch, tsHash []byte, m *protocol.Message) error {
	if err := putMessage(b, s.policy.Postfix(), tsHash, m); err != nil {
		return err
	}
	addKey, err := s.policy.MakeAddKey(m)
	if err != nil {
		return err
	}
	b.Put(addKey, tsHash)
	return s.policy.BuildSecondaryIndices(b, tsHash, m)
}

func (s *Store) putRemoveTransaction(b *db.Batch, tsHash []byte, m *protocol.Message) error {
	if err := putMessage(b, s.policy.Postfix(), tsHash, m); err != nil {
		return err
	}
	removeKey, err := s.policy.MakeRemoveKey(m)
	if err != nil {
		return err
	}
	b.Put(removeKey, tsHash)
	return nil
}

// deleteTransaction stages the full deletion of m. The pointer and the
// secondary indices are only removed while the pointer still refers to m;
// otherwise they belong to another message.
func (s *Store) deleteTransaction(ctx context.Context, b *db.Batch, m *protocol.Message) error {
	tsHash, err := keys.TsHashOf(m)
	if err != nil {
		return err
	}

	isAdd := s.policy.IsAddType(m)
	var pointer []byte
	switch {
	case isAdd:
		pointer, err = s.policy.MakeAddKey(m)
	case s.policy.RemoveTypeSupported() && s.policy.IsRemoveType(m):
		pointer, err = s.policy.MakeRemoveKey(m)
	default:
		return protocol.NewInvalidParamError("invalid message type")
	}
	if err != nil {
		return err
	}

	// A newer message may already own this pointer, e.g. when a remove
	// replaced the add being deleted. Only the owner's pointer and indices
	// go; the message row itself is always removed.
	current, found, err := s.db.Get(ctx, pointer)
	if err != nil {
		return fmt.Errorf("read pointer: %w", err)
	}
	if found && bytes.Equal(current, tsHash) {
		if isAdd {
			if err := s.policy.DeleteSecondaryIndices(b, tsHash, m); err != nil {
				return err
			}
		}
		b.Delete(pointer)
	} else if found {
		s.logger.Warn("pointer refers to another message",
			"fid", m.Data.Fid, "hash", protocol.HexHash(m.Hash))
	}

	deleteMessage(b, s.policy.Postfix(), tsHash, m)
	return nil
}

// Revoke deletes m unconditionally and emits a revoke event.
func (s *Store) Revoke(ctx context.Context, m *protocol.Message) (*protocol.HubEvent, error) {
	if m == nil || m.Data == nil {
		return nil, protocol.NewValidationError("message data is missing")
	}
	if err := keys.ValidateFid(m.Data.Fid); err != nil {
		return nil, err
	}
	if !s.policy.IsAddType(m) && !(s.policy.RemoveTypeSupported() && s.policy.IsRemoveType(m)) {
		return nil, protocol.NewInvalidParamError("invalid message type")
	}

	mu := s.lockFor(m.Data.Fid)
	mu.Lock()
	defer mu.Unlock()

	b := db.NewBatch()
	if err := s.deleteTransaction(ctx, b, m); err != nil {
		return nil, err
	}
	ev := s.revokeEvent(m)
	if _, err := s.events.CommitTransaction(ctx, b, ev); err != nil {
		return nil, err
	}
	s.metrics.MessagesRevoked.WithLabelValues(s.policy.Name()).Inc()
	s.logger.Info("revoked message",
		"fid", m.Data.Fid, "hash", protocol.HexHash(m.Hash), "event_id", ev.ID)
	return ev, nil
}

// PruneMessages deletes the oldest messages of fid, one transaction each,
// until no more than PruneSizeLimit*units remain. cachedCount is the number
// of messages the caller believes fid holds.
func (s *Store) PruneMessages(ctx context.Context, fid uint64, cachedCount uint64, units uint32) ([]*protocol.HubEvent, error) {
	if err := keys.ValidateFid(fid); err != nil {
		return nil, err
	}
	limit := uint64(s.policy.PruneSizeLimit()) * uint64(units)
	pruned := make([]*protocol.HubEvent, 0)
	if cachedCount <= limit {
		return pruned, nil
	}

	mu := s.lockFor(fid)
	mu.Lock()
	defer mu.Unlock()

	// Rows are visited oldest first because tsHash sorts by timestamp. Each
	// deletion commits on its own so a failure keeps earlier prunes.
	count := cachedCount
	prefix := keys.MakeMessagePrimaryKey(fid, s.policy.Postfix(), nil)
	_, err := s.db.ForEachByPrefixUnbounded(ctx, prefix, db.PageOptions{}, func(key, value []byte) (bool, error) {
		if count <= limit {
			return true, nil
		}
		m, err := protocol.DecodeMessage(value)
		if err != nil {
			s.logger.Warn("skipping undecodable message", "fid", fid, "error", err)
			return false, nil
		}
		if !s.policy.IsAddType(m) && !(s.policy.RemoveTypeSupported() && s.policy.IsRemoveType(m)) {
			return false, nil
		}

		b := db.NewBatch()
		if err := s.deleteTransaction(ctx, b, m); err != nil {
			return false, err
		}
		ev := s.pruneEvent(m)
		if _, err := s.events.CommitTransaction(ctx, b, ev); err != nil {
			return false, err
		}
		s.metrics.MessagesPruned.WithLabelValues(s.policy.Name()).Inc()
		pruned = append(pruned, ev)
		count--
		return false, nil
	})
	if err != nil {
		return pruned, fmt.Errorf("prune fid %d: %w", fid, err)
	}
	if len(pruned) > 0 {
		s.logger.Info("pruned messages", "fid", fid, "count", len(pruned), "limit", limit)
	}
	return pruned, nil
}

// IsPrunable reports whether m would be pruned right after merging: the fid
// is at its limit and m is older than its earliest stored message. Without
// a storage cache nothing is prunable.
func (s *Store) IsPrunable(ctx context.Context, m *protocol.Message, units uint32) (bool, error) {
	tsHash, err := keys.TsHashOf(m)
	if err != nil {
		return false, err
	}
	return s.isPrunable(ctx, m, tsHash, units)
}

func (s *Store) isPrunable(ctx context.Context, m *protocol.Message, tsHash []byte, units uint32) (bool, error) {
	if s.cache == nil {
		return false, nil
	}
	fid := m.Data.Fid
	count, err := s.cache.GetMessageCount(ctx, fid, s.policy.Postfix())
	if err != nil {
		return false, err
	}
	if count < uint64(s.policy.PruneSizeLimit())*uint64(units) {
		return false, nil
	}
	earliest, err := s.cache.GetEarliestTsHash(ctx, fid, s.policy.Postfix())
	if err != nil {
		return false, err
	}
	if earliest == nil {
		return false, nil
	}
	return bytes.Compare(tsHash, earliest) < 0, nil
}

// GetAdd returns the add message winning the collision key of partial, or
// nil when there is none.
func (s *Store) GetAdd(ctx context.Context, partial *protocol.Message) (*protocol.Message, error) {
	if err := keys.ValidateFid(partial.Fid()); err != nil {
		return nil, err
	}
	key, err := s.policy.MakeAddKey(partial)
	if err != nil {
		return nil, err
	}
	return s.getByPointer(ctx, partial.Fid(), key)
}

// GetRemove returns the remove message winning the collision key of
// partial, or nil when there is none.
func (s *Store) GetRemove(ctx context.Context, partial *protocol.Message) (*protocol.Message, error) {
	if !s.policy.RemoveTypeSupported() {
		return nil, protocol.NewInvalidParamError(fmt.Sprintf("%s store does not support removes", s.policy.Name()))
	}
	if err := keys.ValidateFid(partial.Fid()); err != nil {
		return nil, err
	}
	key, err := s.policy.MakeRemoveKey(partial)
	if err != nil {
		return nil, err
	}
	return s.getByPointer(ctx, partial.Fid(), key)
}

func (s *Store) getByPointer(ctx context.Context, fid uint64, key []byte) (*protocol.Message, error) {
	if err := keys.ValidateFid(fid); err != nil {
		return nil, err
	}
	tsHash, found, err := s.db.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read pointer: %w", err)
	}
	if !found {
		return nil, nil
	}
	return getMessage(ctx, s.db, fid, s.policy.Postfix(), tsHash)
}

// GetAddsByFid pages through the add messages of fid in tsHash order.
// filter, when set, further restricts the result.
func (s *Store) GetAddsByFid(ctx context.Context, fid uint64, opts db.PageOptions, filter func(*protocol.Message) bool) (*MessagesPage, error) {
	return s.pageByFid(ctx, fid, opts, func(m *protocol.Message) bool {
		return s.policy.IsAddType(m) && (filter == nil || filter(m))
	})
}

// GetRemovesByFid pages through the remove messages of fid.
func (s *Store) GetRemovesByFid(ctx context.Context, fid uint64, opts db.PageOptions, filter func(*protocol.Message) bool) (*MessagesPage, error) {
	if !s.policy.RemoveTypeSupported() {
		return nil, protocol.NewInvalidParamError(fmt.Sprintf("%s store does not support removes", s.policy.Name()))
	}
	return s.pageByFid(ctx, fid, opts, func(m *protocol.Message) bool {
		return s.policy.IsRemoveType(m) && (filter == nil || filter(m))
	})
}

// GetAllMessagesByFid pages through every message of the class for fid.
func (s *Store) GetAllMessagesByFid(ctx context.Context, fid uint64, opts db.PageOptions) (*MessagesPage, error) {
	return s.pageByFid(ctx, fid, opts, nil)
}

func (s *Store) pageByFid(ctx context.Context, fid uint64, opts db.PageOptions, keep func(*protocol.Message) bool) (*MessagesPage, error) {
	if err := keys.ValidateFid(fid); err != nil {
		return nil, err
	}
	prefix := keys.MakeMessagePrimaryKey(fid, s.policy.Postfix(), nil)
	page, err := collectPage(ctx, s.db, prefix, opts, func(_, value []byte) (*protocol.Message, error) {
		m, err := protocol.DecodeMessage(value)
		if err != nil {
			return nil, err
		}
		if keep != nil && !keep(m) {
			return nil, nil
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s messages of fid %d: %w", s.policy.Name(), fid, err)
	}
	return page, nil
}

// GetMessagesBySigner pages through the messages of the class that fid
// stored under signer.
func (s *Store) GetMessagesBySigner(ctx context.Context, fid uint64, signer []byte, opts db.PageOptions) (*MessagesPage, error) {
	if err := keys.ValidateFid(fid); err != nil {
		return nil, err
	}
	prefix := keys.MakeBySignerKey(fid, signer, s.policy.Postfix(), nil)
	page, err := collectPage(ctx, s.db, prefix, opts, func(key, _ []byte) (*protocol.Message, error) {
		if len(key) != len(prefix)+keys.TsHashLength {
			return nil, nil
		}
		return getMessage(ctx, s.db, fid, s.policy.Postfix(), key[len(prefix):])
	})
	if err != nil {
		return nil, fmt.Errorf("list messages by signer: %w", err)
	}
	return page, nil
}

// RevokeMessagesBySigner revokes every message of the class that fid stored
// under signer, one event per message.
func (s *Store) RevokeMessagesBySigner(ctx context.Context, fid uint64, signer []byte) ([]*protocol.HubEvent, error) {
	var toRevoke []*protocol.Message
	opts := db.PageOptions{PageSize: db.PageSizeMax}
	for {
		page, err := s.GetMessagesBySigner(ctx, fid, signer, opts)
		if err != nil {
			return nil, err
		}
		toRevoke = append(toRevoke, page.Messages...)
		if page.NextPageToken == nil {
			break
		}
		opts.PageToken = page.NextPageToken
	}

	revoked := make([]*protocol.HubEvent, 0, len(toRevoke))
	for _, m := range toRevoke {
		ev, err := s.Revoke(ctx, m)
		if err != nil {
			return revoked, err
		}
		revoked = append(revoked, ev)
	}
	return revoked, nil
}

func (s *Store) mergeEvent(m *protocol.Message, deleted []*protocol.Message) *protocol.HubEvent {
	if eb, ok := s.policy.(eventBuilder); ok {
		return eb.MergeEvent(m, deleted)
	}
	return &protocol.HubEvent{
		Type: protocol.HubEventTypeMergeMessage,
		MergeMessageBody: &protocol.MergeMessageBody{
			Message:         m,
			DeletedMessages: deleted,
		},
	}
}

func (s *Store) revokeEvent(m *protocol.Message) *protocol.HubEvent {
	if eb, ok := s.policy.(eventBuilder); ok {
		return eb.RevokeEvent(m)
	}
	return &protocol.HubEvent{
		Type:              protocol.HubEventTypeRevokeMessage,
		RevokeMessageBody: &protocol.RevokeMessageBody{Message: m},
	}
}

func (s *Store) pruneEvent(m *protocol.Message) *protocol.HubEvent {
	if eb, ok := s.policy.(eventBuilder); ok {
		return eb.PruneEvent(m)
	}
	return &protocol.HubEvent{
		Type:             protocol.HubEventTypePruneMessage,
		PruneMessageBody: &protocol.PruneMessageBody{Message: m},
	}
}
