package store

import (
	"context"
	"fmt"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/events"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/protocol"
)

type castPolicy struct {
	basePolicy
}

func newCastPolicy(pruneLimit uint32) *castPolicy {
	return &castPolicy{basePolicy{
		name:       "cast",
		postfix:    keys.UserPostfixCastMessage,
		addType:    protocol.MessageTypeCastAdd,
		removeType: protocol.MessageTypeCastRemove,
		pruneLimit: pruneLimit,
	}}
}

func (p *castPolicy) IsAddType(m *protocol.Message) bool {
	return signedWith(m, protocol.MessageTypeCastAdd) && m.Data.CastAddBody != nil
}

func (p *castPolicy) IsRemoveType(m *protocol.Message) bool {
	return signedWith(m, protocol.MessageTypeCastRemove) && m.Data.CastRemoveBody != nil
}

// castHash returns the hash of the cast m adds or removes.
func castHash(m *protocol.Message) ([]byte, error) {
	if m == nil || m.Data == nil {
		return nil, protocol.NewValidationError("message data is missing")
	}
	var h []byte
	if m.Data.CastRemoveBody != nil {
		h = m.Data.CastRemoveBody.TargetHash
	} else {
		h = m.Hash
	}
	if len(h) == 0 {
		return nil, protocol.NewValidationError("cast hash is missing")
	}
	return h, nil
}

func (p *castPolicy) MakeAddKey(m *protocol.Message) ([]byte, error) {
	h, err := castHash(m)
	if err != nil {
		return nil, err
	}
	return keys.MakeCastAddsKey(m.Data.Fid, h), nil
}

func (p *castPolicy) MakeRemoveKey(m *protocol.Message) ([]byte, error) {
	h, err := castHash(m)
	if err != nil {
		return nil, err
	}
	return keys.MakeCastRemovesKey(m.Data.Fid, h), nil
}

// MessageCompare lets a remove beat an add regardless of timestamps, then
// falls back to timestamp and hash.
func (p *castPolicy) MessageCompare(aType protocol.MessageType, aTsHash []byte, bType protocol.MessageType, bTsHash []byte) int {
	switch {
	case aType == protocol.MessageTypeCastRemove && bType == protocol.MessageTypeCastAdd:
		return 1
	case aType == protocol.MessageTypeCastAdd && bType == protocol.MessageTypeCastRemove:
		return -1
	}
	return p.basePolicy.MessageCompare(aType, aTsHash, bType, bTsHash)
}

// FindMergeAddConflicts rejects adds of a cast that was already removed or
// added.
func (p *castPolicy) FindMergeAddConflicts(ctx context.Context, d *db.DB, m *protocol.Message) error {
	removeKey, err := p.MakeRemoveKey(m)
	if err != nil {
		return err
	}
	_, found, err := d.Get(ctx, removeKey)
	if err != nil {
		return fmt.Errorf("read cast remove: %w", err)
	}
	if found {
		return protocol.NewConflictError("message conflicts with a CastRemove")
	}

	addKey, err := p.MakeAddKey(m)
	if err != nil {
		return err
	}
	_, found, err = d.Get(ctx, addKey)
	if err != nil {
		return fmt.Errorf("read cast add: %w", err)
	}
	if found {
		return protocol.NewDuplicateError("message has already been merged")
	}
	return nil
}

func (p *castPolicy) castIndexKeys(tsHash []byte, m *protocol.Message) ([][]byte, error) {
	body := m.Data.CastAddBody
	if body == nil {
		return nil, protocol.NewValidationError("cast add body is missing")
	}
	var out [][]byte
	if body.ParentCastID != nil || body.ParentURL != "" {
		parent, err := keys.MakeCastParentKey(body.ParentCastID, body.ParentURL)
		if err != nil {
			return nil, err
		}
		out = append(out, keys.MakeCastsByParentKey(parent, m.Data.Fid, tsHash))
	}
	seen := make(map[uint64]bool, len(body.Mentions))
	for _, mention := range body.Mentions {
		if seen[mention] {
			continue
		}
		if mention == 0 || mention > keys.MaxFid {
			return nil, protocol.NewValidationError(fmt.Sprintf("mention fid %d is out of range", mention))
		}
		seen[mention] = true
		out = append(out, keys.MakeCastsByMentionKey(mention, m.Data.Fid, tsHash))
	}
	return out, nil
}

func (p *castPolicy) BuildSecondaryIndices(b *db.Batch, tsHash []byte, m *protocol.Message) error {
	indexKeys, err := p.castIndexKeys(tsHash, m)
	if err != nil {
		return err
	}
	for _, k := range indexKeys {
		b.Put(k, keys.TrueValue)
	}
	return nil
}

func (p *castPolicy) DeleteSecondaryIndices(b *db.Batch, tsHash []byte, m *protocol.Message) error {
	indexKeys, err := p.castIndexKeys(tsHash, m)
	if err != nil {
		return err
	}
	for _, k := range indexKeys {
		b.Delete(k)
	}
	return nil
}

// CastStore holds casts. Removes always win over adds of the same cast.
type CastStore struct {
	*Store
}

// NewCastStore creates the cast store.
func NewCastStore(d *db.DB, h *events.Handler, pruneLimit uint32, opts ...Option) *CastStore {
	return &CastStore{New(d, h, newCastPolicy(pruneLimit), opts...)}
}

// GetCastAdd returns the CastAdd of fid with the given hash.
func (s *CastStore) GetCastAdd(ctx context.Context, fid uint64, hash []byte) (*protocol.Message, error) {
	m, err := s.getByPointer(ctx, fid, keys.MakeCastAddsKey(fid, hash))
	return orNotFound(m, err, "cast add")
}

// GetCastRemove returns the CastRemove of fid targeting hash.
func (s *CastStore) GetCastRemove(ctx context.Context, fid uint64, hash []byte) (*protocol.Message, error) {
	m, err := s.getByPointer(ctx, fid, keys.MakeCastRemovesKey(fid, hash))
	return orNotFound(m, err, "cast remove")
}

// GetCastAddsByFid pages through the casts of fid.
func (s *CastStore) GetCastAddsByFid(ctx context.Context, fid uint64, opts db.PageOptions) (*MessagesPage, error) {
	return s.GetAddsByFid(ctx, fid, opts, nil)
}

// GetCastRemovesByFid pages through the cast removes of fid.
func (s *CastStore) GetCastRemovesByFid(ctx context.Context, fid uint64, opts db.PageOptions) (*MessagesPage, error) {
	return s.GetRemovesByFid(ctx, fid, opts, nil)
}

// GetCastsByParent pages through replies to a cast or a URL.
func (s *CastStore) GetCastsByParent(ctx context.Context, parentCastID *protocol.CastID, parentURL string, opts db.PageOptions) (*MessagesPage, error) {
	parent, err := keys.MakeCastParentKey(parentCastID, parentURL)
	if err != nil {
		return nil, err
	}
	prefix := keys.MakeCastsByParentKey(parent, 0, nil)
	return collectIndexPage(ctx, s.db, prefix, s.Postfix(), opts, nil)
}

// GetCastsByMention pages through casts mentioning fid.
func (s *CastStore) GetCastsByMention(ctx context.Context, mentionFid uint64, opts db.PageOptions) (*MessagesPage, error) {
	if err := keys.ValidateFid(mentionFid); err != nil {
		return nil, err
	}
	prefix := keys.MakeCastsByMentionKey(mentionFid, 0, nil)
	return collectIndexPage(ctx, s.db, prefix, s.Postfix(), opts, nil)
}

// orNotFound converts an absent message into a not_found error.
func orNotFound(m *protocol.Message, err error, what string) (*protocol.Message, error) {
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, protocol.NewNotFoundError(what + " not found")
	}
	return m, nil
}
